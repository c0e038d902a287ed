// Package scoring maps a target and a selected color to a perceptual distance and
// a round score. Everything here is pure.
package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	// NoSelection is submitted on behalf of a player whose turn timed out.
	NoSelection = "none"

	MaxDistance = 100.0
	MaxScore    = 1000
)

// Distance returns the CIEDE2000 difference between two #rrggbb colors on the usual
// 0..100 scale. Unparseable colors, including NoSelection, are maximally distant.
func Distance(target, selected string) float64 {
	a, err := parse(target)
	if err != nil {
		return MaxDistance
	}
	b, err := parse(selected)
	if err != nil {
		return MaxDistance
	}
	d := a.DistanceCIEDE2000(b) * 100
	if d > MaxDistance {
		return MaxDistance
	}
	if d < 0 {
		return 0
	}
	return d
}

// Score converts a distance into points, linearly from MaxScore down to 0.
func Score(distance float64) int {
	if distance <= 0 {
		return MaxScore
	}
	if distance >= MaxDistance {
		return 0
	}
	return int(math.Round(MaxScore * (1 - distance/MaxDistance)))
}

func Evaluate(target, selected string) (distance float64, score int) {
	distance = Distance(target, selected)
	return distance, Score(distance)
}

// Target is the color a round asks players to match: the Lab midpoint of the
// session's two reference colors.
func Target(start, end string) string {
	a, err := parse(start)
	if err != nil {
		return end
	}
	b, err := parse(end)
	if err != nil {
		return start
	}
	return a.BlendLab(b, 0.5).Clamped().Hex()
}

// RandomColor draws a uniformly random RGB color.
func RandomColor(r *rand.Rand) string {
	return fmt.Sprintf("#%02x%02x%02x", r.Intn(256), r.Intn(256), r.Intn(256))
}

// Valid reports whether s is a #rrggbb color.
func Valid(s string) bool {
	_, err := parse(s)
	return err == nil
}

func parse(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[0] != '#' {
		return colorful.Color{}, fmt.Errorf("invalid color %q", s)
	}
	return colorful.Hex(strings.ToLower(s))
}
