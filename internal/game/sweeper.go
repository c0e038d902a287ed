package game

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TimeoutHandler receives every expired turn the sweeper resolved.
type TimeoutHandler func(sessionID string, res *TimeoutResult)

// Sweeper revisits every session with an active turn on a fixed interval, so no
// goroutine ever blocks on a single session's deadline.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	handle   TimeoutHandler
}

func NewSweeper(coord *Coordinator, interval time.Duration, handle TimeoutHandler) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Sweeper{coord: coord, interval: interval, handle: handle}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Sweep()
		}
	}
}

// Sweep checks every active turn once and returns how many timed out.
func (w *Sweeper) Sweep() int {
	n := 0
	for _, id := range w.coord.ActiveTurns() {
		res, err := w.coord.CheckTimeout(id)
		if err != nil {
			log.Warn().Err(err).Str("session", id).Msg("timeout check failed")
			continue
		}
		if !res.TimedOut {
			continue
		}
		n++
		if w.handle != nil {
			w.handle(id, res)
		}
	}
	return n
}
