package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/store"
)

const (
	defaultRankingLimit = 50
	maxRankingLimit     = 100
)

// SoloResult is a finished solo game as reported by a client.
type SoloResult struct {
	Username        string `json:"username"`
	TotalScore      int    `json:"totalScore"`
	CompletedRounds int    `json:"completedRounds"`
}

// SoloStanding is where a score sits among all solo games.
type SoloStanding struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
	Total    int    `json:"total"`
}

func (s *Service) SaveSolo(ctx context.Context, r SoloResult, meta game.PlayerMeta) (*store.SoloGame, error) {
	name := strings.TrimSpace(r.Username)
	if name == "" || len([]rune(name)) > 32 {
		return nil, validation("username must be 1-32 characters")
	}
	if r.TotalScore < 0 || r.CompletedRounds < 0 {
		return nil, validation("scores must not be negative")
	}
	g := &store.SoloGame{
		ID:              uuid.NewString(),
		Username:        name,
		TotalScore:      r.TotalScore,
		CompletedRounds: r.CompletedRounds,
		Country:         meta.Country,
		IP:              meta.IP,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.solo.Save(ctx, g); err != nil {
		return nil, err
	}
	log.Info().Str("username", name).Int("score", g.TotalScore).Msg("solo game saved")
	return g, nil
}

func (s *Service) SoloRankings(ctx context.Context, limit int) ([]*store.SoloGame, error) {
	return s.solo.Top(ctx, clampLimit(limit))
}

func (s *Service) SoloRank(ctx context.Context, username string, score int) (*SoloStanding, error) {
	rank, total, err := s.solo.Rank(ctx, score)
	if err != nil {
		return nil, err
	}
	return &SoloStanding{Username: username, Score: score, Rank: rank, Total: total}, nil
}

func (s *Service) GlobalRankings(ctx context.Context, limit int) ([]*store.Ranking, error) {
	st, err := s.reg.Records(ctx)
	if err != nil {
		return nil, err
	}
	return st.GlobalRankings(ctx, clampLimit(limit))
}

func (s *Service) CountryRankings(ctx context.Context, country string, limit int) ([]*store.Ranking, error) {
	st, err := s.reg.Records(ctx)
	if err != nil {
		return nil, err
	}
	return st.CountryRankings(ctx, country, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRankingLimit
	}
	if limit > maxRankingLimit {
		return maxRankingLimit
	}
	return limit
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", game.ErrValidation, msg)
}
