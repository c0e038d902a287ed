// Package store is the durable record of sessions, players, rounds, chat, analytics
// and solo games. Gameplay never reads it back; it backs history views and rankings.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultCountry is shown for rankings whose player never reported a country.
const DefaultCountry = "🌍"

// MinRankedRounds is the number of completed rounds a player needs to appear in the
// global rankings.
const MinRankedRounds = 3

var ErrNotFound = errors.New("record not found")

type Session struct {
	ID                  string     `json:"id"`
	StartColor          string     `json:"startColor"`
	EndColor            string     `json:"endColor"`
	Status              string     `json:"status"`
	Password            string     `json:"-"`
	MaxPlayers          int        `json:"maxPlayers"`
	TotalRounds         int        `json:"totalRounds"`
	CurrentRound        int        `json:"currentRound"`
	CurrentTurnPlayerID string     `json:"currentTurnPlayerId,omitempty"`
	TurnEndTime         *time.Time `json:"turnEndTime,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

type Player struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	Username        string    `json:"username"`
	JoinedAt        time.Time `json:"joinedAt"`
	CompletedRounds int       `json:"completedRounds"`
	BestScore       int       `json:"bestScore"`
	TotalScore      int       `json:"totalScore"`
	Status          string    `json:"status"`
	Waiting         bool      `json:"waiting"`
	Country         string    `json:"country,omitempty"`
	IP              string    `json:"-"`
}

// Round is an immutable record of one player's attempt at one round.
type Round struct {
	ID            string    `json:"id"`
	PlayerID      string    `json:"playerId"`
	SessionID     string    `json:"sessionId"`
	RoundNumber   int       `json:"roundNumber"`
	TargetColor   string    `json:"targetColor"`
	SelectedColor string    `json:"selectedColor"`
	Distance      float64   `json:"distance"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	PlayerID  string    `json:"playerId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type AnalyticsEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	PlayerID  string         `json:"playerId,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SoloGame is a leaderboard-only record of a game played outside any session.
type SoloGame struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	TotalScore      int       `json:"totalScore"`
	CompletedRounds int       `json:"completedRounds"`
	Country         string    `json:"country"`
	IP              string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Ranking struct {
	Rank            int     `json:"rank"`
	Username        string  `json:"username"`
	Country         string  `json:"country"`
	TotalScore      int     `json:"totalScore"`
	CompletedRounds int     `json:"completedRounds"`
	AverageScore    float64 `json:"averageScore"`
}

type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error

	CreatePlayer(ctx context.Context, p *Player) error
	UpdatePlayer(ctx context.Context, p *Player) error
	// DeletePlayer removes the player with its rounds, chat messages and analytics
	// events. Deleting a missing player is not an error.
	DeletePlayer(ctx context.Context, playerID string) error

	CreateRound(ctx context.Context, r *Round) error
	RoundsBySession(ctx context.Context, sessionID string) ([]*Round, error)

	SaveChatMessage(ctx context.Context, m *ChatMessage) error
	// ChatHistory returns the newest limit messages of a session, oldest first.
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error)

	RecordEvent(ctx context.Context, e *AnalyticsEvent) error

	SaveSoloGame(ctx context.Context, g *SoloGame) error
	GlobalRankings(ctx context.Context, limit int) ([]*Ranking, error)
	CountryRankings(ctx context.Context, country string, limit int) ([]*Ranking, error)
	SoloRankings(ctx context.Context, limit int) ([]*SoloGame, error)
	// SoloRank is the 1-based position a solo score would take, and the number of
	// solo games recorded.
	SoloRank(ctx context.Context, score int) (rank int, total int, err error)
	// SoloScores maps every solo game ID to its total score.
	SoloScores(ctx context.Context) (map[string]int, error)

	Close()
}

func average(total, rounds int) float64 {
	if rounds < 1 {
		rounds = 1
	}
	return float64(total) / float64(rounds)
}

func countryOrDefault(c string) string {
	if c == "" {
		return DefaultCountry
	}
	return c
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
