package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	db *pgxpool.Pool
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("database connected")
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schema)
	return err
}

func (p *Postgres) Close() { p.db.Close() }

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO sessions
			(id, start_color, end_color, status, password, max_players, total_rounds,
			 current_round, current_turn_player_id, turn_end_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.StartColor, s.EndColor, s.Status, s.Password, s.MaxPlayers, s.TotalRounds,
		s.CurrentRound, nullable(s.CurrentTurnPlayerID), s.TurnEndTime, s.CreatedAt,
	)
	return err
}

func (p *Postgres) UpdateSession(ctx context.Context, s *Session) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE sessions
		 SET start_color = $2, end_color = $3, status = $4, current_round = $5,
		     current_turn_player_id = $6, turn_end_time = $7
		 WHERE id = $1`,
		s.ID, s.StartColor, s.EndColor, s.Status, s.CurrentRound,
		nullable(s.CurrentTurnPlayerID), s.TurnEndTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreatePlayer(ctx context.Context, pl *Player) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO players
			(id, session_id, username, joined_at, completed_rounds, best_score, total_score,
			 status, waiting, country, ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pl.ID, pl.SessionID, pl.Username, pl.JoinedAt, pl.CompletedRounds, pl.BestScore,
		pl.TotalScore, pl.Status, pl.Waiting, pl.Country, pl.IP,
	)
	return err
}

func (p *Postgres) UpdatePlayer(ctx context.Context, pl *Player) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE players
		 SET completed_rounds = $2, best_score = $3, total_score = $4, status = $5, waiting = $6
		 WHERE id = $1`,
		pl.ID, pl.CompletedRounds, pl.BestScore, pl.TotalScore, pl.Status, pl.Waiting,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlayer relies on ON DELETE CASCADE for rounds, chat and analytics, but
// deletes them explicitly too so the behaviour holds on databases migrated without it.
func (p *Postgres) DeletePlayer(ctx context.Context, playerID string) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		`DELETE FROM rounds WHERE player_id = $1`,
		`DELETE FROM chat_messages WHERE player_id = $1`,
		`DELETE FROM analytics_events WHERE player_id = $1`,
		`DELETE FROM players WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, playerID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) CreateRound(ctx context.Context, r *Round) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO rounds
			(id, player_id, session_id, round_number, target_color, selected_color,
			 distance, score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.PlayerID, r.SessionID, r.RoundNumber, r.TargetColor, r.SelectedColor,
		r.Distance, r.Score, r.CreatedAt,
	)
	return err
}

func (p *Postgres) RoundsBySession(ctx context.Context, sessionID string) ([]*Round, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, player_id, session_id, round_number, target_color, selected_color,
		        distance, score, created_at
		 FROM rounds
		 WHERE session_id = $1
		 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.ID, &r.PlayerID, &r.SessionID, &r.RoundNumber, &r.TargetColor,
			&r.SelectedColor, &r.Distance, &r.Score, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveChatMessage(ctx context.Context, m *ChatMessage) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, player_id, username, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SessionID, m.PlayerID, m.Username, m.Message, m.CreatedAt,
	)
	return err
}

func (p *Postgres) ChatHistory(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, session_id, player_id, username, message, created_at FROM (
			SELECT id, session_id, player_id, username, message, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		sessionID, clampLimit(limit, 50),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.PlayerID, &m.Username, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordEvent(ctx context.Context, e *AnalyticsEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil || e.Data == nil {
		data = []byte("{}")
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO analytics_events (id, session_id, player_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SessionID, nullable(e.PlayerID), e.Type, data, e.CreatedAt,
	)
	return err
}

func (p *Postgres) SaveSoloGame(ctx context.Context, g *SoloGame) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO solo_games (id, username, total_score, completed_rounds, country, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.Username, g.TotalScore, g.CompletedRounds, countryOrDefault(g.Country), g.IP, g.CreatedAt,
	)
	return err
}

const rankingQuery = `
	SELECT username, country, total_score, completed_rounds,
	       total_score::float8 / GREATEST(completed_rounds, 1) AS average
	FROM players
	WHERE completed_rounds >= $1 %s
	ORDER BY average DESC, seq ASC
	LIMIT $2`

func (p *Postgres) GlobalRankings(ctx context.Context, limit int) ([]*Ranking, error) {
	rows, err := p.db.Query(ctx, fmt.Sprintf(rankingQuery, ""), MinRankedRounds, clampLimit(limit, 100))
	if err != nil {
		return nil, err
	}
	return scanRankings(rows)
}

func (p *Postgres) CountryRankings(ctx context.Context, country string, limit int) ([]*Ranking, error) {
	filter := "AND country = $3"
	if country == DefaultCountry {
		filter = "AND (country = $3 OR country = '')"
	}
	rows, err := p.db.Query(ctx, fmt.Sprintf(rankingQuery, filter), MinRankedRounds, clampLimit(limit, 100), country)
	if err != nil {
		return nil, err
	}
	return scanRankings(rows)
}

func scanRankings(rows pgx.Rows) ([]*Ranking, error) {
	defer rows.Close()
	var out []*Ranking
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.Username, &r.Country, &r.TotalScore, &r.CompletedRounds, &r.AverageScore); err != nil {
			return nil, err
		}
		r.Country = countryOrDefault(r.Country)
		r.Rank = len(out) + 1
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *Postgres) SoloRankings(ctx context.Context, limit int) ([]*SoloGame, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, username, total_score, completed_rounds, country, created_at
		 FROM solo_games
		 ORDER BY total_score DESC, seq ASC
		 LIMIT $1`,
		clampLimit(limit, 100),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SoloGame
	for rows.Next() {
		var g SoloGame
		if err := rows.Scan(&g.ID, &g.Username, &g.TotalScore, &g.CompletedRounds, &g.Country, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Country = countryOrDefault(g.Country)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (p *Postgres) SoloRank(ctx context.Context, score int) (int, int, error) {
	var better, total int
	err := p.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE total_score > $1), COUNT(*) FROM solo_games`,
		score,
	).Scan(&better, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return better + 1, total, nil
}

func (p *Postgres) SoloScores(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.Query(ctx, `SELECT id, total_score FROM solo_games`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
