package store

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps every record in process. It is used when no database is configured
// and as the fake store in tests.
type Memory struct {
	mu sync.RWMutex

	sessions map[string]*Session
	players  map[string]*Player
	seq      map[string]int64 // player insertion order
	nextSeq  int64
	rounds   []*Round
	chat     []*ChatMessage
	events   []*AnalyticsEvent
	solo     []*SoloGame
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		players:  make(map[string]*Player),
		seq:      make(map[string]int64),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.ID] == nil {
		return ErrNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) CreatePlayer(_ context.Context, p *Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.players[p.ID] = &cp
	m.nextSeq++
	m.seq[p.ID] = m.nextSeq
	return nil
}

func (m *Memory) UpdatePlayer(_ context.Context, p *Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[p.ID] == nil {
		return ErrNotFound
	}
	cp := *p
	m.players[p.ID] = &cp
	return nil
}

func (m *Memory) DeletePlayer(_ context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, playerID)
	delete(m.seq, playerID)

	rounds := m.rounds[:0]
	for _, r := range m.rounds {
		if r.PlayerID != playerID {
			rounds = append(rounds, r)
		}
	}
	m.rounds = rounds

	chat := m.chat[:0]
	for _, c := range m.chat {
		if c.PlayerID != playerID {
			chat = append(chat, c)
		}
	}
	m.chat = chat

	events := m.events[:0]
	for _, e := range m.events {
		if e.PlayerID != playerID {
			events = append(events, e)
		}
	}
	m.events = events
	return nil
}

func (m *Memory) CreateRound(_ context.Context, r *Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rounds = append(m.rounds, &cp)
	return nil
}

func (m *Memory) RoundsBySession(_ context.Context, sessionID string) ([]*Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Round
	for _, r := range m.rounds {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) SaveChatMessage(_ context.Context, c *ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.chat = append(m.chat, &cp)
	return nil
}

func (m *Memory) ChatHistory(_ context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	limit = clampLimit(limit, 50)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*ChatMessage
	for _, c := range m.chat {
		if c.SessionID == sessionID {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) RecordEvent(_ context.Context, e *AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

// Events returns every recorded analytics event of a session.
func (m *Memory) Events(sessionID string) []*AnalyticsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AnalyticsEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) SaveSoloGame(_ context.Context, g *SoloGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	cp.Country = countryOrDefault(cp.Country)
	m.solo = append(m.solo, &cp)
	return nil
}

func (m *Memory) GlobalRankings(ctx context.Context, limit int) ([]*Ranking, error) {
	return m.rankings(limit, func(*Player) bool { return true })
}

func (m *Memory) CountryRankings(ctx context.Context, country string, limit int) ([]*Ranking, error) {
	return m.rankings(limit, func(p *Player) bool { return countryOrDefault(p.Country) == country })
}

func (m *Memory) rankings(limit int, keep func(*Player) bool) ([]*Ranking, error) {
	limit = clampLimit(limit, 100)
	m.mu.RLock()
	type ranked struct {
		p   Player
		seq int64
	}
	var eligible []ranked
	for id, p := range m.players {
		if p.CompletedRounds >= MinRankedRounds && keep(p) {
			eligible = append(eligible, ranked{p: *p, seq: m.seq[id]})
		}
	}
	m.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		ai := average(eligible[i].p.TotalScore, eligible[i].p.CompletedRounds)
		aj := average(eligible[j].p.TotalScore, eligible[j].p.CompletedRounds)
		if ai != aj {
			return ai > aj
		}
		return eligible[i].seq < eligible[j].seq
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*Ranking, 0, len(eligible))
	for i, e := range eligible {
		out = append(out, &Ranking{
			Rank:            i + 1,
			Username:        e.p.Username,
			Country:         countryOrDefault(e.p.Country),
			TotalScore:      e.p.TotalScore,
			CompletedRounds: e.p.CompletedRounds,
			AverageScore:    average(e.p.TotalScore, e.p.CompletedRounds),
		})
	}
	return out, nil
}

func (m *Memory) SoloRankings(_ context.Context, limit int) ([]*SoloGame, error) {
	limit = clampLimit(limit, 100)
	m.mu.RLock()
	out := make([]*SoloGame, 0, len(m.solo))
	for _, g := range m.solo {
		cp := *g
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalScore > out[j].TotalScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SoloRank(_ context.Context, score int) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	better := 0
	for _, g := range m.solo {
		if g.TotalScore > score {
			better++
		}
	}
	return better + 1, len(m.solo), nil
}

func (m *Memory) SoloScores(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.solo))
	for _, g := range m.solo {
		out[g.ID] = g.TotalScore
	}
	return out, nil
}

func (m *Memory) Close() {}
