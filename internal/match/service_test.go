package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/hueduel/internal/cache"
	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/realtime"
	"github.com/kiliankoe/hueduel/internal/scoring"
	"github.com/kiliankoe/hueduel/internal/store"
)

type sent struct {
	to      string // session ID, "conn:<id>" or "*"
	event   string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	subs map[string]map[string]bool
	log  []sent
}

func newRecorder() *recorder { return &recorder{subs: make(map[string]map[string]bool)} }

func (r *recorder) Subscribe(sessionID string, c realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sessionID] == nil {
		r.subs[sessionID] = make(map[string]bool)
	}
	r.subs[sessionID][c.ID()] = true
}

func (r *recorder) Unsubscribe(sessionID string, c realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[sessionID], c.ID())
}

func (r *recorder) Publish(sessionID, event string, payload any) int {
	r.add(sent{to: sessionID, event: event, payload: payload})
	return 1
}

func (r *recorder) Send(connID, event string, payload any) bool {
	r.add(sent{to: "conn:" + connID, event: event, payload: payload})
	return true
}

func (r *recorder) BroadcastGlobal(event string, payload any) int {
	r.add(sent{to: "*", event: event, payload: payload})
	return 1
}

func (r *recorder) add(s sent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) events(to string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.log {
		if s.to == to {
			out = append(out, s.event)
		}
	}
	return out
}

func (r *recorder) last(to, event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.log) - 1; i >= 0; i-- {
		if r.log[i].to == to && r.log[i].event == event {
			return r.log[i].payload
		}
	}
	return nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

type conn struct{ id string }

func (c conn) ID() string                          { return c.id }
func (c conn) Emit(event string, v ...interface{}) {}

type harness struct {
	svc   *Service
	rec   *recorder
	mem   *store.Memory
	coord *game.Coordinator
	now   time.Time
	mu    sync.Mutex
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T, mode Mode) *harness {
	t.Helper()
	h := &harness{rec: newRecorder(), mem: store.NewMemory(), now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	w := store.NewWriter(h.mem, 256)
	t.Cleanup(w.Close)
	reg := game.NewRegistry(w, game.WithClock(h.clock))
	h.coord = game.NewCoordinator(reg)
	h.svc = New(h.coord, h.rec, cache.NewSoloRanks(nil, h.mem), mode)
	return h
}

func (h *harness) start(t *testing.T, cfg game.SessionConfig, names ...string) (game.SessionView, []game.Player) {
	t.Helper()
	v, err := h.svc.Create(cfg)
	require.NoError(t, err)
	var ps []game.Player
	for _, n := range names {
		p, err := h.svc.Join(v.ID, n, cfg.Password, game.PlayerMeta{})
		require.NoError(t, err)
		ps = append(ps, p)
	}
	return v, ps
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSimultaneous, m)
	m, err = ParseMode("turn")
	require.NoError(t, err)
	assert.Equal(t, ModeTurn, m)
	_, err = ParseMode("chaos")
	assert.Error(t, err)
}

func TestJoinPublishesEvents(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{}, "Alice")

	assert.Equal(t, []string{EventPlayerJoined, EventLeaderboard}, h.rec.events(v.ID))
	assert.Equal(t, []string{EventSessionsUpdated, EventSessionsUpdated}, h.rec.events("*"))
	joined := h.rec.last(v.ID, EventPlayerJoined).(map[string]any)
	assert.Equal(t, ps[0].ID, joined["playerId"])
	assert.Equal(t, "Alice", joined["username"])
}

func TestSubmitScoresAndAdvances(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{StartColor: "#ff0000", EndColor: "#0000ff", TotalRounds: 2}, "A", "B")
	h.rec.reset()
	target := scoring.Target(v.StartColor, v.EndColor)

	res, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, SelectedColor: target}, "c1")
	require.NoError(t, err)
	assert.Equal(t, scoring.MaxScore, res.Round.Score)
	assert.Equal(t, target, res.Round.TargetColor)
	assert.Equal(t, 1, res.Round.RoundNumber)
	assert.False(t, res.AllPlayersReady)
	assert.Equal(t, []string{EventRoundSubmitted}, h.rec.events("conn:c1"))
	assert.Equal(t, []string{EventLeaderboard}, h.rec.events(v.ID))

	res, err = h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[1].ID, SelectedColor: "#000000"}, "c2")
	require.NoError(t, err)
	assert.True(t, res.AllPlayersReady)
	assert.Equal(t, []string{EventLeaderboard, EventLeaderboard, EventRoundAdvanced}, h.rec.events(v.ID))

	got, err := h.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentRound)
	for _, p := range got.Players {
		assert.False(t, p.Waiting)
	}
}

func TestConcurrentSubmitsPublishLatestLeaderboard(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	v, ps := h.start(t, game.SessionConfig{MaxPlayers: 20, TotalRounds: 3}, names...)
	colors := []string{"#000000", "#ff0000", "#00ff00", "#0000ff", "#ffff00", "#00ffff", "#ff00ff", "#ffffff", "#808080", "#123456"}

	var wg sync.WaitGroup
	for i, p := range ps {
		wg.Add(1)
		go func(id, color string) {
			defer wg.Done()
			_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: id, SelectedColor: color}, "")
			assert.NoError(t, err)
		}(p.ID, colors[i])
	}
	wg.Wait()

	published, ok := h.rec.last(v.ID, EventLeaderboard).(*game.Leaderboard)
	require.True(t, ok)
	current, err := h.svc.Leaderboard(v.ID)
	require.NoError(t, err)
	require.Len(t, published.Entries, len(current.Entries))
	for i := range current.Entries {
		assert.Equal(t, current.Entries[i].PlayerID, published.Entries[i].PlayerID)
		assert.Equal(t, current.Entries[i].TotalScore, published.Entries[i].TotalScore)
		assert.Equal(t, 1, published.Entries[i].CompletedRounds)
	}
	assert.Equal(t, 1, countEvents(h.rec.events(v.ID), EventRoundAdvanced))
}

func countEvents(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{}, "A")

	_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID}, "")
	assert.ErrorIs(t, err, game.ErrValidation)
	_, err = h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, TargetColor: "blue", SelectedColor: "#000000"}, "")
	assert.ErrorIs(t, err, game.ErrValidation)
	_, err = h.svc.Submit(Submission{SessionID: "NOPE1", PlayerID: ps[0].ID, SelectedColor: "#000000"}, "")
	assert.ErrorIs(t, err, game.ErrNotFound)
}

func TestLastRoundCompletesSession(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{TotalRounds: 1}, "A", "B")
	h.rec.reset()

	for _, p := range ps {
		_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: p.ID, SelectedColor: "#123456"}, "")
		require.NoError(t, err)
	}
	events := h.rec.events(v.ID)
	assert.Equal(t, EventSessionCompleted, events[len(events)-1])
	assert.Contains(t, h.rec.events("*"), EventSessionsUpdated)

	got, _ := h.svc.Session(v.ID)
	assert.Equal(t, game.StatusCompleted, got.Status)
	assert.Empty(t, h.svc.ActiveSessions())
}

func TestTurnModeOnlyHolderSubmits(t *testing.T) {
	h := newHarness(t, ModeTurn)
	v, ps := h.start(t, game.SessionConfig{}, "A", "B")

	_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, SelectedColor: "#000000"}, "")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	turn, err := h.svc.StartTurn(v.ID)
	require.NoError(t, err)
	assert.Equal(t, ps[0].ID, turn.PlayerID)

	_, err = h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[1].ID, SelectedColor: "#000000"}, "")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	h.rec.reset()
	_, err = h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, SelectedColor: "#000000"}, "")
	require.NoError(t, err)
	next := h.rec.last(v.ID, EventTurnStarted).(*game.TurnInfo)
	assert.Equal(t, ps[1].ID, next.PlayerID)

	h.rec.reset()
	_, err = h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[1].ID, SelectedColor: "#000000"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{EventLeaderboard, EventRoundAdvanced, EventTurnStarted}, h.rec.events(v.ID))
	next = h.rec.last(v.ID, EventTurnStarted).(*game.TurnInfo)
	assert.Equal(t, ps[0].ID, next.PlayerID)
	assert.Equal(t, 2, next.RoundNumber)
}

func TestTimeoutThroughSweeper(t *testing.T) {
	h := newHarness(t, ModeTurn)
	v, ps := h.start(t, game.SessionConfig{}, "A", "B", "C")
	_, err := h.svc.StartTurn(v.ID)
	require.NoError(t, err)
	h.rec.reset()

	sw := game.NewSweeper(h.coord, time.Second, h.svc.HandleTimeout)
	h.advance(game.DefaultTurnDuration + time.Second)
	assert.Equal(t, 1, sw.Sweep())

	assert.Equal(t, []string{EventTurnTimeout, EventLeaderboard, EventTurnStarted}, h.rec.events(v.ID))
	timeout := h.rec.last(v.ID, EventTurnTimeout).(map[string]any)
	assert.Equal(t, ps[0].ID, timeout["playerId"])
	next := h.rec.last(v.ID, EventTurnStarted).(*game.TurnInfo)
	assert.Equal(t, ps[1].ID, next.PlayerID)

	lb, err := h.svc.Leaderboard(v.ID)
	require.NoError(t, err)
	for _, e := range lb.Entries {
		if e.PlayerID == ps[0].ID {
			assert.Equal(t, 1, e.CompletedRounds)
			assert.Equal(t, 0, e.TotalScore)
		}
	}
}

func TestQuitHandsOffTurnAndIsIdempotent(t *testing.T) {
	h := newHarness(t, ModeTurn)
	v, ps := h.start(t, game.SessionConfig{}, "A", "B")
	_, err := h.svc.StartTurn(v.ID)
	require.NoError(t, err)
	h.rec.reset()

	res, err := h.svc.Quit(v.ID, ps[0].ID)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, []string{EventPlayerQuit, EventTurnStarted, EventLeaderboard}, h.rec.events(v.ID))

	res, err = h.svc.Quit(v.ID, ps[0].ID)
	require.NoError(t, err)
	assert.False(t, res.Removed)
}

func TestQuitRejectsForeignSession(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	_, ps := h.start(t, game.SessionConfig{}, "A")
	other, _ := h.start(t, game.SessionConfig{}, "B")

	_, err := h.svc.Quit(other.ID, ps[0].ID)
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}

func TestQuitCompletesWaitingRound(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{TotalRounds: 3}, "A", "B")
	_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, SelectedColor: "#000000"}, "")
	require.NoError(t, err)

	_, err = h.svc.Quit(v.ID, ps[1].ID)
	require.NoError(t, err)
	got, _ := h.svc.Session(v.ID)
	assert.Equal(t, 2, got.CurrentRound)
}

func TestRematchFlow(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{TotalRounds: 1}, "A", "B")
	for _, p := range ps {
		_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: p.ID, SelectedColor: "#000000"}, "")
		require.NoError(t, err)
	}
	h.rec.reset()

	vote, err := h.svc.Rematch(v.ID, ps[0].ID)
	require.NoError(t, err)
	assert.Nil(t, vote.Started)
	vote, err = h.svc.Rematch(v.ID, ps[1].ID)
	require.NoError(t, err)
	require.NotNil(t, vote.Started)

	assert.Equal(t, []string{EventRematchVote, EventRematchVote, EventRematchStarted, EventLeaderboard}, h.rec.events(v.ID))
	got, _ := h.svc.Session(v.ID)
	assert.Equal(t, game.StatusActive, got.Status)
	assert.Equal(t, 1, got.CurrentRound)
	assert.Len(t, h.svc.ActiveSessions(), 1)
}

func TestAttachSubscribesAndCatchesUp(t *testing.T) {
	h := newHarness(t, ModeTurn)
	v, ps := h.start(t, game.SessionConfig{}, "A", "B")
	other, _ := h.start(t, game.SessionConfig{}, "C")
	_, err := h.svc.StartTurn(v.ID)
	require.NoError(t, err)

	_, err = h.svc.Attach(conn{"s1"}, other.ID, ps[0].ID)
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)

	got, err := h.svc.Attach(conn{"s1"}, v.ID, ps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.True(t, h.rec.subs[v.ID]["s1"])
	assert.Equal(t, []string{EventLeaderboard, EventTurnStarted}, h.rec.events("conn:s1"))

	h.svc.Detach(conn{"s1"}, v.ID)
	assert.False(t, h.rec.subs[v.ID]["s1"])
}

func TestChatPublishesAndPersists(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{}, "A")

	msg, err := h.svc.Chat(v.ID, ps[0].ID, "A", "gg")
	require.NoError(t, err)
	assert.Equal(t, msg, h.rec.last(v.ID, EventChat))

	history, err := h.svc.ChatHistory(context.Background(), v.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "gg", history[0].Message)
}

func TestSoloGames(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	ctx := context.Background()

	_, err := h.svc.SaveSolo(ctx, SoloResult{Username: " "}, game.PlayerMeta{})
	assert.ErrorIs(t, err, game.ErrValidation)

	for _, score := range []int{1200, 3000, 800} {
		_, err := h.svc.SaveSolo(ctx, SoloResult{Username: "p", TotalScore: score, CompletedRounds: 3}, game.PlayerMeta{Country: "🇩🇪"})
		require.NoError(t, err)
	}
	top, err := h.svc.SoloRankings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, 3000, top[0].TotalScore)

	standing, err := h.svc.SoloRank(ctx, "me", 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, standing.Rank)
	assert.Equal(t, 3, standing.Total)
}

func TestGlobalRankingsSeeRecentRounds(t *testing.T) {
	h := newHarness(t, ModeSimultaneous)
	v, ps := h.start(t, game.SessionConfig{TotalRounds: 3, StartColor: "#336699", EndColor: "#336699"}, "A")
	for i := 0; i < 3; i++ {
		_, err := h.svc.Submit(Submission{SessionID: v.ID, PlayerID: ps[0].ID, SelectedColor: "#336699"}, "")
		require.NoError(t, err)
	}

	rankings, err := h.svc.GlobalRankings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, "A", rankings[0].Username)
	assert.Equal(t, store.DefaultCountry, rankings[0].Country)
}
