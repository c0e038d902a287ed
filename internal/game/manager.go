package game

import (
    "context"
    "math/rand"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/kiliankoe/hueduel/internal/metrics"
    "github.com/kiliankoe/hueduel/internal/scoring"
    "github.com/kiliankoe/hueduel/internal/store"
)

// Registry owns the live state of every session. The index below mu only maps IDs to
// sessions; everything inside a session is guarded by that session's own mutex, so
// different sessions never contend.
type Registry struct {
    mu            sync.RWMutex
    sessions      map[string]*Session
    playerSession map[string]string // playerID -> sessionID

    writer       *store.Writer
    now          func() time.Time
    turnDuration time.Duration
    exportFile   string

    rndMu sync.Mutex
    rnd   *rand.Rand
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
    return func(r *Registry) { r.now = now }
}

func WithTurnDuration(d time.Duration) Option {
    return func(r *Registry) {
        if d > 0 {
            r.turnDuration = d
        }
    }
}

func WithRand(rnd *rand.Rand) Option {
    return func(r *Registry) { r.rnd = rnd }
}

// WithExport appends a results summary to file whenever a session completes.
func WithExport(file string) Option {
    return func(r *Registry) { r.exportFile = file }
}

func NewRegistry(w *store.Writer, opts ...Option) *Registry {
    r := &Registry{
        sessions:      make(map[string]*Session),
        playerSession: make(map[string]string),
        writer:        w,
        now:           time.Now,
        turnDuration:  DefaultTurnDuration,
        rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
    }
    for _, o := range opts {
        o(r)
    }
    return r
}

func (r *Registry) CreateSession(cfg SessionConfig) (SessionView, error) {
    if cfg.MaxPlayers == 0 {
        cfg.MaxPlayers = DefaultMaxPlayers
    }
    if cfg.TotalRounds == 0 {
        cfg.TotalRounds = DefaultRounds
    }
    if cfg.MaxPlayers < MinPlayers || cfg.MaxPlayers > MaxPlayers {
        return SessionView{}, validationf("maxPlayers must be between %d and %d", MinPlayers, MaxPlayers)
    }
    if cfg.TotalRounds < MinRounds || cfg.TotalRounds > MaxRounds {
        return SessionView{}, validationf("totalRounds must be between %d and %d", MinRounds, MaxRounds)
    }
    for _, c := range []string{cfg.StartColor, cfg.EndColor} {
        if c != "" && !scoring.Valid(c) {
            return SessionView{}, validationf("color %q is not #rrggbb", c)
        }
    }
    if cfg.StartColor == "" {
        cfg.StartColor = r.randomColor()
    }
    if cfg.EndColor == "" {
        cfg.EndColor = r.randomColor()
    }

    r.mu.Lock()
    code := r.randomCode(5)
    for r.sessions[code] != nil {
        code = r.randomCode(5)
    }
    s := &Session{
        ID:           code,
        CreatedAt:    r.now().UTC(),
        StartColor:   cfg.StartColor,
        EndColor:     cfg.EndColor,
        Status:       StatusActive,
        password:     cfg.Password,
        MaxPlayers:   cfg.MaxPlayers,
        TotalRounds:  cfg.TotalRounds,
        CurrentRound: 1,
        rematchVotes: make(map[string]bool),
    }
    view := s.view()
    rec := s.record()
    // Queued before the session becomes visible, so its row precedes any player rows.
    r.persist("create_session", func(ctx context.Context, st store.Store) error {
        return st.CreateSession(ctx, &rec)
    })
    r.event(code, "", "session_created", map[string]any{"maxPlayers": cfg.MaxPlayers, "totalRounds": cfg.TotalRounds})
    r.sessions[code] = s
    r.mu.Unlock()

    metrics.SessionsCreated.Inc()
    metrics.ActiveSessions.Inc()
    log.Info().Str("session", code).Int("maxPlayers", cfg.MaxPlayers).Int("totalRounds", cfg.TotalRounds).Msg("session created")
    return view, nil
}

func (r *Registry) session(id string) (*Session, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    s := r.sessions[id]
    if s == nil {
        return nil, ErrSessionNotFound
    }
    return s, nil
}

func (r *Registry) GetSession(id string) (SessionView, error) {
    s, err := r.session(id)
    if err != nil {
        return SessionView{}, err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.view(), nil
}

// Player returns a copy of a player wherever it is seated.
func (r *Registry) Player(id string) (Player, error) {
    r.mu.RLock()
    sid, ok := r.playerSession[id]
    r.mu.RUnlock()
    if !ok {
        return Player{}, ErrPlayerNotFound
    }
    s, err := r.session(sid)
    if err != nil {
        return Player{}, err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    p := s.player(id)
    if p == nil {
        return Player{}, ErrPlayerNotFound
    }
    return *p, nil
}

func (r *Registry) JoinSession(sessionID, username, password string, meta PlayerMeta) (Player, error) {
    username = strings.TrimSpace(username)
    if username == "" || len([]rune(username)) > maxUsernameLen {
        return Player{}, validationf("username must be 1-%d characters", maxUsernameLen)
    }
    s, err := r.session(sessionID)
    if err != nil {
        return Player{}, err
    }

    s.mu.Lock()
    if s.Status != StatusActive {
        s.mu.Unlock()
        return Player{}, ErrSessionCompleted
    }
    if s.password != "" && password != s.password {
        s.mu.Unlock()
        return Player{}, ErrWrongPassword
    }
    if s.activeCount() >= s.MaxPlayers {
        s.mu.Unlock()
        return Player{}, ErrSessionFull
    }
    p := &Player{
        ID:        uuid.NewString(),
        SessionID: s.ID,
        Username:  username,
        JoinedAt:  r.now().UTC(),
        Status:    PlayerActive,
        Country:   meta.Country,
        IP:        meta.IP,
    }
    s.players = append(s.players, p)
    s.rematchVotes = make(map[string]bool)
    out := *p
    rec := playerRecord(out)
    r.persist("create_player", func(ctx context.Context, st store.Store) error {
        return st.CreatePlayer(ctx, &rec)
    })
    r.event(s.ID, out.ID, "player_joined", map[string]any{"username": out.Username, "country": out.Country})
    s.mu.Unlock()

    r.mu.Lock()
    r.playerSession[p.ID] = s.ID
    r.mu.Unlock()

    metrics.PlayersJoined.Inc()
    log.Info().Str("session", s.ID).Str("player", out.ID).Str("username", out.Username).Msg("player joined")
    return out, nil
}

// SubmitRound records one attempt and reports whether every active player has now
// submitted the current round. The readiness check happens under the same lock as the
// player update, so exactly one submission observes the set becoming ready.
func (r *Registry) SubmitRound(in RoundInput) (*RoundResult, error) {
    s, err := r.session(in.SessionID)
    if err != nil {
        return nil, err
    }
    s.mu.Lock()
    p := s.player(in.PlayerID)
    if p == nil {
        s.mu.Unlock()
        return nil, ErrPlayerNotFound
    }
    if s.Status != StatusActive {
        s.mu.Unlock()
        return nil, ErrSessionCompleted
    }
    if err := s.checkRoundLocked(&in); err != nil {
        s.mu.Unlock()
        return nil, err
    }
    res := s.submitLocked(p, in, r.now().UTC())
    r.recordSubmission(res, playerRecord(*p))
    s.mu.Unlock()
    return res, nil
}

func (r *Registry) recordSubmission(res *RoundResult, prec store.Player) {
    round := res.Round
    r.persist("create_round", func(ctx context.Context, st store.Store) error {
        return st.CreateRound(ctx, &round)
    })
    r.persist("update_player", func(ctx context.Context, st store.Store) error {
        return st.UpdatePlayer(ctx, &prec)
    })
    r.event(round.SessionID, round.PlayerID, "round_submitted", map[string]any{
        "roundNumber": round.RoundNumber,
        "score":       round.Score,
        "forced":      res.Forced,
    })
    metrics.RoundsSubmitted.WithLabelValues(boolLabel(res.Forced)).Inc()
}

func (r *Registry) GetLeaderboard(sessionID string) (*Leaderboard, error) {
    s, err := r.session(sessionID)
    if err != nil {
        return nil, err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.leaderboard(), nil
}

// RemovePlayer drops a player and cascades their history in the store. Unknown
// players are ignored. A quitting turn holder hands the turn to the next player.
func (r *Registry) RemovePlayer(playerID string) (*QuitResult, error) {
    res := &QuitResult{PlayerID: playerID}
    r.mu.RLock()
    sid, ok := r.playerSession[playerID]
    r.mu.RUnlock()
    if !ok {
        return res, nil
    }
    s, err := r.session(sid)
    if err != nil {
        return res, nil
    }

    now := r.now().UTC()
    s.mu.Lock()
    idx := s.indexOf(playerID)
    if idx < 0 {
        s.mu.Unlock()
        return res, nil
    }
    // Only a removal that completes the set reports readiness; otherwise the
    // submission that completed it already did.
    wasReady := s.allReady()
    if s.CurrentTurnPlayerID == playerID {
        res.TurnChanged = true
        res.Turn = s.handOffTurnLocked(idx, now, r.turnDuration)
    }
    s.players = append(s.players[:idx], s.players[idx+1:]...)
    s.rematchVotes = make(map[string]bool)
    res.Removed = true
    res.SessionID = s.ID
    res.AllPlayersReady = !wasReady && s.allReady()
    if res.AllPlayersReady {
        res.ReadyRound = s.CurrentRound
    }
    r.persist("delete_player", func(ctx context.Context, st store.Store) error {
        return st.DeletePlayer(ctx, playerID)
    })
    if res.TurnChanged {
        rec := s.record()
        r.persist("update_session", func(ctx context.Context, st store.Store) error {
            return st.UpdateSession(ctx, &rec)
        })
    }
    r.event(sid, "", "player_quit", map[string]any{"playerId": playerID})
    s.mu.Unlock()

    r.mu.Lock()
    delete(r.playerSession, playerID)
    r.mu.Unlock()

    log.Info().Str("session", sid).Str("player", playerID).Bool("turnChanged", res.TurnChanged).Msg("player removed")
    return res, nil
}

// GetActiveSessions lists active sessions, newest first.
func (r *Registry) GetActiveSessions() []SessionSummary {
    r.mu.RLock()
    all := make([]*Session, 0, len(r.sessions))
    for _, s := range r.sessions {
        all = append(all, s)
    }
    r.mu.RUnlock()

    out := make([]SessionSummary, 0, len(all))
    for _, s := range all {
        s.mu.Lock()
        if s.Status == StatusActive {
            out = append(out, SessionSummary{
                ID:           s.ID,
                HasPassword:  s.password != "",
                MaxPlayers:   s.MaxPlayers,
                TotalRounds:  s.TotalRounds,
                CurrentRound: s.CurrentRound,
                PlayerCount:  s.activeCount(),
                CreatedAt:    s.CreatedAt,
            })
        }
        s.mu.Unlock()
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].CreatedAt.Equal(out[j].CreatedAt) {
            return out[i].ID < out[j].ID
        }
        return out[i].CreatedAt.After(out[j].CreatedAt)
    })
    return out
}

func (r *Registry) SaveChatMessage(sessionID, playerID, username, text string) (*store.ChatMessage, error) {
    text = strings.TrimSpace(text)
    if text == "" || len([]rune(text)) > maxChatLen {
        return nil, validationf("message must be 1-%d characters", maxChatLen)
    }
    s, err := r.session(sessionID)
    if err != nil {
        return nil, err
    }
    s.mu.Lock()
    p := s.player(playerID)
    if p == nil {
        s.mu.Unlock()
        return nil, ErrPlayerNotFound
    }
    if strings.TrimSpace(username) == "" {
        username = p.Username
    }
    msg := &store.ChatMessage{
        ID:        uuid.NewString(),
        SessionID: sessionID,
        PlayerID:  playerID,
        Username:  username,
        Message:   text,
        CreatedAt: r.now().UTC(),
    }
    rec := *msg
    r.persist("save_chat", func(ctx context.Context, st store.Store) error {
        return st.SaveChatMessage(ctx, &rec)
    })
    s.mu.Unlock()
    return msg, nil
}

// ChatHistory waits for pending writes so a sender sees their own message.
func (r *Registry) ChatHistory(ctx context.Context, sessionID string, limit int) ([]*store.ChatMessage, error) {
    if _, err := r.session(sessionID); err != nil {
        return nil, err
    }
    if err := r.writer.Flush(ctx); err != nil {
        return nil, err
    }
    return r.writer.Store().ChatHistory(ctx, sessionID, limit)
}

// Rounds lists the stored round records of a session.
func (r *Registry) Rounds(ctx context.Context, sessionID string) ([]*store.Round, error) {
    if _, err := r.session(sessionID); err != nil {
        return nil, err
    }
    if err := r.writer.Flush(ctx); err != nil {
        return nil, err
    }
    return r.writer.Store().RoundsBySession(ctx, sessionID)
}

// Records returns the record store once every pending write has landed.
func (r *Registry) Records(ctx context.Context) (store.Store, error) {
    if err := r.writer.Flush(ctx); err != nil {
        return nil, err
    }
    return r.writer.Store(), nil
}

func (r *Registry) persist(op string, fn func(ctx context.Context, st store.Store) error) {
    r.writer.Enqueue(op, fn)
}

func (r *Registry) event(sessionID, playerID, kind string, data map[string]any) {
    e := store.AnalyticsEvent{
        ID:        uuid.NewString(),
        SessionID: sessionID,
        PlayerID:  playerID,
        Type:      kind,
        Data:      data,
        CreatedAt: r.now().UTC(),
    }
    r.persist("record_event", func(ctx context.Context, st store.Store) error {
        return st.RecordEvent(ctx, &e)
    })
}

func (r *Registry) randomColor() string {
    r.rndMu.Lock()
    defer r.rndMu.Unlock()
    return scoring.RandomColor(r.rnd)
}

func (r *Registry) randomCode(n int) string {
    letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
    r.rndMu.Lock()
    defer r.rndMu.Unlock()
    b := make([]rune, n)
    for i := range b {
        b[i] = letters[r.rnd.Intn(len(letters))]
    }
    return string(b)
}

// Helpers below expect s.mu to be held.

func (s *Session) player(id string) *Player {
    if i := s.indexOf(id); i >= 0 {
        return s.players[i]
    }
    return nil
}

func (s *Session) indexOf(id string) int {
    for i, p := range s.players {
        if p.ID == id {
            return i
        }
    }
    return -1
}

func (s *Session) activeCount() int {
    n := 0
    for _, p := range s.players {
        if p.Status == PlayerActive {
            n++
        }
    }
    return n
}

func (s *Session) allReady() bool {
    active, waiting := 0, 0
    for _, p := range s.players {
        if p.Status != PlayerActive {
            continue
        }
        active++
        if p.Waiting {
            waiting++
        }
    }
    return active > 0 && waiting == active
}

// checkRoundLocked pins a submission to the current round. Zero means current.
func (s *Session) checkRoundLocked(in *RoundInput) error {
    if in.RoundNumber == 0 {
        in.RoundNumber = s.CurrentRound
    }
    if in.RoundNumber != s.CurrentRound {
        return ErrStaleRound
    }
    return nil
}

// submitLocked reports readiness only to the submission that completes the set; a
// repeat submission after that counts but does not report it again.
func (s *Session) submitLocked(p *Player, in RoundInput, now time.Time) *RoundResult {
    wasReady := s.allReady()
    round := store.Round{
        ID:            uuid.NewString(),
        PlayerID:      p.ID,
        SessionID:     s.ID,
        RoundNumber:   in.RoundNumber,
        TargetColor:   in.TargetColor,
        SelectedColor: in.SelectedColor,
        Distance:      in.Distance,
        Score:         in.Score,
        CreatedAt:     now,
    }
    p.CompletedRounds++
    if in.Score > p.BestScore {
        p.BestScore = in.Score
    }
    p.TotalScore += in.Score
    p.Waiting = true

    res := &RoundResult{
        Round:           round,
        CompletedRounds: p.CompletedRounds,
        BestScore:       p.BestScore,
        TotalScore:      p.TotalScore,
        AllPlayersReady: !wasReady && s.allReady(),
    }
    if res.AllPlayersReady {
        res.NextRound = s.CurrentRound + 1
    }
    return res
}

// leaderboard orders by total score, then best score, then completed rounds. Ties
// beyond that keep join order.
func (s *Session) leaderboard() *Leaderboard {
    ps := make([]*Player, len(s.players))
    copy(ps, s.players)
    sort.SliceStable(ps, func(i, j int) bool {
        a, b := ps[i], ps[j]
        if a.TotalScore != b.TotalScore {
            return a.TotalScore > b.TotalScore
        }
        if a.BestScore != b.BestScore {
            return a.BestScore > b.BestScore
        }
        return a.CompletedRounds > b.CompletedRounds
    })
    lb := &Leaderboard{Entries: make([]LeaderboardEntry, 0, len(ps))}
    for i, p := range ps {
        lb.Entries = append(lb.Entries, LeaderboardEntry{
            Rank:            i + 1,
            PlayerID:        p.ID,
            Username:        p.Username,
            TotalScore:      p.TotalScore,
            BestScore:       p.BestScore,
            CompletedRounds: p.CompletedRounds,
            Status:          p.Status,
            Waiting:         p.Waiting,
        })
    }
    if len(lb.Entries) > 0 {
        leader := lb.Entries[0]
        lb.Winner = &leader
    }
    return lb
}

func (s *Session) view() SessionView {
    v := SessionView{
        ID:                  s.ID,
        StartColor:          s.StartColor,
        EndColor:            s.EndColor,
        Status:              s.Status,
        HasPassword:         s.password != "",
        MaxPlayers:          s.MaxPlayers,
        TotalRounds:         s.TotalRounds,
        CurrentRound:        s.CurrentRound,
        CurrentTurnPlayerID: s.CurrentTurnPlayerID,
        CreatedAt:           s.CreatedAt,
        Players:             make([]Player, 0, len(s.players)),
    }
    if !s.TurnEndTime.IsZero() {
        t := s.TurnEndTime
        v.TurnEndTime = &t
    }
    for _, p := range s.players {
        v.Players = append(v.Players, *p)
    }
    return v
}

func (s *Session) record() store.Session {
    rec := store.Session{
        ID:                  s.ID,
        StartColor:          s.StartColor,
        EndColor:            s.EndColor,
        Status:              string(s.Status),
        Password:            s.password,
        MaxPlayers:          s.MaxPlayers,
        TotalRounds:         s.TotalRounds,
        CurrentRound:        s.CurrentRound,
        CurrentTurnPlayerID: s.CurrentTurnPlayerID,
        CreatedAt:           s.CreatedAt,
    }
    if !s.TurnEndTime.IsZero() {
        t := s.TurnEndTime
        rec.TurnEndTime = &t
    }
    return rec
}

func playerRecord(p Player) store.Player {
    return store.Player{
        ID:              p.ID,
        SessionID:       p.SessionID,
        Username:        p.Username,
        JoinedAt:        p.JoinedAt,
        CompletedRounds: p.CompletedRounds,
        BestScore:       p.BestScore,
        TotalScore:      p.TotalScore,
        Status:          string(p.Status),
        Waiting:         p.Waiting,
        Country:         p.Country,
        IP:              p.IP,
    }
}

func boolLabel(b bool) string {
    if b {
        return "true"
    }
    return "false"
}
