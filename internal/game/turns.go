package game

import (
    "context"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/kiliankoe/hueduel/internal/metrics"
    "github.com/kiliankoe/hueduel/internal/scoring"
    "github.com/kiliankoe/hueduel/internal/store"
)

// Coordinator drives turns, round advancement and rematches on top of the registry.
// It keeps no state of its own.
type Coordinator struct {
    reg *Registry
}

func NewCoordinator(reg *Registry) *Coordinator {
    return &Coordinator{reg: reg}
}

func (c *Coordinator) Registry() *Registry { return c.reg }

// StartTurn hands the turn to the player after the current holder in join order, or
// to the first player when nobody holds it.
func (c *Coordinator) StartTurn(sessionID string) (*TurnInfo, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    s.mu.Lock()
    if s.Status != StatusActive {
        s.mu.Unlock()
        return nil, ErrSessionCompleted
    }
    if len(s.players) == 0 {
        s.mu.Unlock()
        return nil, ErrNoPlayers
    }
    info := s.rotateTurnLocked(c.reg.now().UTC(), c.reg.turnDuration)
    c.saveSession(s.record())
    s.mu.Unlock()

    log.Debug().Str("session", sessionID).Str("player", info.PlayerID).Time("deadline", info.Deadline).Msg("turn started")
    return info, nil
}

// TurnState returns the current holder, or nil when no turn is active.
func (c *Coordinator) TurnState(sessionID string) (*TurnInfo, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.turnLocked(), nil
}

// CheckTimeout force-submits a zero score for a holder whose deadline has passed and
// rotates the turn, all under one session lock so a late submission cannot interleave.
func (c *Coordinator) CheckTimeout(sessionID string) (*TimeoutResult, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    now := c.reg.now().UTC()

    s.mu.Lock()
    if s.Status != StatusActive || s.CurrentTurnPlayerID == "" || now.Before(s.TurnEndTime) {
        s.mu.Unlock()
        return &TimeoutResult{}, nil
    }
    stalled := s.player(s.CurrentTurnPlayerID)
    if stalled == nil {
        s.clearTurnLocked()
        s.mu.Unlock()
        return &TimeoutResult{}, nil
    }
    // A holder who already submitted this round only loses the turn.
    var res *RoundResult
    round := s.CurrentRound
    if !stalled.Waiting {
        in := RoundInput{
            PlayerID:      stalled.ID,
            SessionID:     s.ID,
            RoundNumber:   round,
            TargetColor:   scoring.Target(s.StartColor, s.EndColor),
            SelectedColor: scoring.NoSelection,
            Distance:      scoring.MaxDistance,
            Score:         0,
        }
        res = s.submitLocked(stalled, in, now)
        res.Forced = true
        c.reg.recordSubmission(res, playerRecord(*stalled))
    }
    next := s.rotateTurnLocked(now, c.reg.turnDuration)
    c.saveSession(s.record())
    c.reg.event(sessionID, stalled.ID, "turn_timeout", map[string]any{"roundNumber": round, "next": next.PlayerID, "forced": res != nil})
    s.mu.Unlock()

    metrics.TurnTimeouts.Inc()
    log.Info().Str("session", sessionID).Str("player", stalled.ID).Str("next", next.PlayerID).Bool("forced", res != nil).Msg("turn timed out")
    return &TimeoutResult{TimedOut: true, StalledPlayerID: stalled.ID, Round: res, Next: next}, nil
}

// SubmitTurn records a submission from the turn holder and passes the turn on.
func (c *Coordinator) SubmitTurn(in RoundInput) (*RoundResult, *TurnInfo, error) {
    s, err := c.reg.session(in.SessionID)
    if err != nil {
        return nil, nil, err
    }
    now := c.reg.now().UTC()

    s.mu.Lock()
    p := s.player(in.PlayerID)
    if p == nil {
        s.mu.Unlock()
        return nil, nil, ErrPlayerNotFound
    }
    if s.Status != StatusActive {
        s.mu.Unlock()
        return nil, nil, ErrSessionCompleted
    }
    if s.CurrentTurnPlayerID != in.PlayerID {
        s.mu.Unlock()
        return nil, nil, ErrNotYourTurn
    }
    if err := s.checkRoundLocked(&in); err != nil {
        s.mu.Unlock()
        return nil, nil, err
    }
    res := s.submitLocked(p, in, now)
    next := s.rotateTurnLocked(now, c.reg.turnDuration)
    c.reg.recordSubmission(res, playerRecord(*p))
    c.saveSession(s.record())
    s.mu.Unlock()
    return res, next, nil
}

// AdvanceRound moves to the next round with fresh colors. Advancing past the last
// round completes the session instead.
func (c *Coordinator) AdvanceRound(sessionID string) (*RoundAdvance, error) {
    return c.advance(sessionID, 0)
}

// AdvanceFrom advances only while the session is still in fromRound and every active
// player has submitted it. It returns nil when the round already moved on.
func (c *Coordinator) AdvanceFrom(sessionID string, fromRound int) (*RoundAdvance, error) {
    return c.advance(sessionID, fromRound)
}

func (c *Coordinator) advance(sessionID string, fromRound int) (*RoundAdvance, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    start, end := c.reg.randomColor(), c.reg.randomColor()

    s.mu.Lock()
    if fromRound > 0 && (s.Status != StatusActive || s.CurrentRound != fromRound || !s.allReady()) {
        s.mu.Unlock()
        log.Debug().Str("session", sessionID).Int("round", fromRound).Msg("round already advanced")
        return nil, nil
    }
    if s.Status != StatusActive {
        s.mu.Unlock()
        return nil, ErrSessionCompleted
    }
    adv := &RoundAdvance{SessionID: s.ID}
    if s.CurrentRound >= s.TotalRounds {
        s.Status = StatusCompleted
        for _, p := range s.players {
            p.Status = PlayerFinished
            p.Waiting = false
        }
        s.clearTurnLocked()
        s.rematchVotes = make(map[string]bool)
        adv.Completed = true
    } else {
        s.CurrentRound++
        s.StartColor, s.EndColor = start, end
        for _, p := range s.players {
            if p.Status == PlayerActive {
                p.Waiting = false
            }
        }
    }
    adv.RoundNumber = s.CurrentRound
    adv.StartColor, adv.EndColor = s.StartColor, s.EndColor
    c.saveSession(s.record())
    c.savePlayers(s.playerRecords())
    c.reg.event(sessionID, "", "round_advanced", map[string]any{"roundNumber": adv.RoundNumber, "completed": adv.Completed})
    if adv.Completed {
        c.export(s.view(), s.leaderboard())
    }
    s.mu.Unlock()

    if adv.Completed {
        metrics.ActiveSessions.Dec()
        log.Info().Str("session", sessionID).Msg("session completed")
    } else {
        log.Info().Str("session", sessionID).Int("round", adv.RoundNumber).Msg("round advanced")
    }
    return adv, nil
}

// ResetForRematch starts the session over at round 1 with fresh colors. Scores carry
// over across the rematch.
func (c *Coordinator) ResetForRematch(sessionID string) (*RoundAdvance, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    start, end := c.reg.randomColor(), c.reg.randomColor()

    s.mu.Lock()
    reactivated := s.resetLocked(start, end)
    adv := &RoundAdvance{SessionID: s.ID, RoundNumber: s.CurrentRound, StartColor: start, EndColor: end}
    c.saveReset(s)
    s.mu.Unlock()

    c.afterReset(sessionID, reactivated)
    return adv, nil
}

// RequestRematch records a vote. The vote completing the quorum (every seated player)
// resets the session in the same critical section.
func (c *Coordinator) RequestRematch(sessionID, playerID string) (*RematchVote, error) {
    s, err := c.reg.session(sessionID)
    if err != nil {
        return nil, err
    }
    start, end := c.reg.randomColor(), c.reg.randomColor()

    s.mu.Lock()
    if s.player(playerID) == nil {
        s.mu.Unlock()
        return nil, ErrPlayerNotFound
    }
    s.rematchVotes[playerID] = true
    vote := &RematchVote{Votes: len(s.rematchVotes), Needed: len(s.players)}
    if vote.Votes < vote.Needed {
        s.mu.Unlock()
        return vote, nil
    }
    reactivated := s.resetLocked(start, end)
    vote.Started = &RoundAdvance{SessionID: s.ID, RoundNumber: s.CurrentRound, StartColor: start, EndColor: end}
    c.saveReset(s)
    s.mu.Unlock()

    c.afterReset(sessionID, reactivated)
    return vote, nil
}

// ActiveTurns lists sessions that currently have a turn holder.
func (c *Coordinator) ActiveTurns() []string {
    c.reg.mu.RLock()
    all := make([]*Session, 0, len(c.reg.sessions))
    for _, s := range c.reg.sessions {
        all = append(all, s)
    }
    c.reg.mu.RUnlock()

    var ids []string
    for _, s := range all {
        s.mu.Lock()
        if s.Status == StatusActive && s.CurrentTurnPlayerID != "" {
            ids = append(ids, s.ID)
        }
        s.mu.Unlock()
    }
    return ids
}

// saveReset expects s.mu to be held.
func (c *Coordinator) saveReset(s *Session) {
    c.saveSession(s.record())
    c.savePlayers(s.playerRecords())
    c.reg.event(s.ID, "", "rematch", nil)
}

func (c *Coordinator) afterReset(sessionID string, reactivated bool) {
    if reactivated {
        metrics.ActiveSessions.Inc()
    }
    log.Info().Str("session", sessionID).Msg("rematch started")
}

func (c *Coordinator) saveSession(rec store.Session) {
    c.reg.persist("update_session", func(ctx context.Context, st store.Store) error {
        return st.UpdateSession(ctx, &rec)
    })
}

func (c *Coordinator) savePlayers(recs []store.Player) {
    for i := range recs {
        rec := recs[i]
        c.reg.persist("update_player", func(ctx context.Context, st store.Store) error {
            return st.UpdatePlayer(ctx, &rec)
        })
    }
}

func (c *Coordinator) export(view SessionView, lb *Leaderboard) {
    file := c.reg.exportFile
    if file == "" {
        return
    }
    // Runs on the writer goroutine so file I/O stays off the gameplay path.
    c.reg.persist("export_session", func(context.Context, store.Store) error {
        return ExportSession(view, lb, file)
    })
}

// Helpers below expect s.mu to be held.

func (s *Session) rotateTurnLocked(now time.Time, d time.Duration) *TurnInfo {
    idx := s.indexOf(s.CurrentTurnPlayerID)
    next := s.players[(idx+1)%len(s.players)]
    s.CurrentTurnPlayerID = next.ID
    s.TurnEndTime = now.Add(d)
    return s.turnLocked()
}

// handOffTurnLocked passes the turn away from the holder at idx, who is about to
// leave. The turn is cleared when nobody else is seated.
func (s *Session) handOffTurnLocked(idx int, now time.Time, d time.Duration) *TurnInfo {
    if len(s.players) < 2 {
        s.clearTurnLocked()
        return nil
    }
    next := s.players[(idx+1)%len(s.players)]
    s.CurrentTurnPlayerID = next.ID
    s.TurnEndTime = now.Add(d)
    return s.turnLocked()
}

func (s *Session) clearTurnLocked() {
    s.CurrentTurnPlayerID = ""
    s.TurnEndTime = time.Time{}
}

func (s *Session) turnLocked() *TurnInfo {
    if s.CurrentTurnPlayerID == "" {
        return nil
    }
    return &TurnInfo{
        SessionID:   s.ID,
        PlayerID:    s.CurrentTurnPlayerID,
        Deadline:    s.TurnEndTime,
        RoundNumber: s.CurrentRound,
    }
}

// resetLocked reports whether a completed session was reactivated.
func (s *Session) resetLocked(start, end string) bool {
    reactivated := s.Status == StatusCompleted
    s.Status = StatusActive
    s.CurrentRound = 1
    s.StartColor, s.EndColor = start, end
    for _, p := range s.players {
        p.Status = PlayerActive
        p.Waiting = false
    }
    s.clearTurnLocked()
    s.rematchVotes = make(map[string]bool)
    return reactivated
}

func (s *Session) playerRecords() []store.Player {
    out := make([]store.Player, 0, len(s.players))
    for _, p := range s.players {
        out = append(out, playerRecord(*p))
    }
    return out
}
