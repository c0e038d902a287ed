// Package match runs the gameplay flows shared by the REST and socket gateways and
// publishes the resulting realtime events.
package match

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/cache"
	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/realtime"
	"github.com/kiliankoe/hueduel/internal/store"
)

// Realtime events sent to clients.
const (
	EventPlayerJoined     = "player_joined"
	EventLeaderboard      = "leaderboard_updated"
	EventRoundSubmitted   = "round_submitted"
	EventChat             = "chat_message"
	EventPlayerQuit       = "player_quit"
	EventSessionsUpdated  = "sessions_updated"
	EventTurnStarted      = "turn_started"
	EventTurnTimeout      = "turn_timeout"
	EventRoundAdvanced    = "round_advanced"
	EventSessionCompleted = "session_completed"
	EventRematchVote      = "rematch_vote"
	EventRematchStarted   = "rematch_started"
	EventError            = "error"
)

// Mode selects what governs round progression.
type Mode string

const (
	// ModeSimultaneous lets every player submit whenever; the round advances once all
	// of them have.
	ModeSimultaneous Mode = "simultaneous"
	// ModeTurn only accepts a submission from the turn holder and rotates the turn
	// after each one. The round still advances once everybody has submitted.
	ModeTurn Mode = "turn"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSimultaneous:
		return ModeSimultaneous, nil
	case ModeTurn:
		return ModeTurn, nil
	}
	return "", fmt.Errorf("unknown round mode %q", s)
}

// Broadcaster is the realtime fan-out the service publishes through.
type Broadcaster interface {
	Subscribe(sessionID string, c realtime.Conn)
	Unsubscribe(sessionID string, c realtime.Conn)
	Publish(sessionID, event string, payload any) int
	Send(connID, event string, payload any) bool
	BroadcastGlobal(event string, payload any) int
}

type Service struct {
	reg   *game.Registry
	coord *game.Coordinator
	bc    Broadcaster
	solo  *cache.SoloRanks
	mode  Mode

	// lbMu serializes snapshot-and-publish of leaderboards per session, so the last
	// leaderboard_updated a session sees is never older than its state.
	lbMu [32]sync.Mutex
}

func New(coord *game.Coordinator, bc Broadcaster, solo *cache.SoloRanks, mode Mode) *Service {
	if mode == "" {
		mode = ModeSimultaneous
	}
	return &Service{reg: coord.Registry(), coord: coord, bc: bc, solo: solo, mode: mode}
}

func (s *Service) Mode() Mode { return s.mode }

func (s *Service) Create(cfg game.SessionConfig) (game.SessionView, error) {
	v, err := s.reg.CreateSession(cfg)
	if err != nil {
		return game.SessionView{}, err
	}
	s.bc.BroadcastGlobal(EventSessionsUpdated, nil)
	return v, nil
}

func (s *Service) Session(id string) (game.SessionView, error) {
	return s.reg.GetSession(id)
}

func (s *Service) ActiveSessions() []game.SessionSummary {
	return s.reg.GetActiveSessions()
}

func (s *Service) Leaderboard(sessionID string) (*game.Leaderboard, error) {
	return s.reg.GetLeaderboard(sessionID)
}

func (s *Service) Rounds(ctx context.Context, sessionID string) ([]*store.Round, error) {
	return s.reg.Rounds(ctx, sessionID)
}

func (s *Service) Join(sessionID, username, password string, meta game.PlayerMeta) (game.Player, error) {
	p, err := s.reg.JoinSession(sessionID, username, password, meta)
	if err != nil {
		return game.Player{}, err
	}
	s.bc.Publish(sessionID, EventPlayerJoined, map[string]any{"playerId": p.ID, "username": p.Username})
	s.publishLeaderboard(sessionID)
	s.bc.BroadcastGlobal(EventSessionsUpdated, nil)
	return p, nil
}

// Attach subscribes a connection to the session a player belongs to and catches it
// up with the standings and the current turn.
func (s *Service) Attach(c realtime.Conn, sessionID, playerID string) (game.SessionView, error) {
	p, err := s.reg.Player(playerID)
	if err != nil {
		return game.SessionView{}, err
	}
	if p.SessionID != sessionID {
		return game.SessionView{}, game.ErrPlayerNotFound
	}
	v, err := s.reg.GetSession(sessionID)
	if err != nil {
		return game.SessionView{}, err
	}
	s.bc.Subscribe(sessionID, c)
	if lb, err := s.reg.GetLeaderboard(sessionID); err == nil {
		s.bc.Send(c.ID(), EventLeaderboard, lb)
	}
	if turn, err := s.coord.TurnState(sessionID); err == nil && turn != nil {
		s.bc.Send(c.ID(), EventTurnStarted, turn)
	}
	log.Info().Str("sid", c.ID()).Str("session", sessionID).Str("player", playerID).Msg("attached")
	return v, nil
}

func (s *Service) Detach(c realtime.Conn, sessionID string) {
	s.bc.Unsubscribe(sessionID, c)
}

func (s *Service) Chat(sessionID, playerID, username, text string) (*store.ChatMessage, error) {
	msg, err := s.reg.SaveChatMessage(sessionID, playerID, username, text)
	if err != nil {
		return nil, err
	}
	s.bc.Publish(sessionID, EventChat, msg)
	return msg, nil
}

func (s *Service) ChatHistory(ctx context.Context, sessionID string, limit int) ([]*store.ChatMessage, error) {
	return s.reg.ChatHistory(ctx, sessionID, limit)
}

// Quit removes a player. Quitting twice, or quitting an unknown player, is not an
// error.
func (s *Service) Quit(sessionID, playerID string) (*game.QuitResult, error) {
	if p, err := s.reg.Player(playerID); err == nil && sessionID != "" && p.SessionID != sessionID {
		return nil, game.ErrPlayerNotFound
	}
	res, err := s.reg.RemovePlayer(playerID)
	if err != nil || !res.Removed {
		return res, err
	}
	sid := res.SessionID
	s.bc.Publish(sid, EventPlayerQuit, map[string]any{"playerId": playerID})
	if res.TurnChanged && res.Turn != nil {
		s.bc.Publish(sid, EventTurnStarted, res.Turn)
	}
	s.publishLeaderboard(sid)
	if res.AllPlayersReady {
		s.advance(sid, res.ReadyRound)
	}
	s.bc.BroadcastGlobal(EventSessionsUpdated, nil)
	return res, nil
}

func (s *Service) publishLeaderboard(sessionID string) {
	mu := s.leaderboardLock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	lb, err := s.reg.GetLeaderboard(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("leaderboard unavailable")
		return
	}
	s.bc.Publish(sessionID, EventLeaderboard, lb)
}

func (s *Service) leaderboardLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.lbMu[h.Sum32()%uint32(len(s.lbMu))]
}
