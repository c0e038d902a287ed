package match

import (
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/scoring"
)

// Submission is a client's attempt at the current round. The server scores it.
type Submission struct {
	SessionID     string `json:"sessionId"`
	PlayerID      string `json:"playerId"`
	RoundNumber   int    `json:"roundNumber"`
	TargetColor   string `json:"targetColor"`
	SelectedColor string `json:"selectedColor"`
}

// Submit scores and records a round. The result goes to connID only; everyone in
// the session gets the new standings. The round advances once all players are in.
func (s *Service) Submit(sub Submission, connID string) (*game.RoundResult, error) {
	v, err := s.reg.GetSession(sub.SessionID)
	if err != nil {
		return nil, err
	}
	if sub.TargetColor == "" {
		sub.TargetColor = scoring.Target(v.StartColor, v.EndColor)
	} else if !scoring.Valid(sub.TargetColor) {
		return nil, validation("targetColor must be #rrggbb")
	}
	if sub.SelectedColor == "" {
		return nil, validation("selectedColor is required")
	}
	dist, score := scoring.Evaluate(sub.TargetColor, sub.SelectedColor)
	in := game.RoundInput{
		PlayerID:      sub.PlayerID,
		SessionID:     sub.SessionID,
		RoundNumber:   sub.RoundNumber,
		TargetColor:   sub.TargetColor,
		SelectedColor: sub.SelectedColor,
		Distance:      dist,
		Score:         score,
	}

	var res *game.RoundResult
	var next *game.TurnInfo
	if s.mode == ModeTurn {
		res, next, err = s.coord.SubmitTurn(in)
	} else {
		res, err = s.reg.SubmitRound(in)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("session", sub.SessionID).Str("player", sub.PlayerID).Int("round", res.Round.RoundNumber).Int("score", score).Msg("round_completed")

	if connID != "" {
		s.bc.Send(connID, EventRoundSubmitted, res)
	}
	s.publishLeaderboard(sub.SessionID)
	if res.AllPlayersReady {
		s.advance(sub.SessionID, res.Round.RoundNumber)
	} else if next != nil {
		s.bc.Publish(sub.SessionID, EventTurnStarted, next)
	}
	return res, nil
}

// StartTurn hands the turn to the next player and tells the session.
func (s *Service) StartTurn(sessionID string) (*game.TurnInfo, error) {
	turn, err := s.coord.StartTurn(sessionID)
	if err != nil {
		return nil, err
	}
	s.bc.Publish(sessionID, EventTurnStarted, turn)
	return turn, nil
}

// HandleTimeout publishes the outcome of an expired turn. It is the sweeper's
// callback.
func (s *Service) HandleTimeout(sessionID string, res *game.TimeoutResult) {
	if res == nil || !res.TimedOut {
		return
	}
	s.bc.Publish(sessionID, EventTurnTimeout, map[string]any{"playerId": res.StalledPlayerID})
	s.publishLeaderboard(sessionID)
	if res.Round != nil && res.Round.AllPlayersReady {
		s.advance(sessionID, res.Round.Round.RoundNumber)
		return
	}
	if res.Next != nil {
		s.bc.Publish(sessionID, EventTurnStarted, res.Next)
	}
}

func (s *Service) Rematch(sessionID, playerID string) (*game.RematchVote, error) {
	vote, err := s.coord.RequestRematch(sessionID, playerID)
	if err != nil {
		return nil, err
	}
	s.bc.Publish(sessionID, EventRematchVote, map[string]any{"votes": vote.Votes, "needed": vote.Needed})
	if vote.Started != nil {
		s.bc.Publish(sessionID, EventRematchStarted, vote.Started)
		s.publishLeaderboard(sessionID)
		s.bc.BroadcastGlobal(EventSessionsUpdated, nil)
	}
	return vote, nil
}

// advance moves past a round everybody has finished. In turn mode the turn keeps
// rotating into the new round.
func (s *Service) advance(sessionID string, fromRound int) {
	adv, err := s.coord.AdvanceFrom(sessionID, fromRound)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("advance failed")
		return
	}
	if adv == nil {
		return
	}
	if adv.Completed {
		if lb, err := s.reg.GetLeaderboard(sessionID); err == nil {
			s.bc.Publish(sessionID, EventSessionCompleted, lb)
		}
		s.bc.BroadcastGlobal(EventSessionsUpdated, nil)
		return
	}
	s.bc.Publish(sessionID, EventRoundAdvanced, adv)
	if s.mode == ModeTurn {
		if turn, err := s.coord.TurnState(sessionID); err == nil && turn != nil {
			s.bc.Publish(sessionID, EventTurnStarted, turn)
		}
	}
}
