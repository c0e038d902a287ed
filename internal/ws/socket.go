package ws

import (
    "errors"

    "github.com/gin-gonic/gin"
    socketio "github.com/googollee/go-socket.io"
    "github.com/rs/zerolog/log"

    "github.com/kiliankoe/hueduel/internal/game"
    "github.com/kiliankoe/hueduel/internal/match"
    "github.com/kiliankoe/hueduel/internal/realtime"
)

// ConnCtx is what a socket remembers after join_session.
type ConnCtx struct {
    SessionID string
    PlayerID  string
}

type Server struct {
    svc *match.Service
    bc  *realtime.Broadcaster
}

func New(svc *match.Service, bc *realtime.Broadcaster) *Server {
    return &Server{svc: svc, bc: bc}
}

type sessionPlayer struct {
    SessionID string `json:"sessionId"`
    PlayerID  string `json:"playerId"`
}

type roundCompleted struct {
    SessionID string `json:"sessionId"`
    PlayerID  string `json:"playerId"`
    RoundData struct {
        RoundNumber   int    `json:"roundNumber"`
        TargetColor   string `json:"targetColor"`
        SelectedColor string `json:"selectedColor"`
    } `json:"roundData"`
}

type chatMessage struct {
    SessionID string `json:"sessionId"`
    PlayerID  string `json:"playerId"`
    Username  string `json:"username"`
    Message   string `json:"message"`
}

// Mount attaches the Socket.IO server to the given Gin engine. The caller runs
// Serve and Close.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
    io := socketio.NewServer(nil)

    io.OnConnect("/", func(s socketio.Conn) error {
        s.SetContext(&ConnCtx{})
        srv.bc.Connect(s)
        log.Info().Str("sid", s.ID()).Msg("socket connected")
        return nil
    })

    io.OnEvent("/", "join_session", func(s socketio.Conn, payload sessionPlayer) map[string]any {
        if prev, ok := s.Context().(*ConnCtx); ok && prev.SessionID != "" && prev.SessionID != payload.SessionID {
            srv.svc.Detach(s, prev.SessionID)
        }
        v, err := srv.svc.Attach(s, payload.SessionID, payload.PlayerID)
        if err != nil {
            return srv.err(s, err)
        }
        s.SetContext(&ConnCtx{SessionID: payload.SessionID, PlayerID: payload.PlayerID})
        log.Info().Str("sid", s.ID()).Str("session", payload.SessionID).Str("player", payload.PlayerID).Msg("join_session")
        return map[string]any{"ok": true, "session": v}
    })

    io.OnEvent("/", "round_completed", func(s socketio.Conn, payload roundCompleted) map[string]any {
        res, err := srv.svc.Submit(match.Submission{
            SessionID:     payload.SessionID,
            PlayerID:      payload.PlayerID,
            RoundNumber:   payload.RoundData.RoundNumber,
            TargetColor:   payload.RoundData.TargetColor,
            SelectedColor: payload.RoundData.SelectedColor,
        }, s.ID())
        if err != nil {
            return srv.err(s, err)
        }
        return map[string]any{"ok": true, "allPlayersReady": res.AllPlayersReady}
    })

    io.OnEvent("/", "chat_message", func(s socketio.Conn, payload chatMessage) map[string]any {
        if _, err := srv.svc.Chat(payload.SessionID, payload.PlayerID, payload.Username, payload.Message); err != nil {
            return srv.err(s, err)
        }
        return map[string]any{"ok": true}
    })

    io.OnEvent("/", "player_quit", func(s socketio.Conn, payload sessionPlayer) map[string]any {
        if _, err := srv.svc.Quit(payload.SessionID, payload.PlayerID); err != nil {
            return srv.err(s, err)
        }
        srv.svc.Detach(s, payload.SessionID)
        s.SetContext(&ConnCtx{})
        log.Info().Str("sid", s.ID()).Str("session", payload.SessionID).Str("player", payload.PlayerID).Msg("player_quit")
        return map[string]any{"ok": true}
    })

    io.OnEvent("/", "request_rematch", func(s socketio.Conn, payload sessionPlayer) map[string]any {
        vote, err := srv.svc.Rematch(payload.SessionID, payload.PlayerID)
        if err != nil {
            return srv.err(s, err)
        }
        return map[string]any{"ok": true, "votes": vote.Votes, "needed": vote.Needed}
    })

    io.OnEvent("/", "start_turn", func(s socketio.Conn, payload sessionPlayer) map[string]any {
        turn, err := srv.svc.StartTurn(payload.SessionID)
        if err != nil {
            return srv.err(s, err)
        }
        return map[string]any{"ok": true, "turn": turn}
    })

    io.OnError("/", func(s socketio.Conn, e error) {
        if s == nil {
            log.Error().Err(e).Msg("socket error")
            return
        }
        log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
    })
    io.OnDisconnect("/", func(s socketio.Conn, reason string) {
        if ctx, ok := s.Context().(*ConnCtx); ok && ctx.SessionID != "" {
            srv.svc.Detach(s, ctx.SessionID)
        }
        srv.bc.Disconnect(s)
        log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
    })

    r.GET("/socket.io/*any", gin.WrapH(io))
    r.POST("/socket.io/*any", gin.WrapH(io))

    return io
}

// err reports a failed intent to the caller only. Unexpected errors are logged and
// masked.
func (srv *Server) err(s socketio.Conn, err error) map[string]any {
    message := userMessage(err)
    srv.bc.Send(s.ID(), match.EventError, map[string]any{"message": message})
    return map[string]any{"error": message}
}

func userMessage(err error) string {
    for _, kind := range []error{game.ErrValidation, game.ErrNotFound, game.ErrInvalidState, game.ErrAuth, game.ErrCapacity} {
        if errors.Is(err, kind) {
            return err.Error()
        }
    }
    log.Error().Err(err).Msg("socket intent failed")
    return "internal error"
}
