package game

import (
    "sync"
    "time"

    "github.com/kiliankoe/hueduel/internal/store"
)

type Status string

const (
    StatusActive    Status = "active"
    StatusCompleted Status = "completed"
)

type PlayerStatus string

const (
    PlayerActive   PlayerStatus = "active"
    PlayerFinished PlayerStatus = "finished"
)

const (
    MinPlayers        = 2
    MaxPlayers        = 20
    DefaultMaxPlayers = 4

    MinRounds     = 1
    MaxRounds     = 10
    DefaultRounds = 3

    DefaultTurnDuration = 40 * time.Second

    maxUsernameLen = 32
    maxChatLen     = 500
)

// SessionConfig is what a create-session intent carries. Zero values pick defaults;
// empty colors are generated.
type SessionConfig struct {
    StartColor  string `json:"startColor"`
    EndColor    string `json:"endColor"`
    Password    string `json:"password"`
    MaxPlayers  int    `json:"maxPlayers"`
    TotalRounds int    `json:"totalRounds"`
}

// PlayerMeta is optional network metadata attached on join.
type PlayerMeta struct {
    Country string
    IP      string
}

type Player struct {
    ID              string       `json:"id"`
    SessionID       string       `json:"sessionId"`
    Username        string       `json:"username"`
    JoinedAt        time.Time    `json:"joinedAt"`
    CompletedRounds int          `json:"completedRounds"`
    BestScore       int          `json:"bestScore"`
    TotalScore      int          `json:"totalScore"`
    Status          PlayerStatus `json:"status"`
    Waiting         bool         `json:"waiting"`
    Country         string       `json:"country,omitempty"`
    IP              string       `json:"-"`
}

// Session is the live state of one match. Every field below mu is guarded by it.
type Session struct {
    ID        string
    CreatedAt time.Time

    mu sync.Mutex

    StartColor          string
    EndColor            string
    Status              Status
    password            string
    MaxPlayers          int
    TotalRounds         int
    CurrentRound        int
    CurrentTurnPlayerID string
    TurnEndTime         time.Time // zero when no turn is active

    players      []*Player // join order
    rematchVotes map[string]bool
}

// SessionView is a consistent copy of a session taken under its lock.
type SessionView struct {
    ID                  string     `json:"id"`
    StartColor          string     `json:"startColor"`
    EndColor            string     `json:"endColor"`
    Status              Status     `json:"status"`
    HasPassword         bool       `json:"hasPassword"`
    MaxPlayers          int        `json:"maxPlayers"`
    TotalRounds         int        `json:"totalRounds"`
    CurrentRound        int        `json:"currentRound"`
    CurrentTurnPlayerID string     `json:"currentTurnPlayerId,omitempty"`
    TurnEndTime         *time.Time `json:"turnEndTime,omitempty"`
    CreatedAt           time.Time  `json:"createdAt"`
    Players             []Player   `json:"players"`
}

// SessionSummary is one row of the active-sessions list.
type SessionSummary struct {
    ID           string    `json:"id"`
    HasPassword  bool      `json:"hasPassword"`
    MaxPlayers   int       `json:"maxPlayers"`
    TotalRounds  int       `json:"totalRounds"`
    CurrentRound int       `json:"currentRound"`
    PlayerCount  int       `json:"playerCount"`
    CreatedAt    time.Time `json:"createdAt"`
}

type RoundInput struct {
    PlayerID      string  `json:"playerId"`
    SessionID     string  `json:"sessionId"`
    RoundNumber   int     `json:"roundNumber"`
    TargetColor   string  `json:"targetColor"`
    SelectedColor string  `json:"selectedColor"`
    Distance      float64 `json:"distance"`
    Score         int     `json:"score"`
}

type RoundResult struct {
    Round           store.Round `json:"round"`
    CompletedRounds int         `json:"completedRounds"`
    BestScore       int         `json:"bestScore"`
    TotalScore      int         `json:"totalScore"`
    AllPlayersReady bool        `json:"allPlayersReady"`
    // NextRound is a hint set only when AllPlayersReady; advancing is a separate call.
    NextRound int  `json:"nextRound,omitempty"`
    Forced    bool `json:"forced,omitempty"`
}

type LeaderboardEntry struct {
    Rank            int          `json:"rank"`
    PlayerID        string       `json:"playerId"`
    Username        string       `json:"username"`
    TotalScore      int          `json:"totalScore"`
    BestScore       int          `json:"bestScore"`
    CompletedRounds int          `json:"completedRounds"`
    Status          PlayerStatus `json:"status"`
    Waiting         bool         `json:"waiting"`
}

type Leaderboard struct {
    Entries []LeaderboardEntry `json:"leaderboard"`
    Winner  *LeaderboardEntry  `json:"winner"`
}

type TurnInfo struct {
    SessionID   string    `json:"sessionId"`
    PlayerID    string    `json:"currentTurnPlayerId"`
    Deadline    time.Time `json:"turnEndTime"`
    RoundNumber int       `json:"roundNumber"`
}

type TimeoutResult struct {
    TimedOut        bool         `json:"timedOut"`
    StalledPlayerID string       `json:"stalledPlayerId,omitempty"`
    Round           *RoundResult `json:"round,omitempty"`
    Next            *TurnInfo    `json:"next,omitempty"`
}

// RoundAdvance describes the session after AdvanceRound or ResetForRematch.
type RoundAdvance struct {
    SessionID   string `json:"sessionId"`
    RoundNumber int    `json:"roundNumber"`
    StartColor  string `json:"startColor"`
    EndColor    string `json:"endColor"`
    Completed   bool   `json:"completed"`
}

type RematchVote struct {
    Votes  int `json:"votes"`
    Needed int `json:"needed"`
    // Started is set by the vote that completed the quorum.
    Started *RoundAdvance `json:"started,omitempty"`
}

type QuitResult struct {
    Removed   bool   `json:"removed"`
    SessionID string `json:"sessionId,omitempty"`
    PlayerID  string `json:"playerId"`
    // TurnChanged is set when the quitting player held the turn. Turn is the new
    // holder, nil when nobody is left to take it.
    TurnChanged     bool      `json:"turnChanged"`
    Turn            *TurnInfo `json:"turn,omitempty"`
    AllPlayersReady bool      `json:"allPlayersReady"`
    ReadyRound      int       `json:"readyRound,omitempty"`
}
