package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/hueduel/internal/cache"
	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/match"
	"github.com/kiliankoe/hueduel/internal/realtime"
	"github.com/kiliankoe/hueduel/internal/store"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	w := store.NewWriter(mem, 256)
	t.Cleanup(w.Close)
	bc := realtime.New(8)
	t.Cleanup(bc.Close)
	coord := game.NewCoordinator(game.NewRegistry(w))
	svc := match.New(coord, bc, cache.NewSoloRanks(nil, mem), match.ModeSimultaneous)

	r := gin.New()
	New(svc).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createSession(t *testing.T, r http.Handler, body any) game.SessionView {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[game.SessionView](t, rec)
}

func join(t *testing.T, r http.Handler, sessionID, name string) game.Player {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/sessions/"+sessionID+"/join", gin.H{"username": name}, "X-Country", "🇩🇪")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[game.Player](t, rec)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{game.ErrSessionNotFound, http.StatusNotFound},
		{game.ErrWrongPassword, http.StatusForbidden},
		{game.ErrSessionFull, http.StatusConflict},
		{game.ErrNotYourTurn, http.StatusConflict},
		{fmt.Errorf("%w: bad", game.ErrValidation), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, msg := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
		if got == http.StatusInternalServerError {
			assert.Equal(t, "internal error", msg)
		}
	}
}

func TestCreateSessionClampsAndLists(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, gin.H{"maxPlayers": 99, "totalRounds": 50, "password": "pw"})
	assert.Equal(t, game.MaxPlayers, v.MaxPlayers)
	assert.Equal(t, game.MaxRounds, v.TotalRounds)
	assert.True(t, v.HasPassword)
	assert.NotContains(t, do(t, r, http.MethodGet, "/api/sessions/"+v.ID, nil).Body.String(), "pw")

	empty := createSession(t, r, nil)
	assert.Equal(t, game.DefaultMaxPlayers, empty.MaxPlayers)

	rec := do(t, r, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Sessions []game.SessionSummary `json:"sessions"`
	}](t, rec)
	require.Len(t, list.Sessions, 2)
}

func TestCreateSessionRejectsBadColor(t *testing.T) {
	r := newRouter(t)
	rec := do(t, r, http.MethodPost, "/api/sessions", gin.H{"startColor": "teal"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinErrorsMapToStatus(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, gin.H{"maxPlayers": 2, "password": "pw"})

	rec := do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/join", gin.H{"username": "A"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, name := range []string{"A", "B"} {
		rec = do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/join", gin.H{"username": name, "password": "pw"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/join", gin.H{"username": "C", "password": "pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/sessions/ZZZZZ/join", gin.H{"username": "A"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoundFlowOverREST(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, gin.H{"totalRounds": 2})
	a := join(t, r, v.ID, "A")
	b := join(t, r, v.ID, "B")
	assert.Equal(t, "🇩🇪", a.Country)

	rec := do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/rounds", gin.H{"playerId": a.ID, "selectedColor": "#102030"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[game.RoundResult](t, rec)
	assert.False(t, res.AllPlayersReady)

	rec = do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/rounds", gin.H{"playerId": b.ID, "selectedColor": "#102030"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[game.RoundResult](t, rec).AllPlayersReady)

	rec = do(t, r, http.MethodGet, "/api/sessions/"+v.ID, nil)
	assert.Equal(t, 2, decode[game.SessionView](t, rec).CurrentRound)

	rec = do(t, r, http.MethodGet, "/api/sessions/"+v.ID+"/rounds", nil)
	rounds := decode[struct {
		Rounds []store.Round `json:"rounds"`
	}](t, rec)
	assert.Len(t, rounds.Rounds, 2)

	rec = do(t, r, http.MethodGet, "/api/sessions/"+v.ID+"/leaderboard", nil)
	lb := decode[game.Leaderboard](t, rec)
	require.Len(t, lb.Entries, 2)
	require.NotNil(t, lb.Winner)
}

func TestChatAndQuit(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, nil)
	a := join(t, r, v.ID, "A")
	b := join(t, r, v.ID, "B")

	for _, p := range []game.Player{a, b} {
		rec := do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/chat", gin.H{"playerId": p.ID, "message": "hi from " + p.Username})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := do(t, r, http.MethodDelete, "/api/sessions/"+v.ID+"/players/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, r, http.MethodDelete, "/api/sessions/"+v.ID+"/players/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/sessions/"+v.ID+"/chat?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Messages []store.ChatMessage `json:"messages"`
	}](t, rec)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, b.ID, history.Messages[0].PlayerID)

	rec = do(t, r, http.MethodGet, "/api/sessions/"+v.ID+"/chat?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnAndRematchRoutes(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, gin.H{"totalRounds": 1})
	a := join(t, r, v.ID, "A")

	rec := do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/turn", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[game.TurnInfo](t, rec).PlayerID)

	rec = do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/rematch", gin.H{"playerId": a.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	vote := decode[game.RematchVote](t, rec)
	assert.Equal(t, 1, vote.Needed)
	assert.NotNil(t, vote.Started)

	rec = do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/rematch", gin.H{"playerId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSoloRoutes(t *testing.T) {
	r := newRouter(t)
	for _, score := range []int{500, 2500} {
		rec := do(t, r, http.MethodPost, "/api/solo", gin.H{"username": "solo", "totalScore": score, "completedRounds": 5})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := do(t, r, http.MethodPost, "/api/solo", gin.H{"username": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/rankings/solo?limit=1", nil)
	top := decode[struct {
		Rankings []store.SoloGame `json:"rankings"`
	}](t, rec)
	require.Len(t, top.Rankings, 1)
	assert.Equal(t, 2500, top.Rankings[0].TotalScore)

	rec = do(t, r, http.MethodGet, "/api/rankings/solo/rank?username=me&score=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	standing := decode[match.SoloStanding](t, rec)
	assert.Equal(t, 2, standing.Rank)
	assert.Equal(t, 2, standing.Total)

	rec = do(t, r, http.MethodGet, "/api/rankings/solo/rank?username=me", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRankingRoutes(t *testing.T) {
	r := newRouter(t)
	v := createSession(t, r, gin.H{"totalRounds": 3})
	a := join(t, r, v.ID, "A")
	for i := 0; i < 3; i++ {
		rec := do(t, r, http.MethodPost, "/api/sessions/"+v.ID+"/rounds", gin.H{"playerId": a.ID, "selectedColor": "#000000"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, r, http.MethodGet, "/api/rankings/global", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	global := decode[struct {
		Rankings []store.Ranking `json:"rankings"`
	}](t, rec)
	require.Len(t, global.Rankings, 1)
	assert.Equal(t, 3, global.Rankings[0].CompletedRounds)

	rec = do(t, r, http.MethodGet, "/api/rankings/country/"+url.PathEscape("🇩🇪"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	country := decode[struct {
		Rankings []store.Ranking `json:"rankings"`
	}](t, rec)
	assert.Len(t, country.Rankings, 1)
}
