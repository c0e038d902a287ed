package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hueduel_sessions_created_total",
			Help: "Sessions created since process start",
		},
	)
	PlayersJoined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hueduel_players_joined_total",
			Help: "Successful session joins",
		},
	)
	RoundsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hueduel_rounds_submitted_total",
			Help: "Round submissions, forced ones are timeouts",
		},
		[]string{"forced"},
	)
	TurnTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hueduel_turn_timeouts_total",
			Help: "Turns that expired and were force-submitted",
		},
	)
	BroadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hueduel_broadcast_dropped_total",
			Help: "Realtime events dropped because a connection outbox was full or closed",
		},
		[]string{"event"},
	)
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hueduel_store_writes_total",
			Help: "Record store writes by outcome",
		},
		[]string{"result"},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hueduel_active_sessions",
			Help: "Sessions currently in the active state",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(PlayersJoined)
	prometheus.MustRegister(RoundsSubmitted)
	prometheus.MustRegister(TurnTimeouts)
	prometheus.MustRegister(BroadcastDropped)
	prometheus.MustRegister(StoreWrites)
	prometheus.MustRegister(ActiveSessions)
}
