package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdexp2p",
		Subsystem: "protocol",
		Name:      "tasks_total",
		Help:      "Number of protocol tasks run, by step and result.",
	}, []string{"step", "result"})

	stateCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdexp2p",
		Subsystem: "protocol",
		Name:      "trade_state_transitions_total",
		Help:      "Number of trade state transitions, by role and target state.",
	}, []string{"role", "state"})

	droppedMessagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdexp2p",
		Subsystem: "protocol",
		Name:      "dropped_messages_total",
		Help:      "Number of inbound messages dropped by the dispatcher, by type.",
	}, []string{"type"})
)

func resultLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
