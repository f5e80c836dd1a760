package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbot_commands_sent_total",
			Help: "Outbound broker commands (by strategy and command kind).",
		},
		[]string{"strategy", "kind"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbot_settlements_total",
			Help: "Settled contracts (by strategy and result).",
		},
		[]string{"strategy", "result"},
	)

	InboundIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbot_inbound_ignored_total",
			Help: "Inbound messages dropped without changing state.",
		},
		[]string{"strategy", "reason"},
	)

	QuoteRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbot_quote_rejections_total",
			Help: "Proposal/buy attempts rejected by the broker (by error code).",
		},
		[]string{"strategy", "code"},
	)

	TotalProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickbot_total_profit",
			Help: "Cumulative profit of the current run.",
		},
		[]string{"strategy"},
	)

	CurrentStake = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickbot_current_stake",
			Help: "Stake that will be used for the next proposal.",
		},
		[]string{"strategy"},
	)

	BotsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickbot_bots_running",
			Help: "1 while a bot of the strategy is running.",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsSent,
		Settlements,
		InboundIgnored,
		QuoteRejections,
		TotalProfit,
		CurrentStake,
		BotsRunning,
	)
}
