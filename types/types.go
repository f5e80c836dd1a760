package types

import "time"

// ContractType is the broker's contract_type value.
type ContractType string

const (
	DigitEven  ContractType = "DIGITEVEN"
	DigitOdd   ContractType = "DIGITODD"
	DigitOver  ContractType = "DIGITOVER"
	DigitUnder ContractType = "DIGITUNDER"
	DigitDiff  ContractType = "DIGITDIFF"
	DigitMatch ContractType = "DIGITMATCH"
	OneTouch   ContractType = "ONETOUCH"
	NoTouch    ContractType = "NOTOUCH"
	Call       ContractType = "CALL"
	Put        ContractType = "PUT"
)

// Decision is what a signal asks the engine to trade next.
type Decision struct {
	ContractType ContractType
	Barrier      string // empty = no barrier
	Label        string // shown in the trade history
}

// Result of a settled contract.
type Result string

const (
	Win  Result = "win"
	Loss Result = "loss"
)

// Outcome is the input to a single settlement.
type Outcome struct {
	Stake  float64
	Profit float64
	Label  string
	At     time.Time
}

// Win reports whether the contract paid out.
func (o Outcome) Win() bool { return o.Profit > 0 }

// TradeRecord is one entry of the bounded trade history.
type TradeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Stake     float64   `json:"stake"`
	Result    Result    `json:"result"`
	Profit    float64   `json:"profit"`
	Label     string    `json:"label,omitempty"`
}

// RunState is the coarse, externally visible state of a bot.
type RunState string

const (
	Idle    RunState = "idle"
	Running RunState = "running"
	Stopped RunState = "stopped"
)

// Phase is the fine-grained lifecycle position of the engine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubscribing
	PhaseAwaitingSignal
	PhaseAwaitingQuote
	PhaseAwaitingFill
	PhaseAwaitingSettlement
	PhaseStopped
)

var phaseNames = [...]string{
	"idle",
	"subscribing",
	"awaiting_signal",
	"awaiting_quote",
	"awaiting_fill",
	"awaiting_settlement",
	"stopped",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// RunState collapses the phase into Idle / Running / Stopped.
func (p Phase) RunState() RunState {
	switch p {
	case PhaseIdle:
		return Idle
	case PhaseStopped:
		return Stopped
	default:
		return Running
	}
}

// InFlight reports whether a trade is between proposal and settlement.
func (p Phase) InFlight() bool {
	return p == PhaseAwaitingQuote || p == PhaseAwaitingFill || p == PhaseAwaitingSettlement
}

// StopReason explains why a run ended.
type StopReason string

const (
	StopNone           StopReason = ""
	StopTakeProfit     StopReason = "take_profit"
	StopStopLoss       StopReason = "stop_loss"
	StopManual         StopReason = "manual"
	StopTransportFault StopReason = "transport_fault"
	StopInternalFault  StopReason = "internal_fault"
)

// Snapshot is the immutable view handed to the update observer.
type Snapshot struct {
	Strategy          string        `json:"strategy"`
	Running           bool          `json:"running"`
	StopReason        StopReason    `json:"stopReason,omitempty"`
	CurrentStake      float64       `json:"currentStake"`
	TotalProfit       float64       `json:"totalProfit"`
	TotalTrades       int           `json:"totalTrades"`
	Wins              int           `json:"wins"`
	WinRate           string        `json:"winRate"`
	ConsecutiveLosses int           `json:"consecutiveLosses"`
	RunningTime       string        `json:"runningTime"`
	TradeHistory      []TradeRecord `json:"tradeHistory"`
	ProgressToTarget  string        `json:"progressToTarget"`
	RangeProgress     string        `json:"rangeProgress"`
}

// LastTrade returns the most recent trade, if any.
func (s Snapshot) LastTrade() (TradeRecord, bool) {
	if len(s.TradeHistory) == 0 {
		return TradeRecord{}, false
	}
	return s.TradeHistory[0], true
}
