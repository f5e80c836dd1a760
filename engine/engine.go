package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evdnx/gotick/broker"
	"github.com/evdnx/gotick/clock"
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/metrics"
	"github.com/evdnx/gotick/risk"
	"github.com/evdnx/gotick/strategy"
	"github.com/evdnx/gotick/types"
)

// ErrTransportNotReady is returned by Start when the subscriptions could not
// be sent. The engine stays idle and Start may be retried.
var ErrTransportNotReady = errors.New("transport not ready")

// validation-class broker errors: the attempt is dropped, the run goes on
var recoverableCodes = map[string]bool{
	"ContractBuyValidationError": true,
	"ContractCreationFailure":    true,
	"InputValidationFailed":      true,
	"InvalidContractProposal":    true,
	"OfferingsValidationError":   true,
	"InsufficientBalance":        true,
	"RateLimit":                  true,
}

// Engine runs one bot: it owns the tick window, the signal, the stake book
// and the trade lifecycle, and talks to the broker through a Sender. All
// state changes are serialized on mu; observers are called after it is
// released.
type Engine struct {
	id        string
	tr        broker.Sender
	cfg       config.BotConfig
	params    config.StrategyParams
	newSignal strategy.Factory
	log       logger.Logger
	clock     clock.Clock

	mu         sync.Mutex
	phase      types.Phase
	signal     strategy.Signal
	window     *strategy.Window
	book       *risk.Controller
	subscribed bool
	cooldown   bool // post-settlement pause, ticks do not trigger attempts
	retry      clock.Timer
	retrySeq   uint64 // bumped on every arm and cancel; stale callbacks compare against it

	pending      types.Decision
	pendingStake float64
	open         bool
	contractID   int64
	lastProposal time.Time

	startedAt  time.Time
	stoppedAt  time.Time
	stopReason types.StopReason

	onUpdate func(types.Snapshot)
	onStop   func(types.StopReason)
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New validates the configuration and returns an idle engine.
func New(id string, tr broker.Sender, cfg config.BotConfig, params config.StrategyParams,
	newSignal strategy.Factory, log logger.Logger, opts ...Option) (*Engine, error) {

	if tr == nil {
		return nil, errors.New("engine: nil transport")
	}
	if newSignal == nil {
		return nil, errors.New("engine: nil signal factory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bot config: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy params: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	e := &Engine{
		id:        id,
		tr:        tr,
		cfg:       cfg,
		params:    params,
		newSignal: newSignal,
		log:       logger.With(log, logger.String("bot", id)),
		clock:     clock.Real(),
		phase:     types.PhaseIdle,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// ID is the strategy identifier the engine was built for.
func (e *Engine) ID() string { return e.id }

// SetUpdateCallback registers the single snapshot observer; the last
// registration wins and nil removes it.
func (e *Engine) SetUpdateCallback(fn func(types.Snapshot)) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

// SetStopCallback registers the observer told once per run that the run
// ended and why.
func (e *Engine) SetStopCallback(fn func(types.StopReason)) {
	e.mu.Lock()
	e.onStop = fn
	e.mu.Unlock()
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase.RunState() == types.Running
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() types.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Snapshot returns the current state without waiting for a settlement.
func (e *Engine) Snapshot() types.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Start subscribes to ticks and contract updates and makes the first
// attempt. Calling Start on a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase.RunState() == types.Running {
		return nil
	}
	sig, err := e.newSignal()
	if err != nil {
		return fmt.Errorf("build signal: %w", err)
	}

	e.signal = sig
	e.window = strategy.NewWindow(e.params.WindowSize)
	e.book = risk.NewController(e.cfg, risk.Escalation{After: e.params.EscalateAfter, Step: e.params.EscalationStep})
	e.cooldown, e.open = false, false
	e.pending, e.pendingStake, e.contractID = types.Decision{}, 0, 0
	e.lastProposal = time.Time{}
	e.startedAt, e.stoppedAt = e.clock.Now(), time.Time{}
	e.stopReason = types.StopNone

	e.phase = types.PhaseSubscribing
	if err := e.send(broker.SubscribeTicks(e.params.Symbol)); err != nil {
		e.phase = types.PhaseIdle
		return fmt.Errorf("%w: %v", ErrTransportNotReady, err)
	}
	if err := e.send(broker.SubscribeOpenContracts()); err != nil {
		e.phase = types.PhaseIdle
		return fmt.Errorf("%w: %v", ErrTransportNotReady, err)
	}
	e.subscribed = true
	e.phase = types.PhaseAwaitingSignal

	metrics.BotsRunning.WithLabelValues(e.id).Set(1)
	metrics.CurrentStake.WithLabelValues(e.id).Set(e.book.CurrentStake())
	metrics.TotalProfit.WithLabelValues(e.id).Set(0)
	e.log.Info("bot_started",
		logger.String("symbol", e.params.Symbol),
		logger.String("signal", sig.Name()),
		logger.Float64("initial_stake", e.cfg.InitialStake),
		logger.Float64("take_profit", e.cfg.TakeProfit),
		logger.Float64("stop_loss", e.cfg.StopLoss),
	)
	e.attempt()
	return nil
}

// Stop cancels every subscription and ends the run. It is safe to call at
// any time and more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	n := e.stopLocked(types.StopManual, true)
	e.mu.Unlock()
	e.deliver(n)
}

// Fail ends the run after a transport fault. Nothing is sent on the broken
// transport.
func (e *Engine) Fail(err error) {
	e.mu.Lock()
	if e.phase.RunState() == types.Running {
		e.log.Error("transport_fault", logger.Err(err))
	}
	n := e.stopLocked(types.StopTransportFault, false)
	e.mu.Unlock()
	e.deliver(n)
}

// HandleMessage decodes one raw frame and dispatches it. Undecodable frames
// are logged and dropped.
func (e *Engine) HandleMessage(raw []byte) {
	ev, err := broker.Decode(raw)
	if err != nil {
		e.log.Warn("inbound_decode_failed", logger.Err(err), logger.Int("bytes", len(raw)))
		metrics.InboundIgnored.WithLabelValues(e.id, "malformed").Inc()
		return
	}
	e.HandleEvent(ev)
}

// HandleEvent advances the lifecycle with one decoded event. Events must be
// passed in transport delivery order.
func (e *Engine) HandleEvent(ev broker.Event) {
	e.deliver(e.dispatch(ev))
}

// notice carries observer calls out of the critical section.
type notice struct {
	snap     *types.Snapshot
	stopped  bool
	reason   types.StopReason
	onUpdate func(types.Snapshot)
	onStop   func(types.StopReason)
}

func (e *Engine) deliver(n notice) {
	if n.snap != nil && n.onUpdate != nil {
		n.onUpdate(*n.snap)
	}
	if n.stopped && n.onStop != nil {
		n.onStop(n.reason)
	}
}

func (e *Engine) dispatch(ev broker.Event) (n notice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event_handler_panic",
				logger.Any("panic", r),
				logger.String("msg_type", ev.MsgType()),
				logger.String("phase", e.phase.String()),
			)
			if e.phase.RunState() == types.Running {
				n = e.stopLocked(types.StopInternalFault, true)
			}
		}
	}()

	if _, ok := ev.(broker.Ping); ok {
		_ = e.send(broker.PongRequest{Pong: 1})
		return n
	}
	if e.phase.RunState() != types.Running {
		e.ignore("not_running", ev)
		return n
	}

	switch ev := ev.(type) {
	case broker.Tick:
		e.onTick(ev)
	case broker.ProposalOffer:
		e.onProposal(ev)
	case broker.BuyConfirmation:
		e.onBuy(ev)
	case broker.ContractUpdate:
		return e.onContract(ev)
	case broker.ErrorEvent:
		e.onError(ev)
	default:
		e.ignore("unhandled", ev)
	}
	return n
}

func (e *Engine) onTick(t broker.Tick) {
	if t.Symbol != "" && t.Symbol != e.params.Symbol {
		e.ignore("foreign_symbol", t)
		return
	}
	obs := strategy.Observation{Price: t.Quote, Digit: t.Digit()}
	e.window.Add(obs)
	if o, ok := e.signal.(strategy.TickObserver); ok {
		o.Observe(obs)
	}
	if e.phase == types.PhaseAwaitingSignal && !e.cooldown {
		e.attempt()
	}
}

// attempt consults the signal and sends a proposal when it fires.
// Otherwise it arms the retry timer.
func (e *Engine) attempt() {
	if e.phase != types.PhaseAwaitingSignal || e.cooldown || e.open {
		return
	}
	now := e.clock.Now()
	if gap := e.params.MinTradeInterval; gap > 0 && !e.lastProposal.IsZero() {
		if since := now.Sub(e.lastProposal); since < gap {
			e.scheduleRetry(gap - since)
			return
		}
	}

	d, ok := e.signal.Decide(e.window, strategy.State{ConsecutiveLosses: e.book.ConsecutiveLosses()})
	if !ok {
		e.scheduleRetry(e.params.RetryDelay)
		return
	}
	stake := e.book.CurrentStake()
	req := broker.ProposalRequest{
		Proposal:     1,
		Amount:       stake,
		Basis:        "stake",
		ContractType: string(d.ContractType),
		Currency:     e.params.Currency,
		Duration:     e.params.Duration,
		DurationUnit: e.params.DurationUnit,
		Symbol:       e.params.Symbol,
		Barrier:      d.Barrier,
	}
	if err := e.send(req); err != nil {
		e.scheduleRetry(e.params.RetryDelay)
		return
	}
	e.cancelRetry()
	e.pending, e.pendingStake = d, stake
	e.lastProposal = now
	e.phase = types.PhaseAwaitingQuote
	e.log.Info("proposal_sent",
		logger.String("contract_type", req.ContractType),
		logger.String("barrier", req.Barrier),
		logger.Float64("stake", stake),
	)
}

func (e *Engine) onProposal(p broker.ProposalOffer) {
	if e.phase != types.PhaseAwaitingQuote || e.open {
		e.ignore("unexpected_proposal", p)
		return
	}
	if err := e.send(broker.BuyRequest{Buy: p.ID, Price: p.AskPrice}); err != nil {
		e.phase = types.PhaseAwaitingSignal
		e.scheduleRetry(e.params.RetryDelay)
		return
	}
	e.phase = types.PhaseAwaitingFill
	e.log.Debug("buy_sent", logger.String("proposal_id", p.ID), logger.Float64("price", p.AskPrice))
}

func (e *Engine) onBuy(b broker.BuyConfirmation) {
	if e.phase != types.PhaseAwaitingFill {
		e.ignore("unexpected_buy", b)
		return
	}
	e.open = true
	e.contractID = b.ContractID
	e.phase = types.PhaseAwaitingSettlement
	e.log.Info("contract_bought",
		logger.Int64("contract_id", b.ContractID),
		logger.Float64("buy_price", b.BuyPrice),
	)
}

func (e *Engine) onContract(c broker.ContractUpdate) notice {
	if !c.IsSold {
		return notice{}
	}
	if e.phase != types.PhaseAwaitingSettlement || !e.open {
		e.ignore("unexpected_settlement", c)
		return notice{}
	}
	if e.contractID != 0 && c.ContractID != 0 && c.ContractID != e.contractID {
		e.ignore("foreign_contract", c)
		return notice{}
	}

	rec := e.book.Settle(types.Outcome{
		Stake:  e.pendingStake,
		Profit: c.Profit,
		Label:  e.pending.Label,
		At:     e.clock.Now(),
	})
	e.open, e.contractID = false, 0
	stats := e.book.Stats()

	metrics.Settlements.WithLabelValues(e.id, string(rec.Result)).Inc()
	metrics.TotalProfit.WithLabelValues(e.id).Set(stats.TotalProfit)
	metrics.CurrentStake.WithLabelValues(e.id).Set(stats.CurrentStake)
	e.log.Info("contract_settled",
		logger.Int64("contract_id", c.ContractID),
		logger.String("result", string(rec.Result)),
		logger.Float64("profit", rec.Profit),
		logger.Float64("total_profit", stats.TotalProfit),
		logger.Float64("next_stake", stats.CurrentStake),
		logger.Int("consecutive_losses", stats.ConsecutiveLosses),
	)

	var n notice
	if reason, stop := e.book.StopReason(); stop {
		n = e.stopLocked(reason, true)
	} else {
		e.phase = types.PhaseAwaitingSignal
		if e.params.SettleDelay > 0 {
			e.cooldown = true
			e.scheduleRetry(e.params.SettleDelay)
		} else {
			e.attempt()
		}
	}
	snap := e.snapshotLocked()
	n.snap = &snap
	n.onUpdate = e.onUpdate
	return n
}

func (e *Engine) onError(ev broker.ErrorEvent) {
	inFlight := e.phase == types.PhaseAwaitingQuote || e.phase == types.PhaseAwaitingFill
	if inFlight && (recoverableCodes[ev.Code] || ev.Request == "proposal" || ev.Request == "buy") {
		metrics.QuoteRejections.WithLabelValues(e.id, ev.Code).Inc()
		e.log.Warn("attempt_rejected",
			logger.String("code", ev.Code),
			logger.String("message", ev.Message),
			logger.String("phase", e.phase.String()),
		)
		e.open = false
		e.phase = types.PhaseAwaitingSignal
		e.scheduleRetry(e.params.RetryDelay)
		return
	}
	e.log.Warn("broker_error",
		logger.String("code", ev.Code),
		logger.String("message", ev.Message),
		logger.String("request", ev.Request),
	)
}

func (e *Engine) scheduleRetry(d time.Duration) {
	if e.retry != nil {
		return
	}
	e.retrySeq++
	seq := e.retrySeq
	e.retry = e.clock.AfterFunc(d, func() { e.onRetry(seq) })
}

// cancelRetry disarms the pending timer. A callback that already fired and
// is waiting for the lock finds a newer sequence number and does nothing.
func (e *Engine) cancelRetry() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.retrySeq++
}

func (e *Engine) onRetry(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retry == nil || seq != e.retrySeq {
		return
	}
	e.retry = nil
	e.cooldown = false
	e.attempt()
}

// stopLocked moves to Stopped. The returned notice fires the stop observer
// only when a run was actually in progress.
func (e *Engine) stopLocked(reason types.StopReason, unsubscribe bool) notice {
	if e.phase == types.PhaseStopped {
		return notice{}
	}
	wasRunning := e.phase.RunState() == types.Running

	e.cancelRetry()
	e.cooldown, e.open = false, false
	if e.subscribed && unsubscribe {
		_ = e.send(broker.ForgetAll())
	}
	e.subscribed = false
	e.phase = types.PhaseStopped
	if !wasRunning {
		return notice{}
	}

	e.stopReason = reason
	e.stoppedAt = e.clock.Now()
	metrics.BotsRunning.WithLabelValues(e.id).Set(0)
	fields := []logger.Field{logger.String("reason", string(reason))}
	if e.book != nil {
		st := e.book.Stats()
		fields = append(fields,
			logger.Float64("total_profit", st.TotalProfit),
			logger.Int("total_trades", st.TotalTrades),
		)
	}
	e.log.Info("bot_stopped", fields...)
	return notice{stopped: true, reason: reason, onStop: e.onStop}
}

func (e *Engine) send(cmd broker.Command) error {
	if err := e.tr.Send(cmd); err != nil {
		e.log.Warn("command_send_failed", logger.String("kind", cmd.Kind()), logger.Err(err))
		return err
	}
	metrics.CommandsSent.WithLabelValues(e.id, cmd.Kind()).Inc()
	return nil
}

func (e *Engine) ignore(reason string, ev broker.Event) {
	metrics.InboundIgnored.WithLabelValues(e.id, reason).Inc()
	e.log.Debug("inbound_ignored",
		logger.String("reason", reason),
		logger.String("msg_type", ev.MsgType()),
		logger.String("phase", e.phase.String()),
	)
}

func (e *Engine) snapshotLocked() types.Snapshot {
	snap := types.Snapshot{
		Strategy:     e.id,
		Running:      e.phase.RunState() == types.Running,
		StopReason:   e.stopReason,
		WinRate:      risk.Fixed2(0),
		RunningTime:  risk.FormatElapsed(0),
		TradeHistory: []types.TradeRecord{},
	}
	if e.book == nil {
		snap.CurrentStake = risk.Round2(e.cfg.InitialStake)
		snap.ProgressToTarget = risk.Fixed2(0)
		snap.RangeProgress = risk.Fixed2(risk.RangeProgress(0, e.cfg.TakeProfit, e.cfg.StopLoss))
		return snap
	}
	st := e.book.Stats()
	end := e.clock.Now()
	if !e.stoppedAt.IsZero() {
		end = e.stoppedAt
	}
	snap.CurrentStake = st.CurrentStake
	snap.TotalProfit = st.TotalProfit
	snap.TotalTrades = st.TotalTrades
	snap.Wins = st.Wins
	snap.WinRate = risk.Fixed2(st.WinRate())
	snap.ConsecutiveLosses = st.ConsecutiveLosses
	snap.RunningTime = risk.FormatElapsed(end.Sub(e.startedAt))
	snap.TradeHistory = e.book.History()
	snap.ProgressToTarget, snap.RangeProgress = e.book.Progress()
	return snap
}
