package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/evdnx/gotick/broker"
	"github.com/evdnx/gotick/clock"
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/strategy"
	"github.com/evdnx/gotick/testutils"
	"github.com/evdnx/gotick/types"
)

// ---------------------------------------------------------------------
// Helper – builds an engine on a mock transport and a manual clock.
// ---------------------------------------------------------------------
type rig struct {
	e     *Engine
	tr    *testutils.MockTransport
	clk   *testutils.ManualClock
	log   *testutils.MockLogger
	snaps []types.Snapshot
	stops []types.StopReason
}

func scenarioConfig() config.BotConfig {
	return config.BotConfig{InitialStake: 1, TakeProfit: 10, StopLoss: 5, MartingaleMultiplier: 2}
}

func alwaysEven() strategy.Factory {
	return func() (strategy.Signal, error) {
		return strategy.NewFixed("even", types.Decision{ContractType: types.DigitEven}), nil
	}
}

func buildRig(t *testing.T, cfg config.BotConfig, params config.StrategyParams, sig strategy.Factory) *rig {
	t.Helper()
	r := &rig{
		tr:  testutils.NewMockTransport(),
		clk: testutils.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		log: testutils.NewMockLogger(),
	}
	e, err := New("evenbot", r.tr, cfg, params, sig, r.log, WithClock(r.clk))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.SetUpdateCallback(func(s types.Snapshot) { r.snaps = append(r.snaps, s) })
	e.SetStopCallback(func(reason types.StopReason) { r.stops = append(r.stops, reason) })
	r.e = e
	return r
}

func (r *rig) feed(format string, args ...any) {
	r.e.HandleMessage([]byte(fmt.Sprintf(format, args...)))
}

func (r *rig) offer(id string, ask float64) {
	r.feed(`{"msg_type":"proposal","proposal":{"id":%q,"ask_price":%v,"payout":%v}}`, id, ask, ask*1.95)
}

func (r *rig) bought(id int64) {
	r.feed(`{"msg_type":"buy","buy":{"contract_id":%d,"buy_price":1}}`, id)
}

func (r *rig) settled(id int64, profit float64) {
	r.feed(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":%d,"is_sold":1,"profit":%v,"status":"sold"}}`, id, profit)
}

func (r *rig) tick(symbol, quote string) {
	r.feed(`{"msg_type":"tick","tick":{"symbol":%q,"quote":%s,"epoch":1}}`, symbol, quote)
}

// cycle drives one proposal through to settlement. The engine must have a
// proposal outstanding when it is called.
func (r *rig) cycle(t *testing.T, id int64, profit float64) {
	t.Helper()
	if r.e.Phase() != types.PhaseAwaitingQuote {
		t.Fatalf("cycle %d: expected AwaitingQuote, got %s", id, r.e.Phase())
	}
	r.offer(fmt.Sprintf("p%d", id), 1)
	if r.e.Phase() != types.PhaseAwaitingFill {
		t.Fatalf("cycle %d: expected AwaitingFill, got %s", id, r.e.Phase())
	}
	r.bought(id)
	if r.e.Phase() != types.PhaseAwaitingSettlement {
		t.Fatalf("cycle %d: expected AwaitingSettlement, got %s", id, r.e.Phase())
	}
	r.settled(id, profit)
}

// ---------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------
func TestStartSubscribesAndProposes(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())

	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.e.IsRunning() {
		t.Fatalf("engine should be running")
	}
	kinds := r.tr.Kinds()
	want := []string{"ticks", "proposal_open_contract", "proposal"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("commands = %v, want %v", kinds, want)
	}
	sub := r.tr.Sent()[0].(broker.TicksRequest)
	if sub.Ticks != "R_10" || sub.Subscribe != 1 {
		t.Fatalf("unexpected tick subscription %+v", sub)
	}
	p := r.tr.Proposals()[0]
	wantP := broker.ProposalRequest{
		Proposal: 1, Amount: 1, Basis: "stake", ContractType: "DIGITEVEN",
		Currency: "USD", Duration: 1, DurationUnit: "t", Symbol: "R_10",
	}
	if p != wantP {
		t.Fatalf("proposal = %+v, want %+v", p, wantP)
	}
	if r.e.Phase() != types.PhaseAwaitingQuote {
		t.Fatalf("phase = %s", r.e.Phase())
	}

	// a second Start is a no-op
	if err := r.e.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if r.tr.Count("ticks") != 1 {
		t.Fatalf("second Start must not resubscribe")
	}
}

func TestStartFailsWhenTransportDown(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	r.tr.FailWith(errors.New("socket closed"))

	err := r.e.Start()
	if !errors.Is(err, ErrTransportNotReady) {
		t.Fatalf("expected ErrTransportNotReady, got %v", err)
	}
	if r.e.IsRunning() || r.e.Phase() != types.PhaseIdle {
		t.Fatalf("engine should stay idle, phase %s", r.e.Phase())
	}
	if r.log.Count("command_send_failed") == 0 {
		t.Fatalf("send failure should be logged")
	}

	r.tr.FailWith(nil)
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
	if !r.e.IsRunning() {
		t.Fatalf("engine should run after recovery")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := scenarioConfig()
	bad.MartingaleMultiplier = 0.5
	if _, err := New("x", testutils.NewMockTransport(), bad, config.DefaultParams("R_10"), alwaysEven(), nil); err == nil {
		t.Fatalf("expected config error")
	}
	params := config.DefaultParams("")
	if _, err := New("x", testutils.NewMockTransport(), scenarioConfig(), params, alwaysEven(), nil); err == nil {
		t.Fatalf("expected params error")
	}

	nonFinite := []config.BotConfig{
		{InitialStake: math.Inf(1), TakeProfit: 10, StopLoss: 5, MartingaleMultiplier: 2},
		{InitialStake: 1, TakeProfit: math.Inf(1), StopLoss: 5, MartingaleMultiplier: 2},
		{InitialStake: 1, TakeProfit: 10, StopLoss: math.Inf(1), MartingaleMultiplier: 2},
		{InitialStake: 1, TakeProfit: 10, StopLoss: 5, MartingaleMultiplier: math.NaN()},
	}
	for i, cfg := range nonFinite {
		if _, err := New("x", testutils.NewMockTransport(), cfg, config.DefaultParams("R_10"), alwaysEven(), nil); err == nil {
			t.Fatalf("case %d: expected non-finite config to be rejected", i)
		}
	}
}

// ---------------------------------------------------------------------
// Stake progression and thresholds
// ---------------------------------------------------------------------
func TestLossLossWinScenario(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcomes := []struct {
		profit     float64
		wantStake  float64
		wantProfit float64
	}{
		{-1, 2, -1},
		{-2, 4, -3},
		{4, 1, 1},
	}
	for i, o := range outcomes {
		r.cycle(t, int64(i+1), o.profit)
		if len(r.snaps) != i+1 {
			t.Fatalf("settlement %d: expected %d snapshots, got %d", i+1, i+1, len(r.snaps))
		}
		s := r.snaps[i]
		if s.CurrentStake != o.wantStake || s.TotalProfit != o.wantProfit {
			t.Fatalf("settlement %d: stake %.2f profit %.2f, want %.2f / %.2f",
				i+1, s.CurrentStake, s.TotalProfit, o.wantStake, o.wantProfit)
		}
		if !s.Running {
			t.Fatalf("settlement %d: engine should still be running", i+1)
		}
		// cooldown: nothing happens until the settle delay elapses
		if got := len(r.tr.Proposals()); got != i+1 {
			t.Fatalf("settlement %d: proposal sent during cooldown", i+1)
		}
		r.clk.Advance(time.Second)
	}

	last := r.snaps[2]
	if last.ConsecutiveLosses != 0 || last.TotalTrades != 3 || last.Wins != 1 {
		t.Fatalf("unexpected final snapshot %+v", last)
	}
	if last.WinRate != "33.33" {
		t.Fatalf("win rate = %s", last.WinRate)
	}
	if last.RunningTime != "00:00:02" {
		t.Fatalf("running time = %s", last.RunningTime)
	}
	if rec, ok := last.LastTrade(); !ok || rec.Result != types.Win || rec.Label != "EVEN" || rec.Stake != 4 {
		t.Fatalf("unexpected last trade %+v", rec)
	}

	var amounts []float64
	for _, p := range r.tr.Proposals() {
		amounts = append(amounts, p.Amount)
	}
	if fmt.Sprint(amounts) != fmt.Sprint([]float64{1, 2, 4, 1}) {
		t.Fatalf("proposal amounts = %v", amounts)
	}
	if len(r.stops) != 0 {
		t.Fatalf("no stop expected, got %v", r.stops)
	}
}

func TestStopsOnTakeProfit(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.cycle(t, 1, 6)
	r.clk.Advance(time.Second)
	r.cycle(t, 2, 4)

	if r.e.Phase() != types.PhaseStopped || r.e.IsRunning() {
		t.Fatalf("engine should stop on take profit, phase %s", r.e.Phase())
	}
	last := r.snaps[len(r.snaps)-1]
	if last.Running || last.StopReason != types.StopTakeProfit || last.TotalProfit != 10 {
		t.Fatalf("unexpected final snapshot %+v", last)
	}
	if len(r.stops) != 1 || r.stops[0] != types.StopTakeProfit {
		t.Fatalf("stop callback = %v", r.stops)
	}
	forget, ok := r.tr.Last().(broker.ForgetAllRequest)
	if !ok || len(forget.ForgetAll) != 3 {
		t.Fatalf("expected forget_all as last command, got %#v", r.tr.Last())
	}

	sent := len(r.tr.Sent())
	for i := 0; i < 5; i++ {
		r.tick("R_10", "6123.51")
	}
	r.offer("late", 1)
	r.clk.Advance(10 * time.Second)
	if len(r.tr.Sent()) != sent {
		t.Fatalf("commands sent after stop: %v", r.tr.Kinds()[sent:])
	}
}

func TestStopLossBoundary(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.cycle(t, 1, -1)
	r.clk.Advance(time.Second)
	r.cycle(t, 2, -2)
	if !r.e.IsRunning() {
		t.Fatalf("-3 must not trigger a stop loss of 5")
	}
	r.clk.Advance(time.Second)
	r.cycle(t, 3, -2)

	if r.e.IsRunning() {
		t.Fatalf("-5 must trigger the stop loss")
	}
	if len(r.stops) != 1 || r.stops[0] != types.StopStopLoss {
		t.Fatalf("stop callback = %v", r.stops)
	}
	if got := r.e.Snapshot(); got.StopReason != types.StopStopLoss || got.TotalProfit != -5 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestEscalationAfterLosingStreak(t *testing.T) {
	params := config.DefaultParams("R_100")
	params.EscalateAfter = 2
	params.EscalationStep = 0.1
	cfg := config.BotConfig{InitialStake: 1, TakeProfit: 100, StopLoss: 100, MartingaleMultiplier: 2}
	r := buildRig(t, cfg, params, alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		r.cycle(t, i, -1)
		r.clk.Advance(time.Second)
	}
	ps := r.tr.Proposals()
	if got := ps[len(ps)-1].Amount; got != 8.4 {
		t.Fatalf("escalated stake = %v, want 8.4", got)
	}
}

// ---------------------------------------------------------------------
// Lifecycle guards
// ---------------------------------------------------------------------
func TestDuplicateEventsAreIgnored(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// settlement and buy confirmation before anything was bought
	r.settled(9, 5)
	r.bought(9)
	if len(r.snaps) != 0 || r.e.Phase() != types.PhaseAwaitingQuote {
		t.Fatalf("out-of-order events changed state: phase %s", r.e.Phase())
	}

	r.offer("p1", 1)
	r.offer("p1", 1)
	if r.tr.Count("buy") != 1 {
		t.Fatalf("duplicate offer produced %d buys", r.tr.Count("buy"))
	}
	r.bought(1)
	r.offer("p2", 1)
	if r.tr.Count("buy") != 1 {
		t.Fatalf("offer while a contract is open must not buy")
	}

	// progress updates for the open contract are not settlements
	r.feed(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":1,"is_sold":0,"profit":0.3}}`)
	if len(r.snaps) != 0 {
		t.Fatalf("unsold update settled the contract")
	}

	r.settled(2, 5)
	if len(r.snaps) != 0 {
		t.Fatalf("settlement for another contract was booked")
	}
	r.settled(1, 0.95)
	r.settled(1, 0.95)
	if len(r.snaps) != 1 || r.snaps[0].TotalTrades != 1 {
		t.Fatalf("expected exactly one settlement, got %d snapshots", len(r.snaps))
	}
}

func TestStopMidCycleIsIdempotent(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.e.Phase() != types.PhaseAwaitingQuote {
		t.Fatalf("phase %s", r.e.Phase())
	}
	r.e.Stop()
	r.e.Stop()

	if r.e.Phase() != types.PhaseStopped {
		t.Fatalf("phase %s, want Stopped", r.e.Phase())
	}
	if r.tr.Count("forget_all") != 1 {
		t.Fatalf("forget_all sent %d times", r.tr.Count("forget_all"))
	}
	if len(r.stops) != 1 || r.stops[0] != types.StopManual {
		t.Fatalf("stop callback = %v", r.stops)
	}

	r.offer("p1", 1)
	if r.tr.Count("buy") != 0 {
		t.Fatalf("offer after stop was bought")
	}
	if r.clk.Pending() != 0 {
		t.Fatalf("timers left armed after stop: %d", r.clk.Pending())
	}
}

func TestStopBeforeStart(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	r.e.Stop()
	if r.e.Phase() != types.PhaseStopped {
		t.Fatalf("phase %s", r.e.Phase())
	}
	if len(r.tr.Sent()) != 0 || len(r.stops) != 0 {
		t.Fatalf("idle stop must not send or notify")
	}
}

func TestRestartResetsBook(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.cycle(t, 1, -1)
	r.e.Stop()

	if err := r.e.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s := r.e.Snapshot()
	if s.TotalTrades != 0 || s.CurrentStake != 1 || s.StopReason != types.StopNone || !s.Running {
		t.Fatalf("restart should begin a fresh book, got %+v", s)
	}
	if r.tr.Count("ticks") != 2 {
		t.Fatalf("restart should resubscribe")
	}
}

func TestTransportFaultStops(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.e.Fail(errors.New("read: connection reset"))
	r.e.Fail(errors.New("again"))

	if r.e.IsRunning() {
		t.Fatalf("engine should stop on transport fault")
	}
	if r.tr.Count("forget_all") != 0 {
		t.Fatalf("nothing may be sent on a broken transport")
	}
	if len(r.stops) != 1 || r.stops[0] != types.StopTransportFault {
		t.Fatalf("stop callback = %v", r.stops)
	}
	if r.log.Count("transport_fault") != 1 {
		t.Fatalf("fault should be logged once")
	}
}

// ---------------------------------------------------------------------
// Broker errors, pings and malformed input
// ---------------------------------------------------------------------
func TestRejectedAttemptResumes(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.feed(`{"msg_type":"proposal","error":{"code":"ContractBuyValidationError","message":"barrier"}}`)
	if !r.e.IsRunning() || r.e.Phase() != types.PhaseAwaitingSignal {
		t.Fatalf("rejected quote: phase %s", r.e.Phase())
	}
	r.clk.Advance(time.Second)
	if len(r.tr.Proposals()) != 2 {
		t.Fatalf("expected a fresh proposal after the retry delay")
	}

	r.offer("p2", 1)
	r.feed(`{"msg_type":"buy","error":{"code":"SomethingNew","message":"price moved"}}`)
	if r.e.Phase() != types.PhaseAwaitingSignal {
		t.Fatalf("rejected buy: phase %s", r.e.Phase())
	}
	r.clk.Advance(time.Second)
	if len(r.tr.Proposals()) != 3 {
		t.Fatalf("expected a fresh proposal after the rejected buy")
	}
	if len(r.stops) != 0 {
		t.Fatalf("rejections must not stop the run")
	}
}

func TestUnrelatedErrorIsOnlyLogged(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.offer("p1", 1)
	r.bought(1)
	r.feed(`{"msg_type":"ticks","error":{"code":"AlreadySubscribed","message":"dup"}}`)
	if r.e.Phase() != types.PhaseAwaitingSettlement {
		t.Fatalf("phase %s", r.e.Phase())
	}
	if r.log.Count("broker_error") != 1 {
		t.Fatalf("error should be logged")
	}
}

func TestPingAnsweredInEveryState(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	ping := `{"msg_type":"ping","ping":"pong"}`

	r.feed(ping)
	if r.tr.Count("pong") != 1 {
		t.Fatalf("idle engine must answer ping")
	}
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.feed(ping)
	if r.tr.Count("pong") != 2 || r.e.Phase() != types.PhaseAwaitingQuote {
		t.Fatalf("ping changed state or went unanswered")
	}
	r.e.Stop()
	r.feed(ping)
	if r.tr.Count("pong") != 3 {
		t.Fatalf("stopped engine must answer ping")
	}
	if pong, ok := r.tr.Last().(broker.PongRequest); !ok || pong.Pong != 1 {
		t.Fatalf("unexpected pong %#v", r.tr.Last())
	}
}

func TestMalformedInputIsSwallowed(t *testing.T) {
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sent := len(r.tr.Sent())
	for _, raw := range []string{`{broken`, `{"msg_type":"tick"}`, `{"proposal":{"id":"x"}}`, ``} {
		r.e.HandleMessage([]byte(raw))
	}
	r.feed(`{"msg_type":"balance","balance":{"balance":10}}`)

	if r.e.Phase() != types.PhaseAwaitingQuote || len(r.tr.Sent()) != sent {
		t.Fatalf("malformed input changed state")
	}
	if r.log.Count("inbound_decode_failed") != 4 {
		t.Fatalf("decode failures logged %d times", r.log.Count("inbound_decode_failed"))
	}
}

// ---------------------------------------------------------------------
// Signal timing
// ---------------------------------------------------------------------
func TestSignalWaitsForHistory(t *testing.T) {
	differ := func() (strategy.Signal, error) { return strategy.NewDiffer(10), nil }
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), differ)
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(r.tr.Proposals()) != 0 {
		t.Fatalf("proposal without history")
	}

	// ticks for another market do not count
	for i := 0; i < 10; i++ {
		r.tick("R_50", "100.11")
	}
	r.clk.Advance(time.Second)
	if len(r.tr.Proposals()) != 0 {
		t.Fatalf("foreign ticks filled the window")
	}

	// digits 0..8 once each, so 9 is the least frequent
	for i := 0; i < 9; i++ {
		r.tick("R_10", fmt.Sprintf("100.1%d", i))
	}
	if len(r.tr.Proposals()) != 0 {
		t.Fatalf("proposal before the window filled")
	}
	r.tick("R_10", "100.10")
	ps := r.tr.Proposals()
	if len(ps) != 1 {
		t.Fatalf("expected a proposal once the window filled, got %d", len(ps))
	}
	if ps[0].ContractType != "DIGITDIFF" || ps[0].Barrier != "9" {
		t.Fatalf("unexpected proposal %+v", ps[0])
	}
}

func TestMinTradeInterval(t *testing.T) {
	params := config.DefaultParams("R_10")
	params.SettleDelay = 100 * time.Millisecond
	params.MinTradeInterval = time.Second
	r := buildRig(t, scenarioConfig(), params, alwaysEven())
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.cycle(t, 1, -1)

	r.clk.Advance(100 * time.Millisecond)
	if len(r.tr.Proposals()) != 1 {
		t.Fatalf("proposal inside the minimum interval")
	}
	r.clk.Advance(900 * time.Millisecond)
	if len(r.tr.Proposals()) != 2 {
		t.Fatalf("expected the next proposal once the interval elapsed")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	run := func() types.Snapshot {
		r := buildRig(t, config.BotConfig{InitialStake: 0.35, TakeProfit: 50, StopLoss: 50, MartingaleMultiplier: 2.1},
			config.DefaultParams("R_10"), alwaysEven())
		if err := r.e.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for i, p := range []float64{-0.35, -0.74, 1.5, -0.35, 0.33, -0.35, -0.74} {
			r.cycle(t, int64(i+1), p)
			r.clk.Advance(time.Second)
		}
		return r.e.Snapshot()
	}
	a, b := run(), run()
	if a.TotalProfit != b.TotalProfit || a.TotalTrades != b.TotalTrades || a.CurrentStake != b.CurrentStake {
		t.Fatalf("replays differ: %+v vs %+v", a, b)
	}
	if a.TotalTrades != 7 {
		t.Fatalf("expected 7 trades, got %d", a.TotalTrades)
	}
}

// ---------------------------------------------------------------------
// Timer races and internal faults
// ---------------------------------------------------------------------

// heldClock hands timers back to the test. A timer can be marked fired
// while its callback is run later, the way a real timer callback waits on
// the engine lock.
type heldClock struct {
	now    time.Time
	timers []*heldTimer
}

type heldTimer struct {
	f       func()
	fired   bool
	stopped bool
}

func (c *heldClock) Now() time.Time { return c.now }

func (c *heldClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	t := &heldTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *heldTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func TestLateRetryCallbackKeepsCooldown(t *testing.T) {
	clk := &heldClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := testutils.NewMockTransport()
	differ := func() (strategy.Signal, error) { return strategy.NewDiffer(10), nil }
	e, err := New("DIFFERbot", tr, scenarioConfig(), config.DefaultParams("R_10"), differ, testutils.NewMockLogger(), WithClock(clk))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := &rig{e: e, tr: tr}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(clk.timers) != 1 {
		t.Fatalf("expected the no-signal retry to be armed, got %d timers", len(clk.timers))
	}
	stale := clk.timers[0]
	stale.fired = true

	// the window fills before the fired callback gets to run
	for i := 0; i < 10; i++ {
		r.tick("R_10", fmt.Sprintf("100.1%d", i))
	}
	if len(tr.Proposals()) != 1 {
		t.Fatalf("expected a proposal once the window filled, got %d", len(tr.Proposals()))
	}
	r.cycle(t, 1, -1)
	if len(clk.timers) != 2 {
		t.Fatalf("expected the settle delay to be armed, got %d timers", len(clk.timers))
	}

	stale.f()
	if len(tr.Proposals()) != 1 {
		t.Fatalf("late callback cut the settle delay short")
	}
	r.tick("R_10", "100.15")
	if len(tr.Proposals()) != 1 {
		t.Fatalf("tick during the settle delay produced a proposal")
	}

	settle := clk.timers[1]
	settle.fired = true
	settle.f()
	if len(tr.Proposals()) != 2 {
		t.Fatalf("settle delay timer should resume trading, got %d proposals", len(tr.Proposals()))
	}
}

// panicky declines the first decision and panics on every later one.
type panicky struct{ calls int }

func (p *panicky) Name() string { return "panicky" }

func (p *panicky) Decide(*strategy.Window, strategy.State) (types.Decision, bool) {
	p.calls++
	if p.calls > 1 {
		panic("decide blew up")
	}
	return types.Decision{}, false
}

func TestHandlerPanicStopsRun(t *testing.T) {
	sig := func() (strategy.Signal, error) { return &panicky{}, nil }
	r := buildRig(t, scenarioConfig(), config.DefaultParams("R_10"), sig)
	if err := r.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.tick("R_10", "100.12")

	if r.e.IsRunning() || r.e.Phase() != types.PhaseStopped {
		t.Fatalf("panic should stop the run, phase %s", r.e.Phase())
	}
	if len(r.stops) != 1 || r.stops[0] != types.StopInternalFault {
		t.Fatalf("stop callback = %v", r.stops)
	}
	if r.tr.Count("forget_all") != 1 {
		t.Fatalf("subscriptions should be released after a panic")
	}
	if r.log.Count("event_handler_panic") != 1 {
		t.Fatalf("panic should be logged once")
	}
	if r.clk.Pending() != 0 {
		t.Fatalf("timers left armed after the fault: %d", r.clk.Pending())
	}
	if got := r.e.Snapshot().StopReason; got != types.StopInternalFault {
		t.Fatalf("snapshot stop reason = %s", got)
	}
}
