package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/risk"
	"github.com/evdnx/gotick/types"
)

// PaperBroker simulates the broker in process: a seeded random walk of
// quotes, perfect fills at the stake and settlement after the contract's
// tick duration. It implements Conn so a session cannot tell it apart from
// the real stream.
type PaperBroker struct {
	cfg config.PaperConfig
	log logger.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	price     float64
	epoch     int64
	balance   float64
	symbol    string
	ticksOn   bool
	contracts bool
	seq       int64
	offers    map[string]ProposalRequest
	open      []*paperContract

	// outbound queue; never blocks the writer
	qmu    sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
	done   chan struct{}
}

type paperContract struct {
	id        int64
	req       ProposalRequest
	payout    float64
	entry     float64
	offset    float64
	digit     int
	ticksLeft int
	touched   bool
}

// NewPaperBroker starts at cfg.StartPrice with cfg.Balance of paper money.
func NewPaperBroker(cfg config.PaperConfig, log logger.Logger) *PaperBroker {
	return &PaperBroker{
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		price:   cfg.StartPrice,
		epoch:   1_700_000_000,
		balance: cfg.Balance,
		offers:  make(map[string]ProposalRequest),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Balance returns the paper account balance.
func (p *PaperBroker) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// OpenContracts returns the number of unsettled contracts.
func (p *PaperBroker) OpenContracts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// Send handles one outbound command and queues the broker's replies.
func (p *PaperBroker) Send(cmd Command) error {
	if p.isClosed() {
		return ErrNotConnected
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c := cmd.(type) {
	case TicksRequest:
		p.symbol = c.Ticks
		p.ticksOn = true
	case OpenContractsRequest:
		p.contracts = true
	case ProposalRequest:
		p.propose(c)
	case BuyRequest:
		p.buy(c)
	case ForgetAllRequest:
		for _, s := range c.ForgetAll {
			switch s {
			case StreamTicks:
				p.ticksOn = false
			case StreamProposal:
				p.offers = make(map[string]ProposalRequest)
			case StreamOpenContracts:
				p.contracts = false
			}
		}
	case AuthorizeRequest:
		if c.Authorize == "" {
			p.emitError("authorize", "InvalidToken", "The token is invalid.")
			return nil
		}
		p.emit("authorize", map[string]any{"loginid": "VRTC-PAPER", "currency": "USD"})
	case PongRequest:
	default:
		return fmt.Errorf("paper broker: unsupported command %s", cmd.Kind())
	}
	return nil
}

func (p *PaperBroker) propose(c ProposalRequest) {
	if !(c.Amount > 0) {
		p.emitError("proposal", "InputValidationFailed", "Input validation failed: amount")
		return
	}
	if _, err := p.barrierFor(c); err != nil {
		p.emitError("proposal", "ContractBuyValidationError", err.Error())
		return
	}
	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)
	p.offers[id] = c
	p.emit("proposal", map[string]any{
		"id":        id,
		"ask_price": risk.Round2(c.Amount),
		"payout":    risk.Round2(c.Amount * (1 + p.cfg.PayoutRatio)),
	})
}

func (p *PaperBroker) buy(c BuyRequest) {
	offer, ok := p.offers[c.Buy]
	if !ok {
		p.emitError("buy", "InvalidContractProposal", "Proposal has expired or does not exist.")
		return
	}
	delete(p.offers, c.Buy)
	stake := risk.Round2(offer.Amount)
	if c.Price < stake {
		p.emitError("buy", "ContractBuyValidationError", "Contract price has moved.")
		return
	}
	if stake > p.balance {
		p.emitError("buy", "InsufficientBalance", "Your account balance is insufficient to buy this contract.")
		return
	}
	barrier, _ := p.barrierFor(offer)
	p.balance = risk.Round2(p.balance - stake)
	p.seq++
	pc := &paperContract{
		id:        p.seq,
		req:       offer,
		payout:    risk.Round2(stake * (1 + p.cfg.PayoutRatio)),
		entry:     p.price,
		ticksLeft: offer.Duration,
	}
	if isDigitContract(types.ContractType(offer.ContractType)) {
		pc.digit = int(barrier)
	} else {
		pc.offset = barrier
	}
	p.open = append(p.open, pc)
	p.emit("buy", map[string]any{"contract_id": pc.id, "buy_price": stake})
	p.log.Debug("paper_contract_opened",
		logger.Int64("contract_id", pc.id),
		logger.String("contract_type", offer.ContractType),
		logger.Float64("stake", stake),
	)
}

// barrierFor parses and range checks the barrier of a proposal.
func (p *PaperBroker) barrierFor(c ProposalRequest) (float64, error) {
	ct := types.ContractType(c.ContractType)
	switch ct {
	case types.DigitEven, types.DigitOdd:
		return 0, nil
	case types.DigitOver, types.DigitUnder, types.DigitDiff, types.DigitMatch:
		d, err := strconv.Atoi(c.Barrier)
		if err != nil || d < 0 || d > 9 {
			return 0, fmt.Errorf("barrier %q must be a digit", c.Barrier)
		}
		return float64(d), nil
	case types.Call, types.Put:
		if c.Barrier == "" {
			return 0, nil
		}
		fallthrough
	case types.OneTouch, types.NoTouch:
		v, err := strconv.ParseFloat(c.Barrier, 64)
		if err != nil {
			return 0, fmt.Errorf("barrier %q must be an offset", c.Barrier)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("contract type %q not offered", c.ContractType)
	}
}

func isDigitContract(ct types.ContractType) bool {
	switch ct {
	case types.DigitEven, types.DigitOdd, types.DigitOver, types.DigitUnder, types.DigitDiff, types.DigitMatch:
		return true
	}
	return false
}

// Step advances the market by one tick and settles expiring contracts.
func (p *PaperBroker) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	pip := math.Pow10(-p.cfg.PipDecimals)
	next := p.price + p.rng.NormFloat64()*p.cfg.Volatility
	next = math.Round(next/pip) * pip
	if next < pip {
		next = pip
	}
	p.price = next
	p.epoch++
	raw := strconv.FormatFloat(next, 'f', p.cfg.PipDecimals, 64)
	digit := int(raw[len(raw)-1] - '0')

	if p.ticksOn {
		p.emit("tick", map[string]any{
			"symbol": p.symbol,
			"quote":  json.RawMessage(raw),
			"epoch":  p.epoch,
		})
	}

	remaining := p.open[:0]
	for _, c := range p.open {
		c.observe(next)
		c.ticksLeft--
		if c.ticksLeft > 0 {
			remaining = append(remaining, c)
			continue
		}
		p.settle(c, next, digit)
	}
	p.open = remaining
}

func (c *paperContract) observe(price float64) {
	ct := types.ContractType(c.req.ContractType)
	if ct != types.OneTouch && ct != types.NoTouch {
		return
	}
	target := c.entry + c.offset
	if (c.offset >= 0 && price >= target) || (c.offset < 0 && price <= target) {
		c.touched = true
	}
}

func (c *paperContract) won(exit float64, digit int) bool {
	switch types.ContractType(c.req.ContractType) {
	case types.DigitEven:
		return digit%2 == 0
	case types.DigitOdd:
		return digit%2 == 1
	case types.DigitOver:
		return digit > c.digit
	case types.DigitUnder:
		return digit < c.digit
	case types.DigitDiff:
		return digit != c.digit
	case types.DigitMatch:
		return digit == c.digit
	case types.Call:
		return exit > c.entry+c.offset
	case types.Put:
		return exit < c.entry+c.offset
	case types.OneTouch:
		return c.touched
	case types.NoTouch:
		return !c.touched
	}
	return false
}

func (p *PaperBroker) settle(c *paperContract, exit float64, digit int) {
	stake := risk.Round2(c.req.Amount)
	payout, status := 0.0, "lost"
	if c.won(exit, digit) {
		payout, status = c.payout, "won"
	}
	p.balance = risk.Round2(p.balance + payout)
	profit := risk.Round2(payout - stake)
	if p.contracts {
		p.emit("proposal_open_contract", map[string]any{
			"contract_id": c.id,
			"is_sold":     1,
			"profit":      profit,
			"status":      status,
		})
	}
	p.log.Debug("paper_contract_settled",
		logger.Int64("contract_id", c.id),
		logger.String("status", status),
		logger.Float64("profit", profit),
		logger.Float64("balance", p.balance),
	)
}

// Run steps the market every cfg.TickInterval until ctx is done or the
// broker is closed.
func (p *PaperBroker) Run(ctx context.Context) {
	interval := p.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-t.C:
			p.Step()
		}
	}
}

// ReadMessage blocks until a frame is queued or the broker is closed.
func (p *PaperBroker) ReadMessage() ([]byte, error) {
	for {
		p.qmu.Lock()
		if len(p.queue) > 0 {
			msg := p.queue[0]
			p.queue = p.queue[1:]
			p.qmu.Unlock()
			return msg, nil
		}
		closed := p.closed
		p.qmu.Unlock()
		if closed {
			return nil, io.EOF
		}
		select {
		case <-p.notify:
		case <-p.done:
		}
	}
}

// Close stops Run and makes ReadMessage return io.EOF once drained.
func (p *PaperBroker) Close() error {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}

func (p *PaperBroker) isClosed() bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return p.closed
}

func (p *PaperBroker) emit(msgType string, payload any) {
	p.push(map[string]any{"msg_type": msgType, msgType: payload})
}

func (p *PaperBroker) emitError(request, code, message string) {
	p.push(map[string]any{
		"msg_type": request,
		"error":    map[string]string{"code": code, "message": message},
	})
}

func (p *PaperBroker) push(frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		p.log.Error("paper_encode_failed", logger.Err(err))
		return
	}
	p.qmu.Lock()
	if p.closed {
		p.qmu.Unlock()
		return
	}
	p.queue = append(p.queue, data)
	p.qmu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
