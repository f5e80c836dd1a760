package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/evdnx/gotick/broker"
	"github.com/evdnx/gotick/engine"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/registry"
	"github.com/evdnx/gotick/store"
	"github.com/evdnx/gotick/types"
)

// ErrAuthorization is returned by Run when the broker rejects the token.
var ErrAuthorization = errors.New("authorization failed")

// Options tune a Session. Zero values select the defaults.
type Options struct {
	Token        string        // authorize before starting when set
	AuthTimeout  time.Duration // default 10s
	StartRetries int           // extra Start attempts on ErrTransportNotReady, default 3
	RetryBackoff time.Duration // first backoff, doubled per attempt, default 500ms
	ReportCron   string        // six-field cron spec of the stats report; empty disables it
}

// Session pairs one broker connection with one bot and owns both for the
// duration of Run.
type Session struct {
	id    string
	botID string
	conn  broker.Conn
	bot   registry.Bot
	store store.Store
	log   logger.Logger
	opts  Options

	mu         sync.Mutex
	lastTrades int

	auth    chan error
	stopped chan types.StopReason
}

// New wires bot to conn. A nil store disables persistence.
func New(botID string, conn broker.Conn, bot registry.Bot, st store.Store, log logger.Logger, opts Options) *Session {
	if st == nil {
		st = store.NoopStore{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.StartRetries <= 0 {
		opts.StartRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		botID:   botID,
		conn:    conn,
		bot:     bot,
		store:   st,
		log:     logger.With(log, logger.String("session", id), logger.String("bot", botID)),
		opts:    opts,
		auth:    make(chan error, 1),
		stopped: make(chan types.StopReason, 1),
	}
}

// ID is the session's uuid, also written to every journal row.
func (s *Session) ID() string { return s.id }

// Run authorizes, starts the bot and feeds it until the bot stops, ctx is
// cancelled or the connection fails. The connection is closed on return.
func (s *Session) Run(ctx context.Context) (types.StopReason, error) {
	s.bot.SetUpdateCallback(s.onSnapshot)
	s.bot.SetStopCallback(func(r types.StopReason) {
		select {
		case s.stopped <- r:
		default:
		}
	})

	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(readErr)
	}()

	reason, runErr := s.run(ctx, readErr)

	closeErr := s.conn.Close()
	<-readDone
	if reason == types.StopTakeProfit || reason == types.StopStopLoss {
		runErr = multierr.Append(runErr, s.store.SetRunning(s.botID, false))
	}
	runErr = multierr.Append(runErr, closeErr)

	snap := s.bot.Snapshot()
	s.log.Info("session_ended",
		logger.String("reason", string(reason)),
		logger.Float64("total_profit", snap.TotalProfit),
		logger.Int("total_trades", snap.TotalTrades),
		logger.String("running_time", snap.RunningTime),
	)
	return reason, runErr
}

func (s *Session) run(ctx context.Context, readErr <-chan error) (types.StopReason, error) {
	if s.opts.Token != "" {
		if err := s.authorize(ctx, readErr); err != nil {
			if ctx.Err() != nil {
				return types.StopManual, nil
			}
			return types.StopTransportFault, err
		}
	}
	if err := s.start(ctx); err != nil {
		if ctx.Err() != nil {
			return types.StopManual, nil
		}
		return types.StopNone, err
	}
	if err := s.store.SetRunning(s.botID, true); err != nil {
		s.log.Warn("store_set_running_failed", logger.Err(err))
	}

	if s.opts.ReportCron != "" {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(s.opts.ReportCron, s.report); err != nil {
			s.bot.Stop()
			return types.StopManual, fmt.Errorf("report cron %q: %w", s.opts.ReportCron, err)
		}
		c.Start()
		defer c.Stop()
	}

	select {
	case <-ctx.Done():
		s.bot.Stop()
		return types.StopManual, nil
	case r := <-s.stopped:
		return r, nil
	case err := <-readErr:
		s.bot.Fail(err)
		return types.StopTransportFault, fmt.Errorf("read: %w", err)
	}
}

func (s *Session) authorize(ctx context.Context, readErr <-chan error) error {
	if err := s.conn.Send(broker.AuthorizeRequest{Authorize: s.opts.Token}); err != nil {
		return fmt.Errorf("send authorize: %w", err)
	}
	timer := time.NewTimer(s.opts.AuthTimeout)
	defer timer.Stop()

	select {
	case err := <-s.auth:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthorization, err)
		}
		s.log.Info("authorized")
		return nil
	case err := <-readErr:
		return fmt.Errorf("read: %w", err)
	case <-timer.C:
		return fmt.Errorf("%w: no reply within %s", ErrAuthorization, s.opts.AuthTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start retries Start with exponential backoff while the transport is not
// ready.
func (s *Session) start(ctx context.Context) error {
	backoff := s.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := s.bot.Start()
		if err == nil {
			return nil
		}
		if !errors.Is(err, engine.ErrTransportNotReady) || attempt >= s.opts.StartRetries {
			return fmt.Errorf("start bot: %w", err)
		}
		s.log.Warn("start_retry", logger.Int("attempt", attempt+1), logger.Duration("backoff", backoff), logger.Err(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

// readLoop decodes every frame once, in arrival order, and hands it to the
// bot. Authorization replies are also routed to the handshake.
func (s *Session) readLoop(readErr chan<- error) {
	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		ev, err := broker.Decode(raw)
		if err != nil {
			s.log.Warn("inbound_decode_failed", logger.Err(err), logger.Int("bytes", len(raw)))
			continue
		}
		switch e := ev.(type) {
		case broker.Authorized:
			s.signalAuth(nil)
		case broker.ErrorEvent:
			if e.Request == "authorize" {
				s.signalAuth(e)
				continue
			}
		}
		s.bot.HandleEvent(ev)
	}
}

func (s *Session) signalAuth(err error) {
	select {
	case s.auth <- err:
	default:
	}
}

// onSnapshot journals the trade a settlement produced.
func (s *Session) onSnapshot(snap types.Snapshot) {
	s.mu.Lock()
	fresh := snap.TotalTrades > s.lastTrades
	s.lastTrades = snap.TotalTrades
	s.mu.Unlock()
	if !fresh {
		return
	}
	rec, ok := snap.LastTrade()
	if !ok {
		return
	}
	err := s.store.RecordTrade(store.Trade{SessionID: s.id, BotID: s.botID, TradeRecord: rec})
	if err != nil {
		s.log.Warn("store_record_trade_failed", logger.Err(err))
	}
}

func (s *Session) report() {
	snap := s.bot.Snapshot()
	s.log.Info("session_report",
		logger.Bool("running", snap.Running),
		logger.Float64("total_profit", snap.TotalProfit),
		logger.Float64("current_stake", snap.CurrentStake),
		logger.Int("total_trades", snap.TotalTrades),
		logger.String("win_rate", snap.WinRate),
		logger.String("progress", snap.ProgressToTarget),
		logger.String("running_time", snap.RunningTime),
	)
}
