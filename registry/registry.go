package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/evdnx/gotick/broker"
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/engine"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/strategy"
	"github.com/evdnx/gotick/types"
)

// ErrUnknownStrategy is returned by Build for ids missing from the catalog.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Bot is the uniform control surface of every catalog entry.
type Bot interface {
	Start() error
	Stop()
	Fail(err error)
	HandleMessage(raw []byte)
	HandleEvent(ev broker.Event)
	SetUpdateCallback(fn func(types.Snapshot))
	SetStopCallback(fn func(types.StopReason))
	IsRunning() bool
	Snapshot() types.Snapshot
}

var _ Bot = (*engine.Engine)(nil)

// Entry describes one bot: the market it trades and how its signal is
// built. Signal is called once per Build; the factory it returns once per
// run.
type Entry struct {
	ID          string
	Description string
	Params      config.StrategyParams
	Signal      func(log logger.Logger) strategy.Factory
}

// Registry maps strategy ids to catalog entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds e. Ids are unique and the params must be valid.
func (r *Registry) Register(e Entry) error {
	if e.ID == "" {
		return errors.New("registry: empty id")
	}
	if e.Signal == nil {
		return fmt.Errorf("registry: %s has no signal", e.ID)
	}
	if err := e.Params.Validate(); err != nil {
		return fmt.Errorf("registry: %s: %w", e.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[e.ID]; dup {
		return fmt.Errorf("registry: %s already registered", e.ID)
	}
	r.entries[e.ID] = e
	return nil
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// IDs lists the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type buildOptions struct {
	currency string
	engine   []engine.Option
}

// BuildOption adjusts a single Build call.
type BuildOption func(*buildOptions)

// WithCurrency overrides the catalog currency (the account currency wins).
func WithCurrency(c string) BuildOption {
	return func(o *buildOptions) { o.currency = c }
}

// WithEngineOptions forwards options to engine.New.
func WithEngineOptions(opts ...engine.Option) BuildOption {
	return func(o *buildOptions) { o.engine = append(o.engine, opts...) }
}

// Build constructs an idle bot for id bound to tr.
func (r *Registry) Build(id string, tr broker.Sender, cfg config.BotConfig, log logger.Logger, opts ...BuildOption) (Bot, error) {
	e, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}
	params := e.Params
	if bo.currency != "" {
		params.Currency = bo.currency
	}
	if log == nil {
		log = logger.NewNop()
	}
	return engine.New(e.ID, tr, cfg, params, e.Signal(log), log, bo.engine...)
}
