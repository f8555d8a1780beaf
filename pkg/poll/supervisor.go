// Package poll runs the periodic market-data updaters. Each subscription key
// owns at most one polling cycle; cycles for different keys run concurrently.
package poll

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/dexsync/params"
	"github.com/uhyunpark/dexsync/pkg/util"
)

type Kind string

const (
	KindOrderbook Kind = "orderbook"
	KindTrades    Kind = "trades"
	KindPairs     Kind = "pairs"
	KindBlocks    Kind = "blocks"
)

// Key identifies one subscription. Pairs updaters leave Base and Quote empty.
type Key struct {
	Kind  Kind   `json:"kind"`
	Base  string `json:"base,omitempty"`
	Quote string `json:"quote,omitempty"`
}

func (k Key) String() string {
	if k.Base == "" && k.Quote == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.Base + "-" + k.Quote
}

// Action performs one fetch-and-emit step. gen identifies the cycle that ran
// it; results should only be applied while Supervisor.IsCurrent(key, gen).
type Action func(ctx context.Context, gen uint64) error

// ReportFunc receives every failed emission.
type ReportFunc func(key Key, err error)

type Config struct {
	Interval time.Duration
	Clock    util.Clock
	Logger   *zap.SugaredLogger
	Report   ReportFunc
}

type cycle struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor starts, stops and tracks polling cycles.
type Supervisor struct {
	interval time.Duration
	clock    util.Clock
	logger   *zap.SugaredLogger
	report   ReportFunc

	mu      sync.Mutex
	running map[Key]*cycle
	nextGen uint64
}

func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = params.DefaultPollInterval
	}
	return &Supervisor{
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   util.OrNop(cfg.Logger),
		report:   cfg.Report,
		running:  make(map[Key]*cycle),
	}
}

// Start launches a cycle for key running actions in order every interval. The
// first emission happens immediately and is never skipped, even when Stop
// follows at once. Starting a key that is already running is a no-op and
// returns false.
func (s *Supervisor) Start(ctx context.Context, key Key, actions ...Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[key]; ok {
		s.logger.Debugw("updater_already_running", "key", key.String())
		return false
	}

	s.nextGen++
	cctx, cancel := context.WithCancel(ctx)
	c := &cycle{gen: s.nextGen, cancel: cancel, done: make(chan struct{})}
	s.running[key] = c

	s.logger.Infow("updater_started", "kind", key.Kind, "base", key.Base, "quote", key.Quote, "gen", c.gen)
	go s.run(cctx, key, c, actions)
	return true
}

// Stop cancels the cycle for key and waits until it has exited. Stopping an
// idle key is a no-op and returns false. Stop must not be called from an Action.
func (s *Supervisor) Stop(key Key) bool {
	s.mu.Lock()
	c, ok := s.running[key]
	if ok {
		delete(s.running, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	c.cancel()
	<-c.done
	s.logger.Infow("updater_stopped", "kind", key.Kind, "base", key.Base, "quote", key.Quote, "gen", c.gen)
	return true
}

// StopAll stops every running cycle.
func (s *Supervisor) StopAll() {
	for _, k := range s.Running() {
		s.Stop(k)
	}
}

// IsCurrent reports whether gen is the live cycle of key. Results carrying an
// older generation belong to a stopped or replaced cycle and must be dropped.
func (s *Supervisor) IsCurrent(key Key, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.running[key]
	return ok && c.gen == gen
}

func (s *Supervisor) Running() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.running))
	for k := range s.running {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// run loops until ctx is done. A cycle that ends without Stop, because the
// parent ctx was cancelled, unregisters itself so key can be started again.
func (s *Supervisor) run(ctx context.Context, key Key, c *cycle, actions []Action) {
	defer func() {
		s.mu.Lock()
		if s.running[key] == c {
			delete(s.running, key)
			s.logger.Infow("updater_exited", "kind", key.Kind, "base", key.Base, "quote", key.Quote, "gen", c.gen)
		}
		s.mu.Unlock()
		close(c.done)
	}()

	for {
		s.emit(ctx, key, c.gen, actions)

		t := s.clock.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Supervisor) emit(ctx context.Context, key Key, gen uint64, actions []Action) {
	for _, act := range actions {
		err := act(ctx, gen)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			continue
		}
		s.logger.Warnw("updater_emit_failed", "key", key.String(), "gen", gen, "err", err)
		if s.report != nil {
			s.report(key, err)
		}
	}
}
