package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uhyunpark/dexsync/pkg/util"
)

const interval = 5 * time.Second

func newTestSupervisor(report ReportFunc) (*Supervisor, *util.FakeClock) {
	clock := util.NewFakeClock(time.Unix(1_600_000_000, 0))
	return NewSupervisor(Config{Interval: interval, Clock: clock, Report: report}), clock
}

func counter(n *atomic.Int32) Action {
	return func(ctx context.Context, gen uint64) error {
		n.Add(1)
		return nil
	}
}

func TestSupervisor_StartThenStopFetchesOnce(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindOrderbook, Base: "EDO", Quote: "ETH"}

	var books, prices atomic.Int32
	if !sup.Start(context.Background(), key, counter(&books), counter(&prices)) {
		t.Fatal("Start returned false for an idle key")
	}
	if !sup.Stop(key) {
		t.Fatal("Stop returned false for a running key")
	}

	clock.Advance(10 * interval)
	if books.Load() != 1 || prices.Load() != 1 {
		t.Errorf("fetches = (%d, %d), want (1, 1)", books.Load(), prices.Load())
	}
	if len(sup.Running()) != 0 {
		t.Errorf("running = %v, want none", sup.Running())
	}
}

func TestSupervisor_PollsEveryInterval(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindPairs}

	var n atomic.Int32
	sup.Start(context.Background(), key, counter(&n))
	defer sup.StopAll()

	for want := int32(1); want <= 4; want++ {
		clock.BlockUntil(1)
		if got := n.Load(); got != want {
			t.Fatalf("after %d intervals fetches = %d, want %d", want-1, got, want)
		}
		clock.Advance(interval)
	}
}

func TestSupervisor_DuplicateStartIgnored(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindTrades, Base: "EDO", Quote: "ETH"}

	var first, second atomic.Int32
	sup.Start(context.Background(), key, counter(&first))
	if sup.Start(context.Background(), key, counter(&second)) {
		t.Fatal("second Start for a running key returned true")
	}
	clock.BlockUntil(1)
	if clock.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clock.Pending())
	}
	sup.Stop(key)

	if first.Load() != 1 || second.Load() != 0 {
		t.Errorf("fetches = (%d, %d), want (1, 0)", first.Load(), second.Load())
	}
	if sup.Stop(key) {
		t.Error("Stop of an idle key returned true")
	}
}

func TestSupervisor_IndependentKeys(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	a := Key{Kind: KindOrderbook, Base: "EDO", Quote: "ETH"}
	b := Key{Kind: KindOrderbook, Base: "DAI", Quote: "ETH"}

	var na, nb atomic.Int32
	sup.Start(context.Background(), a, counter(&na))
	sup.Start(context.Background(), b, counter(&nb))
	clock.BlockUntil(2)

	sup.Stop(a)
	clock.Advance(interval)
	clock.BlockUntil(1)
	sup.Stop(b)

	if na.Load() != 1 || nb.Load() != 2 {
		t.Errorf("fetches = (%d, %d), want (1, 2)", na.Load(), nb.Load())
	}
}

func TestSupervisor_ErrorsReportedAndLoopContinues(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	sup, clock := newTestSupervisor(func(key Key, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})
	key := Key{Kind: KindPairs}
	boom := errors.New("boom")

	var calls atomic.Int32
	sup.Start(context.Background(), key, func(ctx context.Context, gen uint64) error {
		if calls.Add(1) == 1 {
			return boom
		}
		return nil
	})
	clock.BlockUntil(1)
	clock.Advance(interval)
	clock.BlockUntil(1)
	sup.Stop(key)

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], boom) {
		t.Errorf("reported = %v, want [boom]", reported)
	}
}

func TestSupervisor_GenerationDiscardsStaleResults(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindOrderbook, Base: "EDO", Quote: "ETH"}

	gens := make(chan uint64, 4)
	record := func(ctx context.Context, gen uint64) error {
		gens <- gen
		return nil
	}

	sup.Start(context.Background(), key, record)
	clock.BlockUntil(1)
	g1 := <-gens
	if !sup.IsCurrent(key, g1) {
		t.Fatal("running cycle not current")
	}
	sup.Stop(key)
	if sup.IsCurrent(key, g1) {
		t.Fatal("stopped cycle still current")
	}

	sup.Start(context.Background(), key, record)
	clock.BlockUntil(1)
	g2 := <-gens
	defer sup.Stop(key)
	if g2 == g1 {
		t.Fatal("restart reused the generation")
	}
	if sup.IsCurrent(key, g1) || !sup.IsCurrent(key, g2) {
		t.Error("only the restarted cycle should be current")
	}
}

func TestSupervisor_ParentCancelStopsCycle(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindPairs}
	ctx, cancel := context.WithCancel(context.Background())

	var n atomic.Int32
	sup.Start(ctx, key, counter(&n))
	clock.BlockUntil(1)
	cancel()
	sup.Stop(key)

	clock.Advance(3 * interval)
	if n.Load() != 1 {
		t.Errorf("fetches = %d, want 1", n.Load())
	}
}

func TestSupervisor_RestartAfterParentCancel(t *testing.T) {
	sup, clock := newTestSupervisor(nil)
	key := Key{Kind: KindPairs}
	ctx, cancel := context.WithCancel(context.Background())

	var n atomic.Int32
	if !sup.Start(ctx, key, counter(&n)) {
		t.Fatal("first start rejected")
	}
	clock.BlockUntil(1)
	gen := sup.nextGen
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for len(sup.Running()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("running = %v after parent cancel", sup.Running())
		}
		time.Sleep(time.Millisecond)
	}
	if sup.IsCurrent(key, gen) {
		t.Error("cancelled cycle still current")
	}

	if !sup.Start(context.Background(), key, counter(&n)) {
		t.Fatal("restart after parent cancel rejected")
	}
	defer sup.Stop(key)
	clock.BlockUntil(1)
	if n.Load() != 2 {
		t.Errorf("fetches = %d, want 2", n.Load())
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{Kind: KindPairs}).String(); got != "pairs" {
		t.Errorf("String() = %q", got)
	}
	if got := (Key{Kind: KindTrades, Base: "EDO", Quote: "ETH"}).String(); got != "trades:EDO-ETH" {
		t.Errorf("String() = %q", got)
	}
}
