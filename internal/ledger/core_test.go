package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/logging"
)

func newTestCore(t *testing.T, maxRetries int) (*Core, Store) {
	t.Helper()
	store := NewMemoryStore()
	core := NewCore(store, NewMemoryRecords(), audit.NewMemoryJournal(), maxRetries, logging.Discard())
	return core, store
}

func mustBalance(t *testing.T, store Store, account string) Balance {
	t.Helper()
	bal, err := store.Get(context.Background(), account)
	if err != nil {
		t.Fatalf("get balance %s: %v", account, err)
	}
	return bal
}

func TestExecuteTransfer(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 500)

	rec, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-1",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -200},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 200},
		},
		Actor: "player-1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.Status != StatusApplied {
		t.Fatalf("expected status %s got %s", StatusApplied, rec.Status)
	}

	a := mustBalance(t, store, "wallet:a")
	b := mustBalance(t, store, "wallet:b")
	if a.Available != 300 {
		t.Fatalf("expected a available 300 got %d", a.Available)
	}
	if b.Available != 200 {
		t.Fatalf("expected b available 200 got %d", b.Available)
	}
	if a.Version != 1 || b.Version != 1 {
		t.Fatalf("expected both versions 1 got a=%d b=%d", a.Version, b.Version)
	}
}

func TestExecuteRejectsUnbalancedTransfer(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 500)

	rec, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-unbalanced",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -200},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 150},
		},
	})
	if !errors.Is(err, ErrInvalidStepSum) {
		t.Fatalf("expected ErrInvalidStepSum got %v", err)
	}
	if rec.Status != StatusRejected {
		t.Fatalf("expected rejected record got %s", rec.Status)
	}
	if got := mustBalance(t, store, "wallet:a").Available; got != 500 {
		t.Fatalf("rejection must not move funds, a=%d", got)
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 100)

	_, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-overdraw",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -150},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 150},
		},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds got %v", err)
	}

	a := mustBalance(t, store, "wallet:a")
	if a.Available != 100 || a.Version != 0 {
		t.Fatalf("overdraw must not mutate, got available=%d version=%d", a.Available, a.Version)
	}
}

func TestExecuteIdempotentReplay(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 500)

	req := Request{
		ClientTxID: "tx-replay",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -100},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 100},
		},
	}

	first, err := core.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}

	second, err := core.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("replay must not error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different record: %s vs %s", second.ID, first.ID)
	}
	if got := mustBalance(t, store, "wallet:a").Available; got != 400 {
		t.Fatalf("replay must not re-apply, a=%d", got)
	}
}

func TestExecuteRejectedReplayReturnsOriginalError(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 100)

	req := Request{
		ClientTxID: "tx-rejected-replay",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -500},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 500},
		},
	}

	if _, err := core.Execute(context.Background(), req); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds got %v", err)
	}

	// Funds became sufficient since, but the recorded outcome wins.
	SeedBalance(store, "wallet:a", 1000)
	rec, err := core.Execute(context.Background(), req)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("replay of rejection must return recorded error, got %v", err)
	}
	if rec.Status != StatusRejected {
		t.Fatalf("expected rejected record got %s", rec.Status)
	}
}

func TestExecuteMintRequiresPrivilege(t *testing.T) {
	core, store := newTestCore(t, 3)
	if _, err := core.GetBalance(context.Background(), "wallet:a"); err != nil {
		t.Fatalf("materialize account: %v", err)
	}

	_, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-mint-unpriv",
		Steps:      []Step{{Account: "wallet:a", Kind: StepMint, Amount: 100}},
	})
	if !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("expected ErrPrivilegeRequired got %v", err)
	}

	if _, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-mint",
		Steps:      []Step{{Account: "wallet:a", Kind: StepMint, Amount: 100}},
		Privileged: true,
		Actor:      "treasury",
	}); err != nil {
		t.Fatalf("privileged mint: %v", err)
	}
	if got := mustBalance(t, store, "wallet:a").Available; got != 100 {
		t.Fatalf("expected minted balance 100 got %d", got)
	}
}

func TestExecuteMintRejectsUnknownAccount(t *testing.T) {
	core, _ := newTestCore(t, 3)

	_, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-mint-unknown",
		Steps:      []Step{{Account: "wallet:ghost", Kind: StepMint, Amount: 100}},
		Privileged: true,
	})
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount got %v", err)
	}
}

func TestExecuteReserveAndCapture(t *testing.T) {
	core, store := newTestCore(t, 3)
	SeedBalance(store, "wallet:a", 300)

	if _, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-hold",
		Steps:      []Step{{Account: "wallet:a", Kind: StepReserve, Amount: 120}},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	a := mustBalance(t, store, "wallet:a")
	if a.Available != 180 || a.Reserved != 120 {
		t.Fatalf("after reserve got available=%d reserved=%d", a.Available, a.Reserved)
	}

	if _, err := core.Execute(context.Background(), Request{
		ClientTxID: "tx-capture",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepCapture, Amount: 120},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 120},
		},
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	a = mustBalance(t, store, "wallet:a")
	b := mustBalance(t, store, "wallet:b")
	if a.Available != 180 || a.Reserved != 0 {
		t.Fatalf("after capture got available=%d reserved=%d", a.Available, a.Reserved)
	}
	if b.Available != 120 {
		t.Fatalf("expected b available 120 got %d", b.Available)
	}
}

func TestExecuteConcurrentTransfersDrainExactly(t *testing.T) {
	core, store := newTestCore(t, 30)
	SeedBalance(store, "wallet:src", 60)

	const workers = 100
	var succeeded, insufficient atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.Execute(context.Background(), Request{
				Steps: []Step{
					{Account: "wallet:src", Kind: StepTransfer, Amount: -1},
					{Account: "wallet:dst", Kind: StepTransfer, Amount: 1},
				},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 60 {
		t.Fatalf("expected exactly 60 successes got %d", got)
	}
	if got := insufficient.Load(); got != workers-60 {
		t.Fatalf("expected %d overdraw rejections got %d", workers-60, got)
	}

	src := mustBalance(t, store, "wallet:src")
	dst := mustBalance(t, store, "wallet:dst")
	if src.Available != 0 {
		t.Fatalf("source not fully drained: %d", src.Available)
	}
	if dst.Available != 60 {
		t.Fatalf("expected destination 60 got %d", dst.Available)
	}
	if src.Version != 60 {
		t.Fatalf("expected 60 committed writes on source, version=%d", src.Version)
	}
}

// slowRecords adds a round-trip latency to the record repository, widening
// the window between the idempotency claim and the balance writes.
type slowRecords struct {
	Records
	delay time.Duration
}

func (r slowRecords) Find(ctx context.Context, clientTxID string) (Record, bool, error) {
	time.Sleep(r.delay)
	return r.Records.Find(ctx, clientTxID)
}

func (r slowRecords) Begin(ctx context.Context, rec Record) (bool, error) {
	time.Sleep(r.delay)
	return r.Records.Begin(ctx, rec)
}

func TestExecuteConcurrentDuplicateAppliesOnce(t *testing.T) {
	store := NewMemoryStore()
	records := slowRecords{Records: NewMemoryRecords(), delay: 2 * time.Millisecond}
	core := NewCore(store, records, audit.NewMemoryJournal(), 5, logging.Discard())
	SeedBalance(store, "wallet:src", 1000)

	req := Request{
		ClientTxID: "tx-dup",
		Steps: []Step{
			{Account: "wallet:src", Kind: StepTransfer, Amount: -100},
			{Account: "wallet:dst", Kind: StepTransfer, Amount: 100},
		},
		Actor: "player-1",
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = core.Execute(context.Background(), req)
		}(i)
	}
	wg.Wait()

	src := mustBalance(t, store, "wallet:src")
	if src.Available != 900 {
		t.Fatalf("duplicate client tx id applied more than once: available=%d (want 900)", src.Available)
	}
	applied := 0
	for i, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrTransactionInFlight):
			// the loser read back before the winner finished
		default:
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if applied == 0 {
		t.Fatal("expected at least one applied outcome")
	}
}

// gatedStore blocks the first Apply until released, holding a transaction
// mid-flight.
type gatedStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Apply(ctx context.Context, writes []Write) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.Apply(ctx, writes)
}

func TestExecuteReplayWhileInFlight(t *testing.T) {
	gate := &gatedStore{Store: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	core := NewCore(gate, NewMemoryRecords(), audit.NewMemoryJournal(), 3, logging.Discard())
	SeedBalance(gate.Store, "wallet:a", 500)

	req := Request{
		ClientTxID: "tx-slow",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -50},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 50},
		},
		Actor: "player-1",
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := core.Execute(context.Background(), req); err != nil {
			t.Errorf("first execute: %v", err)
		}
	}()

	<-gate.entered
	if _, err := core.Execute(context.Background(), req); !errors.Is(err, ErrTransactionInFlight) {
		t.Fatalf("expected ErrTransactionInFlight got %v", err)
	}

	close(gate.release)
	<-done

	rec, err := core.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("replay after completion: %v", err)
	}
	if rec.Status != StatusApplied {
		t.Fatalf("expected applied replay got %s", rec.Status)
	}
	if got := mustBalance(t, gate.Store, "wallet:a").Available; got != 450 {
		t.Fatalf("expected a single application, available=%d", got)
	}
}

// conflictingStore fails Apply with a version conflict until its failure
// budget runs out.
type conflictingStore struct {
	Store
	failures atomic.Int64
}

func (s *conflictingStore) Apply(ctx context.Context, writes []Write) error {
	if s.failures.Add(-1) >= 0 {
		return ErrVersionConflict
	}
	return s.Store.Apply(ctx, writes)
}

func TestExecuteExhaustionReleasesClaim(t *testing.T) {
	cs := &conflictingStore{Store: NewMemoryStore()}
	cs.failures.Store(2)
	core := NewCore(cs, NewMemoryRecords(), audit.NewMemoryJournal(), 2, logging.Discard())
	SeedBalance(cs.Store, "wallet:a", 100)

	req := Request{
		ClientTxID: "tx-contended",
		Steps: []Step{
			{Account: "wallet:a", Kind: StepTransfer, Amount: -10},
			{Account: "wallet:b", Kind: StepTransfer, Amount: 10},
		},
	}

	if _, err := core.Execute(context.Background(), req); !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict got %v", err)
	}

	// Exhaustion is not a terminal outcome: the same id must be retryable.
	rec, err := core.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("retry after exhaustion: %v", err)
	}
	if rec.Status != StatusApplied {
		t.Fatalf("expected applied retry got %s", rec.Status)
	}
	if got := mustBalance(t, cs.Store, "wallet:a").Available; got != 90 {
		t.Fatalf("expected available 90 got %d", got)
	}
}
