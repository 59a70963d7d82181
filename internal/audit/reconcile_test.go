// Reconciliation is tested through the real ledger core so the journal
// contents match what production writes. The test package is external to
// avoid an import cycle with the ledger.
package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/logging"
)

type fixture struct {
	core        *ledger.Core
	store       ledger.Store
	journal     audit.Journal
	checkpoints audit.CheckpointStore
	reconciler  *audit.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	journal := audit.NewMemoryJournal()
	checkpoints := audit.NewMemoryCheckpoints()
	core := ledger.NewCore(store, ledger.NewMemoryRecords(), journal, 5, logging.Discard())
	reconciler := audit.NewReconciler(journal, checkpoints, liveBalance(store), logging.Discard())
	return &fixture{core: core, store: store, journal: journal, checkpoints: checkpoints, reconciler: reconciler}
}

func liveBalance(store ledger.Store) audit.BalanceFunc {
	return func(ctx context.Context, account string) (audit.BalanceState, bool, error) {
		bal, err := store.Get(ctx, account)
		if errors.Is(err, ledger.ErrUnknownAccount) {
			return audit.BalanceState{}, false, nil
		}
		if err != nil {
			return audit.BalanceState{}, false, err
		}
		return audit.BalanceState{Available: bal.Available, Reserved: bal.Reserved, Version: bal.Version}, true, nil
	}
}

// mint funds an account through the ledger so the movement is journaled.
func (f *fixture) mint(t *testing.T, account string, amount int64) {
	t.Helper()
	if _, err := f.core.GetBalance(context.Background(), account); err != nil {
		t.Fatalf("materialize %s: %v", account, err)
	}
	if _, err := f.core.Execute(context.Background(), ledger.Request{
		Steps:      []ledger.Step{{Account: account, Kind: ledger.StepMint, Amount: amount}},
		Privileged: true,
		Actor:      "treasury",
	}); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) transfer(t *testing.T, from, to string, amount int64) {
	t.Helper()
	if _, err := f.core.Execute(context.Background(), ledger.Request{
		Steps: []ledger.Step{
			{Account: from, Kind: ledger.StepTransfer, Amount: -amount},
			{Account: to, Kind: ledger.StepTransfer, Amount: amount},
		},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
}

func TestReconcileCleanPass(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "wallet:a", 500)
	f.transfer(t, "wallet:a", "wallet:b", 200)

	discrepancies, err := f.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("expected clean pass, got %+v", discrepancies)
	}

	cp, ok, err := f.checkpoints.Get(context.Background(), "wallet:a")
	if err != nil || !ok {
		t.Fatalf("expected checkpoint for wallet:a, ok=%v err=%v", ok, err)
	}
	if cp.Version != 2 || cp.Available != 300 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
}

func TestReconcileDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "wallet:a", 500)
	f.transfer(t, "wallet:a", "wallet:b", 200)

	// Corrupt the live store behind the journal's back.
	ledger.SeedBalance(f.store, "wallet:a", 999)

	discrepancies, err := f.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy got %d", len(discrepancies))
	}
	d := discrepancies[0]
	if d.Account != "wallet:a" || d.ExpectedAvailable != 300 || d.ActualAvailable != 999 {
		t.Fatalf("unexpected discrepancy %+v", d)
	}

	// A discrepancy blocks the checkpoint from advancing.
	if _, ok, _ := f.checkpoints.Get(context.Background(), "wallet:a"); ok {
		t.Fatal("checkpoint must not advance past a discrepancy")
	}
}

func TestReconcileResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "wallet:a", 500)

	if _, err := f.reconciler.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	f.transfer(t, "wallet:a", "wallet:b", 100)
	f.transfer(t, "wallet:a", "wallet:b", 100)

	discrepancies, err := f.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("expected clean pass, got %+v", discrepancies)
	}

	cp, ok, _ := f.checkpoints.Get(context.Background(), "wallet:a")
	if !ok || cp.Version != 3 || cp.Available != 300 {
		t.Fatalf("unexpected checkpoint %+v ok=%v", cp, ok)
	}
}

func TestReconcileScopedToAccounts(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "wallet:a", 500)
	f.mint(t, "wallet:b", 500)
	ledger.SeedBalance(f.store, "wallet:b", 999)

	discrepancies, err := f.reconciler.Reconcile(context.Background(), "wallet:a")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("scoped pass must skip wallet:b, got %+v", discrepancies)
	}
}

func TestReconcileSingleFlight(t *testing.T) {
	journal := audit.NewMemoryJournal()
	if err := journal.Append(context.Background(), []audit.Entry{{
		Account: "wallet:a", AvailableAfter: 100, Version: 1,
	}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := func(context.Context, string) (audit.BalanceState, bool, error) {
		close(entered)
		<-release
		return audit.BalanceState{Available: 100, Version: 1}, true, nil
	}

	r := audit.NewReconciler(journal, audit.NewMemoryCheckpoints(), blocking, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(context.Background())
		done <- err
	}()

	<-entered
	if _, err := r.Reconcile(context.Background()); !errors.Is(err, audit.ErrReconcileRunning) {
		t.Fatalf("expected ErrReconcileRunning got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
}

func TestReconcileDefersWhenJournalTrails(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "wallet:a", 500)

	// A write landed on the store whose journal entry has not been appended
	// yet, the in-flight window between Apply and Append.
	if err := f.store.Apply(context.Background(), []ledger.Write{{
		Account: "wallet:a", Available: 550, Reserved: 0, PrevVersion: 1,
	}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	discrepancies, err := f.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("trailing journal must not surface drift, got %+v", discrepancies)
	}

	// The account is deferred wholesale: no checkpoint until a pass can judge it.
	if _, ok, _ := f.checkpoints.Get(context.Background(), "wallet:a"); ok {
		t.Fatal("checkpoint must not advance while the journal trails")
	}

	// Once the entry lands the next pass settles cleanly.
	if err := f.journal.Append(context.Background(), []audit.Entry{{
		Account: "wallet:a", AvailableAfter: 550, Version: 2, Actor: "treasury",
	}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	discrepancies, err = f.reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("expected clean pass, got %+v", discrepancies)
	}
	cp, ok, _ := f.checkpoints.Get(context.Background(), "wallet:a")
	if !ok || cp.Version != 2 || cp.Available != 550 {
		t.Fatalf("unexpected checkpoint %+v ok=%v", cp, ok)
	}
}
