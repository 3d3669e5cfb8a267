// README: Concurrency tests against PostgreSQL (run with -race and TIFFIN_TEST_DSN).
package order

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"tiffin/internal/types"
)

func claimCmd(id types.ID, rider types.ID) ApplyCommand {
	name := "rider " + string(rider)
	return ApplyCommand{
		OrderID:   id,
		Predicate: Predicate{Statuses: []Status{StatusConfirmed}, RiderUnset: true},
		Mutation:  Mutation{Status: StatusOutForDelivery, RiderID: &rider, RiderName: &name},
		Actor:     types.Actor{Role: types.RoleRider, ID: rider},
	}
}

func TestConcurrentClaimSameOrder(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := NewService(store, flatPricer{})

	o := mustCheckout(t, svc, checkoutCmd("u_claim_race", PaymentCOD))
	if _, err := svc.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, To: StatusConfirmed, Actor: admin}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	wins := make(chan types.ID, attempts)
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		rider := types.ID(fmt.Sprintf("r%d", i))
		wg.Add(1)
		go func(rid types.ID) {
			defer wg.Done()
			<-start
			_, ok, err := svc.Apply(ctx, claimCmd(o.ID, rid))
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins <- rid
			}
		}(rider)
	}
	close(start)
	wg.Wait()
	close(wins)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	var winners []types.ID
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %v", winners)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != StatusOutForDelivery {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
	if got.DeliveryRiderID == nil || *got.DeliveryRiderID != winners[0] {
		t.Fatalf("rider = %v, want %s", got.DeliveryRiderID, winners[0])
	}
	hist, _ := svc.History(ctx, o.ID)
	claims := 0
	for _, e := range hist {
		if e.ToStatus == StatusOutForDelivery {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected one claim event, got %d", claims)
	}
}

func TestConcurrentConfirmVsCancel(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := NewService(store, flatPricer{})

	o := mustCheckout(t, svc, checkoutCmd("u_confirm_cancel", PaymentCOD))
	owner := types.Actor{Role: types.RoleCustomer, ID: "u_confirm_cancel"}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, To: StatusConfirmed, Actor: admin})
		errs <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Actor: owner, Reason: "user_cancel"})
		errs <- err
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrConflict && err != ErrCancelWindowClosed {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != StatusConfirmed && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
	if got.StatusVersion != 1 {
		t.Fatalf("expected a single committed transition, version = %d", got.StatusVersion)
	}
}

func TestCountDeliveredSincePayout(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := NewService(store, flatPricer{})

	deliver := func(user string) {
		o := mustCheckout(t, svc, checkoutCmd(types.ID(user), PaymentCOD))
		if _, err := svc.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, To: StatusConfirmed, Actor: admin}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, ok, err := svc.Apply(ctx, claimCmd(o.ID, "r_count")); err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
		if _, err := svc.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, To: StatusDelivered, Actor: admin}); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	deliver("u_c1")
	deliver("u_c2")

	n, err := store.CountDelivered(ctx, "r_count", nil)
	if err != nil || n != 2 {
		t.Fatalf("count = %d err = %v", n, err)
	}
	recent, _ := store.ListByRider(ctx, "r_count", 10)
	since := recent[0].DeliveredAt
	n, err = store.CountDelivered(ctx, "r_count", since)
	if err != nil || n != 0 {
		t.Fatalf("count since last delivery = %d err = %v", n, err)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TIFFIN_TEST_DSN")
	if dsn == "" {
		t.Skip("TIFFIN_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
