package storage

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.scan(dest...)
}

// fakeTx serves the idempotency-lock statements; everything else panics via
// the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	selects int
	inserts int
	rows    []fakeRow
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.inserts++
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	row := t.rows[t.selects]
	t.selects++
	return row
}

func finalizedRow(statusCode int) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = "key-1"
		*(dest[1].(*string)) = "res_9"
		*(dest[2].(*int)) = statusCode
		*(dest[3].(*string)) = `{"reservation_id":"res_9"}`
		return nil
	}}
}

// Two requests race on a fresh key: the loser's first select misses, its
// insert no-ops on the conflict, and the post-insert select then finds the
// winner's finalized row. The lock must surface it as existing so the
// handler replays the recorded response.
func TestLockIdempotencyKeyReplaysConcurrentlyFinalizedKey(t *testing.T) {
	tx := &fakeTx{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		finalizedRow(http.StatusCreated),
	}}
	repo := NewReservationRepository(nil)

	rec, exists, err := repo.LockIdempotencyKey(context.Background(), tx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("a key finalized by a concurrent request must be reported as existing")
	}
	if rec.StatusCode != http.StatusCreated || rec.ReservationID != "res_9" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if tx.inserts != 1 || tx.selects != 2 {
		t.Fatalf("unexpected statement counts: inserts=%d selects=%d", tx.inserts, tx.selects)
	}
}

func TestLockIdempotencyKeyClaimsFreshKey(t *testing.T) {
	unfinalized := fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = "key-1"
		*(dest[1].(*string)) = ""
		*(dest[2].(*int)) = 0
		*(dest[3].(*string)) = ""
		return nil
	}}
	tx := &fakeTx{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		unfinalized,
	}}
	repo := NewReservationRepository(nil)

	rec, exists, err := repo.LockIdempotencyKey(context.Background(), tx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("a freshly claimed key must not be reported as existing")
	}
	if rec.StatusCode != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLockIdempotencyKeyReturnsRecordedResponse(t *testing.T) {
	tx := &fakeTx{rows: []fakeRow{finalizedRow(http.StatusCreated)}}
	repo := NewReservationRepository(nil)

	rec, exists, err := repo.LockIdempotencyKey(context.Background(), tx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || rec.StatusCode != http.StatusCreated {
		t.Fatalf("expected existing finalized record, got exists=%v rec=%+v", exists, rec)
	}
	if tx.inserts != 0 {
		t.Fatal("an existing key must not be re-inserted")
	}
}
