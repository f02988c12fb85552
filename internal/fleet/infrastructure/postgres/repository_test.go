package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fleet "fleetrental-cloud/internal/fleet/domain"
)

var recorderSeq int64

// recordingConn captures every statement handed to the database so tests
// can assert the SQL text and bound arguments actually reach the driver.
type recordingConn struct {
	mu      sync.Mutex
	queries []string
	args    [][]driver.NamedValue
}

type recordingDriver struct {
	conn *recordingConn
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("begin not supported")
}

func (c *recordingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	c.args = append(c.args, args)
	return driver.RowsAffected(1), nil
}

func newRecordingDB(t *testing.T) (*sql.DB, *recordingConn) {
	t.Helper()
	conn := &recordingConn{}
	name := fmt.Sprintf("fleet-recorder-%d", atomic.AddInt64(&recorderSeq, 1))
	sql.Register(name, &recordingDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open recording db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, conn
}

func TestUnitSaveSendsStatementAndArguments(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewUnitRepository(db)

	unit := &fleet.Unit{
		ID:       "unit-abc",
		Code:     "U-100",
		Model:    "Tricycle 2024",
		MadeDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:   fleet.StatusStandBy,
	}
	if err := repo.Save(context.Background(), unit); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if len(conn.queries) != 1 {
		t.Fatalf("statements = %d, want 1", len(conn.queries))
	}
	query := conn.queries[0]
	if !strings.Contains(query, "INSERT INTO units") || !strings.Contains(query, "ON CONFLICT (id)") {
		t.Errorf("statement is not the units upsert: %q", query)
	}
	args := conn.args[0]
	if len(args) != 9 {
		t.Fatalf("bound arguments = %d, want 9", len(args))
	}
	if args[0].Value != "unit-abc" || args[1].Value != "U-100" {
		t.Errorf("leading arguments = %v, %v, want unit-abc, U-100", args[0].Value, args[1].Value)
	}
}

func TestUnitSaveRejectsInvalidUnit(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewUnitRepository(db)

	err := repo.Save(context.Background(), &fleet.Unit{ID: "unit-abc"})
	if err == nil {
		t.Fatal("Save accepted a unit without a code")
	}
	if len(conn.queries) != 0 {
		t.Errorf("statements = %d, want 0 for a rejected unit", len(conn.queries))
	}
}

func TestDriverSaveSendsStatementAndArguments(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewDriverRepository(db)

	d := &fleet.Driver{
		ID:     "driver-abc",
		Code:   "D-100",
		Name:   "Juan Dela Cruz",
		Status: fleet.DriverActive,
	}
	if err := repo.Save(context.Background(), d); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if len(conn.queries) != 1 {
		t.Fatalf("statements = %d, want 1", len(conn.queries))
	}
	query := conn.queries[0]
	if !strings.Contains(query, "INSERT INTO drivers") || !strings.Contains(query, "ON CONFLICT (id)") {
		t.Errorf("statement is not the drivers upsert: %q", query)
	}
	args := conn.args[0]
	if len(args) != 7 {
		t.Fatalf("bound arguments = %d, want 7", len(args))
	}
	if args[0].Value != "driver-abc" || args[2].Value != "Juan Dela Cruz" {
		t.Errorf("arguments = %v, %v, want driver-abc, Juan Dela Cruz", args[0].Value, args[2].Value)
	}
}

func TestDriverSaveDoesNotTouchBalances(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewDriverRepository(db)

	d := &fleet.Driver{ID: "driver-abc", Code: "D-100", Name: "Juan Dela Cruz", Status: fleet.DriverActive}
	if err := repo.Save(context.Background(), d); err != nil {
		t.Fatalf("Save: %v", err)
	}

	update := conn.queries[0][strings.Index(conn.queries[0], "DO UPDATE SET"):]
	if strings.Contains(update, "savings") || strings.Contains(update, "debt") {
		t.Errorf("upsert update clause rewrites ledger balances: %q", update)
	}
}
