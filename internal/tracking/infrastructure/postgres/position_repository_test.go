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

	tracking "fleetrental-cloud/internal/tracking/domain"
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
	name := fmt.Sprintf("position-recorder-%d", atomic.AddInt64(&recorderSeq, 1))
	sql.Register(name, &recordingDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open recording db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, conn
}

func TestInsertSendsStatementAndArguments(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewPositionRepository(db)

	recorded := time.Date(2026, 2, 1, 6, 30, 0, 0, time.UTC)
	err := repo.Insert(context.Background(), tracking.StoredPosition{
		UnitID:    "unit-1",
		Latitude:  14.5995,
		Longitude: 120.9842,
		Speed:     33,
		Timestamp: recorded,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if len(conn.queries) != 1 {
		t.Fatalf("statements = %d, want 1", len(conn.queries))
	}
	query := conn.queries[0]
	if !strings.Contains(query, "INSERT INTO device_positions") {
		t.Errorf("statement does not target device_positions: %q", query)
	}
	if !strings.Contains(query, "ON CONFLICT (unit_id, recorded_at) DO NOTHING") {
		t.Errorf("statement lacks the replay guard: %q", query)
	}
	args := conn.args[0]
	if len(args) != 5 {
		t.Fatalf("bound arguments = %d, want 5", len(args))
	}
	if args[0].Value != "unit-1" {
		t.Errorf("first argument = %v, want unit-1", args[0].Value)
	}
	if args[1].Value != 14.5995 {
		t.Errorf("latitude argument = %v, want 14.5995", args[1].Value)
	}
}

func TestInsertRejectsInvalidPosition(t *testing.T) {
	db, conn := newRecordingDB(t)
	repo := NewPositionRepository(db)

	err := repo.Insert(context.Background(), tracking.StoredPosition{Latitude: 1, Longitude: 1})
	if err == nil {
		t.Fatal("Insert accepted a position without unit id and timestamp")
	}
	if len(conn.queries) != 0 {
		t.Errorf("statements = %d, want 0 for a rejected position", len(conn.queries))
	}
}
