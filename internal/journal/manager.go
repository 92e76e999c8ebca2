// Package journal keeps an append-only SQLite log of room lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/pkg/types"
)

var (
	ErrClosed       = errors.New("journal is closed")
	ErrWriteTimeout = errors.New("journal write timed out")
)

type Config struct {
	Path         string
	WriteTimeout time.Duration
}

// Manager implements interfaces.Journal on SQLite. All writes funnel
// through one goroutine; reads go straight to the pool.
type Manager struct {
	db           *sql.DB
	writeTimeout time.Duration
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open opens (creating if needed) the journal database and migrates it.
func Open(cfg Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	m := &Manager{
		db:           db,
		writeTimeout: timeout,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()

	logger.Info("journal opened", zap.String("path", cfg.Path))
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Record appends entry, filling in its id and timestamp when empty.
func (m *Manager) Record(ctx context.Context, entry *types.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO room_events (id, room_id, event, user_id, detail, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.RoomID, entry.Event, entry.UserID, entry.Detail, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert journal entry: %w", err)
		}
		return nil
	})
}

// History returns every entry for roomID, oldest first.
func (m *Manager) History(ctx context.Context, roomID string) ([]*types.JournalEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, event, user_id, detail, created_at
		FROM room_events
		WHERE room_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.JournalEntry, 0)
	for rows.Next() {
		var e types.JournalEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Event, &e.UserID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return entries, nil
}

func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
