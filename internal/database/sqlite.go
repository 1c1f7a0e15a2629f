package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// DefaultHistoryLimit bounds GetRoomHistory when the caller passes no limit
const DefaultHistoryLimit = 100

const (
	writeQueueSize = 100
	writeTimeout   = 30 * time.Second
	retryDelay     = 5 * time.Second
)

// SQLiteStore is the embedded ClassStore. Reads go straight to the pool;
// every write funnels through one goroutine because SQLite has a single writer
type SQLiteStore struct {
	db  *sqlx.DB
	log *slog.Logger

	writes     chan writeOp
	shutdown   chan struct{}
	wg         sync.WaitGroup
	retryDelay time.Duration

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	ctx    context.Context
	fn     func(ctx context.Context, db *sqlx.DB) error
	result chan error
}

// classRow is the storage shape of a LiveClass; audience ids are a JSON array
type classRow struct {
	ID          string       `db:"id"`
	Title       string       `db:"title"`
	HostID      string       `db:"host_id"`
	AudienceIDs string       `db:"audience_ids"`
	Status      string       `db:"status"`
	StartedAt   sql.NullTime `db:"started_at"`
	EndedAt     sql.NullTime `db:"ended_at"`
}

func (r classRow) toClass() (*types.LiveClass, error) {
	c := &types.LiveClass{ID: r.ID, Title: r.Title, HostID: r.HostID, Status: r.Status}
	if err := json.Unmarshal([]byte(r.AudienceIDs), &c.AudienceIDs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal audience ids")
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		c.StartedAt = &t
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

// OpenSQLite opens the database file, applies pragmas and migrations, and
// starts the writer goroutine
func OpenSQLite(ctx context.Context, cfg *dbconfig.Config, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", cfg.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db.DB); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to apply SQLite optimizations")
	}

	files, err := dbconfig.Migrations(dbconfig.DriverSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	applied, err := dbconfig.NewMigrationManager(db.DB, files, dbconfig.DriverSQLite).ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	if len(applied) > 0 {
		log.Info("applied migrations", "driver", dbconfig.DriverSQLite, "versions", applied)
	}
	if err := dbconfig.NewSchemaValidator(db.DB).Validate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema validation failed")
	}

	s := &SQLiteStore{
		db:         db,
		log:        log,
		writes:     make(chan writeOp, writeQueueSize),
		shutdown:   make(chan struct{}),
		retryDelay: retryDelay,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// writeLoop runs every write; a failed write is retried exactly once
func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			err := op.fn(op.ctx, s.db)
			if retryable(err) && op.ctx.Err() == nil {
				s.log.Warn("database write failed, retrying", "error", err, "delay", s.retryDelay)
				select {
				case <-time.After(s.retryDelay):
					err = op.fn(op.ctx, s.db)
				case <-op.ctx.Done():
				case <-s.shutdown:
				}
				if err != nil {
					s.log.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *SQLiteStore) executeWrite(ctx context.Context, fn func(ctx context.Context, db *sqlx.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()

	select {
	case s.writes <- writeOp{ctx: ctx, fn: fn, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// CreateClass inserts a class record
func (s *SQLiteStore) CreateClass(ctx context.Context, class *types.LiveClass) error {
	audience := class.AudienceIDs
	if audience == nil {
		audience = []string{}
	}
	ids, err := json.Marshal(audience)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audience ids")
	}
	status := class.Status
	if status == "" {
		status = types.ClassStatusScheduled
	}

	return s.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO live_classes (id, title, host_id, audience_ids, status, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, class.ID, class.Title, class.HostID, string(ids), status, nullTime(class.StartedAt), nullTime(class.EndedAt))
		return errors.Wrap(err, "failed to insert live class")
	})
}

// GetClass retrieves a class by ID
func (s *SQLiteStore) GetClass(ctx context.Context, classID string) (*types.LiveClass, error) {
	var row classRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, title, host_id, audience_ids, status, started_at, ended_at
		FROM live_classes
		WHERE id = ?
	`, classID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrClassNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query live class")
	}
	return row.toClass()
}

// UpdateClassStatus sets status and stamps started_at or ended_at
func (s *SQLiteStore) UpdateClassStatus(ctx context.Context, classID, status string, at time.Time) error {
	query := "UPDATE live_classes SET status = ? WHERE id = ?"
	args := []any{status, classID}
	switch status {
	case types.ClassStatusLive:
		query = "UPDATE live_classes SET status = ?, started_at = ? WHERE id = ?"
		args = []any{status, at.UTC(), classID}
	case types.ClassStatusEnded:
		query = "UPDATE live_classes SET status = ?, ended_at = ? WHERE id = ?"
		args = []any{status, at.UTC(), classID}
	}

	return s.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "failed to update live class")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return interfaces.ErrClassNotFound
		}
		return nil
	})
}

// ListLiveClasses returns live classes, most recently started first
func (s *SQLiteStore) ListLiveClasses(ctx context.Context) ([]*types.LiveClass, error) {
	var rows []classRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, host_id, audience_ids, status, started_at, ended_at
		FROM live_classes
		WHERE status = 'live'
		ORDER BY started_at DESC, id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query live classes")
	}

	classes := make([]*types.LiveClass, 0, len(rows))
	for _, r := range rows {
		c, err := r.toClass()
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// StoreChatMessage persists one chat message
func (s *SQLiteStore) StoreChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	row := *msg
	row.SentAt = msg.SentAt.UTC()
	return s.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO chat_messages (id, room_id, sender_connection_id, sender_user_id, sender_name, text, type, sent_at)
			VALUES (:id, :room_id, :sender_connection_id, :sender_user_id, :sender_name, :text, :type, :sent_at)
		`, &row)
		return errors.Wrap(err, "failed to insert chat message")
	})
}

// GetRoomHistory returns the newest limit messages in chronological order
func (s *SQLiteStore) GetRoomHistory(ctx context.Context, roomID string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var msgs []*types.ChatMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT * FROM (
			SELECT id, room_id, sender_connection_id, sender_user_id, sender_name, text, type, sent_at
			FROM chat_messages
			WHERE room_id = ?
			ORDER BY sent_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY sent_at ASC
	`, roomID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room history")
	}
	return msgs, nil
}

// HealthCheck validates connectivity and that the schema is readable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM live_classes"); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// Close stops the writer and closes the pool
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

// retryable excludes outcomes a second attempt cannot change
func retryable(err error) bool {
	if err == nil || errors.Is(err, interfaces.ErrClassNotFound) {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return false
	}
	return true
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
