package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// PostgresStore is the ClassStore for deployments that share class records
// across coordinator nodes. Postgres handles concurrent writers itself
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// OpenPostgres connects a pool and applies migrations
func OpenPostgres(ctx context.Context, cfg *dbconfig.Config, log *slog.Logger) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid postgres url")
	}
	pc.MaxConns = int32(cfg.MaxConnections)
	pc.MaxConnLifetime = cfg.ConnMaxLifetime
	pc.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to reach postgres")
	}

	files, err := dbconfig.Migrations(dbconfig.DriverPostgres)
	if err != nil {
		pool.Close()
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	applied, err := dbconfig.NewMigrationManager(db, files, dbconfig.DriverPostgres).ApplyMigrations(ctx)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	if len(applied) > 0 {
		log.Info("applied migrations", "driver", dbconfig.DriverPostgres, "versions", applied)
	}

	return &PostgresStore{pool: pool, log: log}, nil
}

func (p *PostgresStore) CreateClass(ctx context.Context, class *types.LiveClass) error {
	audience := class.AudienceIDs
	if audience == nil {
		audience = []string{}
	}
	status := class.Status
	if status == "" {
		status = types.ClassStatusScheduled
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO live_classes (id, title, host_id, audience_ids, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, class.ID, class.Title, class.HostID, audience, status, class.StartedAt, class.EndedAt)
	return errors.Wrap(err, "failed to insert live class")
}

const classColumns = "id, title, host_id, audience_ids, status, started_at, ended_at"

func scanClass(row pgx.Row) (*types.LiveClass, error) {
	var c types.LiveClass
	if err := row.Scan(&c.ID, &c.Title, &c.HostID, &c.AudienceIDs, &c.Status, &c.StartedAt, &c.EndedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) GetClass(ctx context.Context, classID string) (*types.LiveClass, error) {
	c, err := scanClass(p.pool.QueryRow(ctx, "SELECT "+classColumns+" FROM live_classes WHERE id = $1", classID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrClassNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query live class")
	}
	return c, nil
}

func (p *PostgresStore) UpdateClassStatus(ctx context.Context, classID, status string, at time.Time) error {
	query := "UPDATE live_classes SET status = $1 WHERE id = $2"
	args := []any{status, classID}
	switch status {
	case types.ClassStatusLive:
		query = "UPDATE live_classes SET status = $1, started_at = $3 WHERE id = $2"
		args = append(args, at)
	case types.ClassStatusEnded:
		query = "UPDATE live_classes SET status = $1, ended_at = $3 WHERE id = $2"
		args = append(args, at)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update live class")
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrClassNotFound
	}
	return nil
}

func (p *PostgresStore) ListLiveClasses(ctx context.Context) ([]*types.LiveClass, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+classColumns+" FROM live_classes WHERE status = 'live' ORDER BY started_at DESC, id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query live classes")
	}
	defer rows.Close()

	var out []*types.LiveClass
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan live class")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) StoreChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_connection_id, sender_user_id, sender_name, text, type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.RoomID, msg.SenderConnectionID, msg.SenderUserID, msg.Sender, msg.Text, string(msg.Type), msg.SentAt)
	return errors.Wrap(err, "failed to insert chat message")
}

func (p *PostgresStore) GetRoomHistory(ctx context.Context, roomID string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, room_id, sender_connection_id, sender_user_id, sender_name, text, type, sent_at FROM (
			SELECT * FROM chat_messages WHERE room_id = $1 ORDER BY sent_at DESC LIMIT $2
		) recent ORDER BY sent_at ASC
	`, roomID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room history")
	}
	defer rows.Close()

	var out []*types.ChatMessage
	for rows.Next() {
		var m types.ChatMessage
		var chatType string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderConnectionID, &m.SenderUserID, &m.Sender, &m.Text, &chatType, &m.SentAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat message")
		}
		m.Type = types.ChatType(chatType)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	return errors.Wrap(p.pool.Ping(ctx), "postgres ping failed")
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
