package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Append(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, user_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RoomID, m.UserID, m.Content, m.SentAt)
	return err
}

func (r *repoPG) ListByRoom(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, room_id, user_id, content, sent_at
		FROM chat_messages
		WHERE room_id = $1 AND ($2::timestamptz IS NULL OR sent_at < $2)
		ORDER BY sent_at DESC
		LIMIT $3`, roomID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest first from the index; callers read oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
