package notifications

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const notificationColumns = `id, user_id, type, title, message, data, read, created_at`

func (r *PostgresRepo) Append(ctx context.Context, n Notification) error {
	const q = `
INSERT INTO notifications (` + notificationColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	var data any
	if len(n.Data) > 0 {
		data = string(n.Data)
	}
	_, err := r.db.ExecContext(ctx, q,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		data,
		n.Read,
		n.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		q += ` AND read = false`
	}
	q += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkRead(ctx context.Context, userID, id string) (Notification, error) {
	const q = `
UPDATE notifications SET read = true
WHERE id = $1 AND user_id = $2
RETURNING ` + notificationColumns
	return scanNotification(r.db.QueryRowContext(ctx, q, id, userID))
}

func (r *PostgresRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (Notification, error) {
	var (
		n    Notification
		typ  string
		data []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}
	n.Type = Type(typ)
	if len(data) > 0 {
		n.Data = data
	}
	return n, nil
}
