package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"voip-dashboard/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists call records in the call_records table.
// Partial unique indexes on call_control_id and leg_id enforce one record
// per external id; Update serializes writers with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `id, call_control_id, leg_id, from_number, to_number, direction, status,
  duration_seconds, owner_id, last_provider_payload, created_at, updated_at`

// Both placeholders carry the same value when only one id is known.
const byExternalID = `(call_control_id IN ($1, $2) OR leg_id IN ($1, $2))`

func (s *PostgresStore) Create(ctx context.Context, r CallRecord) (CallRecord, error) {
	if err := validateNew(r); err != nil {
		return CallRecord{}, err
	}
	now := s.clock().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Cross-field collisions are not covered by the unique indexes, so
		// concurrent creators sharing any id serialize on its advisory lock.
		if err := lockExternalID(ctx, tx, r.ExternalID); err != nil {
			return err
		}
		if _, err := scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+callColumns+` FROM call_records WHERE `+byExternalID+` LIMIT 1`,
			keyArgs(r.ExternalID)...)); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		const q = `
INSERT INTO call_records (
  id, call_control_id, leg_id, from_number, to_number, direction, status,
  duration_seconds, owner_id, last_provider_payload, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT DO NOTHING
`
		res, err := tx.ExecContext(ctx, q,
			r.ID,
			utils.NullString(r.CallControlID),
			utils.NullString(r.LegID),
			r.From,
			r.To,
			string(r.Direction),
			string(r.Status),
			nullInt(r.DurationSeconds),
			utils.NullString(r.OwnerID),
			nullJSON(r.LastProviderPayload),
			r.CreatedAt,
			r.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrDuplicate
		}
		return nil
	})
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return CallRecord{}, ErrDuplicate
		}
		return CallRecord{}, err
	}
	return r, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, id ExternalID) (CallRecord, error) {
	if id.IsZero() {
		return CallRecord{}, ErrNotFound
	}
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE `+byExternalID+` ORDER BY created_at LIMIT 1`,
		keyArgs(id)...))
}

func (s *PostgresStore) Update(ctx context.Context, id ExternalID, fn Mutator) (CallRecord, error) {
	if id.IsZero() {
		return CallRecord{}, ErrNotFound
	}

	var out CallRecord
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+callColumns+` FROM call_records WHERE `+byExternalID+` ORDER BY created_at LIMIT 1 FOR UPDATE`,
			keyArgs(id)...))
		if err != nil {
			return err
		}

		next := clone(cur)
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = s.clock().UTC()

		const q = `
UPDATE call_records
SET call_control_id = $2,
    leg_id = $3,
    from_number = $4,
    to_number = $5,
    status = $6,
    duration_seconds = $7,
    owner_id = $8,
    last_provider_payload = $9,
    updated_at = $10
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q,
			next.ID,
			utils.NullString(next.CallControlID),
			utils.NullString(next.LegID),
			next.From,
			next.To,
			string(next.Status),
			nullInt(next.DurationSeconds),
			utils.NullString(next.OwnerID),
			nullJSON(next.LastProviderPayload),
			next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update call record: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return CallRecord{}, ErrDuplicate
		}
		return CallRecord{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		r         CallRecord
		ccid, leg sql.NullString
		owner     sql.NullString
		dur       sql.NullInt64
		payload   []byte
		direction string
		status    string
	)
	if err := row.Scan(
		&r.ID,
		&ccid,
		&leg,
		&r.From,
		&r.To,
		&direction,
		&status,
		&dur,
		&owner,
		&payload,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	r.CallControlID = ccid.String
	r.LegID = leg.String
	r.OwnerID = owner.String
	r.Direction = Direction(direction)
	r.Status = Status(status)
	if dur.Valid {
		r.SetDuration(int(dur.Int64))
	}
	if len(payload) > 0 {
		r.LastProviderPayload = payload
	}
	return r, nil
}

// lockExternalID takes a transaction-scoped advisory lock per id, in sorted
// order so two creators never wait on each other in a cycle.
func lockExternalID(ctx context.Context, tx *sql.Tx, id ExternalID) error {
	keys := id.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("lock call id: %w", err)
		}
	}
	return nil
}

func keyArgs(id ExternalID) []any {
	keys := id.Keys()
	if len(keys) == 1 {
		return []any{keys[0], keys[0]}
	}
	return []any{keys[0], keys[1]}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
