package numbers

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voip-dashboard/pkg/utils"

	"github.com/google/uuid"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const numberColumns = `id, owner_id, phone_number, provider_number_id, connection_id, country_code, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	if n.OwnerID == "" || n.PhoneNumber == "" {
		return PhoneNumber{}, ErrInvalidArgument
	}
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt, n.UpdatedAt = now, now

	const q = `
INSERT INTO phone_numbers (` + numberColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	if _, err := r.db.ExecContext(ctx, q,
		n.ID,
		n.OwnerID,
		n.PhoneNumber,
		utils.NullString(n.ProviderNumberID),
		utils.NullString(n.ConnectionID),
		utils.NullString(n.CountryCode),
		n.CreatedAt,
		n.UpdatedAt,
	); err != nil {
		if utils.IsUniqueViolation(err) {
			return PhoneNumber{}, ErrInvalidArgument
		}
		return PhoneNumber{}, err
	}
	return n, nil
}

func (r *PostgresRepo) FindByNumber(ctx context.Context, phoneNumber string) (PhoneNumber, error) {
	return scanNumber(r.db.QueryRowContext(ctx,
		`SELECT `+numberColumns+` FROM phone_numbers WHERE phone_number = $1`, phoneNumber))
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+numberColumns+` FROM phone_numbers WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhoneNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetConnection(ctx context.Context, id, providerNumberID, connectionID string) (PhoneNumber, error) {
	const q = `
UPDATE phone_numbers
SET provider_number_id = COALESCE(NULLIF($2, ''), provider_number_id),
    connection_id = $3,
    updated_at = $4
WHERE id = $1
RETURNING ` + numberColumns
	return scanNumber(r.db.QueryRowContext(ctx, q, id, providerNumberID, connectionID, time.Now().UTC()))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNumber(row rowScanner) (PhoneNumber, error) {
	var (
		n                        PhoneNumber
		providerID, conn, region sql.NullString
	)
	if err := row.Scan(
		&n.ID,
		&n.OwnerID,
		&n.PhoneNumber,
		&providerID,
		&conn,
		&region,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PhoneNumber{}, ErrNotFound
		}
		return PhoneNumber{}, err
	}
	n.ProviderNumberID = providerID.String
	n.ConnectionID = conn.String
	n.CountryCode = region.String
	return n, nil
}
