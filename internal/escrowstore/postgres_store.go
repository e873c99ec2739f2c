package escrowstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_records (
    escrow_id BIGINT NOT NULL,
    chain_id BIGINT NOT NULL,
    depositor_address TEXT NOT NULL,
    recipient_address TEXT NOT NULL,
    amount NUMERIC(78, 0) NOT NULL,
    status TEXT NOT NULL,
    create_tx_hash TEXT NOT NULL,
    accept_deadline TIMESTAMPTZ NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (escrow_id, chain_id)
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO escrow_records (escrow_id, chain_id, depositor_address, recipient_address, amount, status, create_tx_hash, accept_deadline, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (escrow_id, chain_id) DO NOTHING
`, rec.EscrowID, rec.ChainID, rec.DepositorAddress, rec.RecipientAddress, rec.Amount, rec.Status, rec.CreateTxHash, rec.AcceptDeadline, rec.Description)
	return err
}

func (p *PostgresStore) ListByDepositor(ctx context.Context, depositor string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
SELECT escrow_id, chain_id, depositor_address, recipient_address, amount::TEXT, status, create_tx_hash, accept_deadline, description
FROM escrow_records
WHERE depositor_address = $1
ORDER BY accept_deadline DESC
LIMIT $2
`, depositor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.EscrowID, &rec.ChainID, &rec.DepositorAddress, &rec.RecipientAddress, &rec.Amount, &rec.Status, &rec.CreateTxHash, &rec.AcceptDeadline, &rec.Description); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
