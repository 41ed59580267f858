package store

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/yourusername/arcsign/internal/types"
)

// PostgresStore implements Store over a networked relational backend using
// database/sql with the lib/pq driver, the production store.url backend
// named in §6 and §4.2. Every mutation runs inside a SQL transaction, which
// Postgres fsyncs on commit, satisfying the durability requirement; updates
// take an explicit row lock (SELECT ... FOR UPDATE) for the optimistic
// re-read the store interface specifies.
type PostgresStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	source_tx_hash      TEXT PRIMARY KEY,
	source_chain        TEXT NOT NULL,
	destination_chain   TEXT NOT NULL,
	sender              TEXT NOT NULL,
	receiver            TEXT NOT NULL,
	asset               TEXT NOT NULL,
	amount              NUMERIC(20,0) NOT NULL,
	nonce               NUMERIC(20,0) NOT NULL,
	source_timestamp    BIGINT NOT NULL,
	observed_at         TIMESTAMPTZ NOT NULL,
	status              TEXT NOT NULL,
	attempts            INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT,
	destination_tx_hash TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS settlements_status_idx ON settlements (status, created_at);
`

// OpenPostgresStore connects to dsn, applies max connections, and ensures
// the schema exists.
func OpenPostgresStore(dsn string, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, types.NewStoreError("failed to open postgres connection", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, types.NewStoreError("failed to reach postgres", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, types.NewStoreError("failed to apply postgres schema", err)
	}

	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) PutIfAbsent(req types.SettlementRequest) (PutResult, error) {
	now := time.Now()
	res, err := p.db.Exec(`
		INSERT INTO settlements (
			source_tx_hash, source_chain, destination_chain, sender, receiver,
			asset, amount, nonce, source_timestamp, observed_at,
			status, attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$12)
		ON CONFLICT (source_tx_hash) DO NOTHING`,
		req.SourceTxHash, req.SourceChain, req.DestinationChain, req.Sender, req.Receiver,
		req.Asset, req.Amount, req.Nonce, req.SourceTimestamp, req.ObservedAt,
		types.StatusPending, now,
	)
	if err != nil {
		return 0, types.NewStoreError("put_if_absent failed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewStoreError("put_if_absent failed to read result", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (p *PostgresStore) Get(sourceTxHash string) (types.Record, error) {
	row := p.db.QueryRow(`
		SELECT source_chain, destination_chain, sender, receiver, asset, amount,
		       nonce, source_timestamp, observed_at, status, attempts,
		       COALESCE(last_error, ''), COALESCE(destination_tx_hash, ''),
		       created_at, updated_at
		FROM settlements WHERE source_tx_hash = $1`, sourceTxHash)

	rec, err := scanRecord(sourceTxHash, row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, types.NewStoreError("get failed", err)
	}
	return rec, nil
}

func (p *PostgresStore) UpdateState(sourceTxHash string, expected *types.SettlementState, f UpdateFunc) (UpdateResult, types.SettlementState, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return 0, types.SettlementState{}, types.NewStoreError("update_state failed to begin tx", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT status, attempts, COALESCE(last_error, ''), COALESCE(destination_tx_hash, ''),
		       created_at, updated_at
		FROM settlements WHERE source_tx_hash = $1 FOR UPDATE`, sourceTxHash)

	var current types.SettlementState
	err = row.Scan(&current.Status, &current.Attempts, &current.LastError,
		&current.DestinationTxHash, &current.CreatedAt, &current.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound, types.SettlementState{}, nil
	}
	if err != nil {
		return 0, types.SettlementState{}, types.NewStoreError("update_state failed to read current state", err)
	}

	if expected != nil && !sameVersion(current, *expected) {
		return Conflict, current, nil
	}

	next := f(current)
	next.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE settlements
		SET status=$1, attempts=$2, last_error=$3, destination_tx_hash=$4, updated_at=$5
		WHERE source_tx_hash=$6`,
		next.Status, next.Attempts, nullable(next.LastError), nullable(next.DestinationTxHash),
		next.UpdatedAt, sourceTxHash,
	)
	if err != nil {
		return 0, types.SettlementState{}, types.NewStoreError("update_state failed to write", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, types.SettlementState{}, types.NewStoreError("update_state failed to commit", err)
	}

	return Updated, next, nil
}

func (p *PostgresStore) ListByStatus(status types.Status, limit int) ([]types.Record, error) {
	query := `
		SELECT source_tx_hash, source_chain, destination_chain, sender, receiver, asset, amount,
		       nonce, source_timestamp, observed_at, status, attempts,
		       COALESCE(last_error, ''), COALESCE(destination_tx_hash, ''),
		       created_at, updated_at
		FROM settlements WHERE status = $1 ORDER BY created_at ASC`
	args := []interface{}{status}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, types.NewStoreError("list_by_status failed", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *PostgresStore) CountByStatus() (map[types.Status]int, error) {
	rows, err := p.db.Query(`SELECT status, COUNT(*) FROM settlements GROUP BY status`)
	if err != nil {
		return nil, types.NewStoreError("count_by_status failed", err)
	}
	defer rows.Close()

	counts := make(map[types.Status]int)
	for rows.Next() {
		var status types.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.NewStoreError("count_by_status failed to scan", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (p *PostgresStore) ListRecent(limit int) ([]types.Record, error) {
	query := `
		SELECT source_tx_hash, source_chain, destination_chain, sender, receiver, asset, amount,
		       nonce, source_timestamp, observed_at, status, attempts,
		       COALESCE(last_error, ''), COALESCE(destination_tx_hash, ''),
		       created_at, updated_at
		FROM settlements ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, types.NewStoreError("list_recent failed", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sourceTxHash string, row rowScanner) (types.Record, error) {
	var rec types.Record
	rec.Request.SourceTxHash = sourceTxHash

	err := row.Scan(
		&rec.Request.SourceChain, &rec.Request.DestinationChain, &rec.Request.Sender, &rec.Request.Receiver,
		&rec.Request.Asset, &rec.Request.Amount, &rec.Request.Nonce, &rec.Request.SourceTimestamp,
		&rec.Request.ObservedAt, &rec.State.Status, &rec.State.Attempts, &rec.State.LastError,
		&rec.State.DestinationTxHash, &rec.State.CreatedAt, &rec.State.UpdatedAt,
	)
	return rec, err
}

func scanRecords(rows *sql.Rows) ([]types.Record, error) {
	var result []types.Record
	for rows.Next() {
		var rec types.Record
		err := rows.Scan(
			&rec.Request.SourceTxHash, &rec.Request.SourceChain, &rec.Request.DestinationChain,
			&rec.Request.Sender, &rec.Request.Receiver, &rec.Request.Asset, &rec.Request.Amount,
			&rec.Request.Nonce, &rec.Request.SourceTimestamp, &rec.Request.ObservedAt,
			&rec.State.Status, &rec.State.Attempts, &rec.State.LastError,
			&rec.State.DestinationTxHash, &rec.State.CreatedAt, &rec.State.UpdatedAt,
		)
		if err != nil {
			return nil, types.NewStoreError("failed to scan record", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
