// Package postgres mirrors daemon state into Postgres for reporting and
// can serve as the primary snapshot store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolKeeper/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS poold_state (
	name       TEXT PRIMARY KEY,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS pools (
	pool_address    TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	derivation_path TEXT[] NOT NULL,
	head_sequence   BIGINT NOT NULL,
	custody_txid    TEXT,
	custody_vout    INTEGER,
	custody_value   BIGINT NOT NULL DEFAULT 0,
	total_deposited BIGINT NOT NULL DEFAULT 0,
	total_liability BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS liabilities (
	funding_tx        TEXT PRIMARY KEY,
	depositor_address TEXT NOT NULL,
	pool_address      TEXT NOT NULL,
	liability_amount  BIGINT NOT NULL,
	funding_amount    BIGINT NOT NULL,
	nonce             BIGINT NOT NULL,
	mint_tx           TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for snapshots and reporting rows.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the store writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertPools inserts or updates one reporting row per pool ledger.
func (s *Store) UpsertPools(ctx context.Context, ledgers []model.LedgerSnapshot) error {
	if len(ledgers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range ledgers {
		row := poolRowOf(l)
		batch.Queue(`
			INSERT INTO pools (
				pool_address, name, derivation_path, head_sequence, custody_txid, custody_vout,
				custody_value, total_deposited, total_liability, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (pool_address)
			DO UPDATE SET
				name = EXCLUDED.name,
				head_sequence = EXCLUDED.head_sequence,
				custody_txid = EXCLUDED.custody_txid,
				custody_vout = EXCLUDED.custody_vout,
				custody_value = EXCLUDED.custody_value,
				total_deposited = EXCLUDED.total_deposited,
				total_liability = EXCLUDED.total_liability,
				updated_at = now()
		`,
			row.Address,
			row.Name,
			row.DerivationPath,
			row.HeadSequence,
			row.CustodyTxID,
			row.CustodyVout,
			row.CustodyValue,
			int64(l.TotalDeposited),
			int64(l.TotalLiability),
			l.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ledgers {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertLiabilities inserts or updates liability rows. Only the mint
// transaction can change after a liability is first written.
func (s *Store) UpsertLiabilities(ctx context.Context, records []model.LiabilityRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		var mint *string
		if r.MintTx != "" {
			v := string(r.MintTx)
			mint = &v
		}
		batch.Queue(`
			INSERT INTO liabilities (
				funding_tx, depositor_address, pool_address, liability_amount, funding_amount,
				nonce, mint_tx, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (funding_tx)
			DO UPDATE SET
				mint_tx = COALESCE(EXCLUDED.mint_tx, liabilities.mint_tx),
				updated_at = now()
		`,
			string(r.FundingTx),
			r.DepositorAddress,
			r.PoolAddress,
			int64(r.LiabilityAmount),
			int64(r.FundingAmount),
			int64(r.Nonce),
			mint,
			r.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot returns the snapshot saved under name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (model.Snapshot, bool, error) {
	if name == "" {
		return model.Snapshot{}, false, fmt.Errorf("state name required")
	}
	var raw []byte
	row := s.pool.QueryRow(ctx, `SELECT snapshot FROM poold_state WHERE name=$1`, name)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return snap, true, nil
}

// SaveSnapshot upserts the snapshot for a name.
func (s *Store) SaveSnapshot(ctx context.Context, name string, snap model.Snapshot) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO poold_state (name, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = now()
	`, name, raw)
	return err
}

type poolRow struct {
	Address        string
	Name           string
	DerivationPath []string
	HeadSequence   int64
	CustodyTxID    *string
	CustodyVout    *int32
	CustodyValue   int64
}

func poolRowOf(l model.LedgerSnapshot) poolRow {
	row := poolRow{
		Address:        l.Address,
		Name:           l.Name,
		DerivationPath: l.DerivationPath,
	}
	if row.DerivationPath == nil {
		row.DerivationPath = []string{}
	}
	if len(l.States) == 0 {
		return row
	}
	head := l.States[len(l.States)-1]
	row.HeadSequence = int64(head.Sequence)
	if head.Custody != nil {
		txid := string(head.Custody.Outpoint.TxID)
		vout := int32(head.Custody.Outpoint.Vout)
		row.CustodyTxID = &txid
		row.CustodyVout = &vout
		row.CustodyValue = int64(head.Custody.Value)
	}
	return row
}
