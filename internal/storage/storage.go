package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyFulfilled = errors.New("already fulfilled with a different transaction")
	ErrNoOpenAttempt    = errors.New("no open fulfillment attempt")
)

const defaultSeenCacheSize = 4096

// Storage holds the seen-deposit set and the entitlement ledger
type Storage struct {
	db *sql.DB

	// ids in here are durable in seen_deposits; the cache is never a source of truth
	seen *lru.Cache[string, struct{}]
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string, seenCacheSize int) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)

	if seenCacheSize <= 0 {
		seenCacheSize = defaultSeenCacheSize
	}
	cache, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{db: db, seen: cache}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS seen_deposits (
			deposit_id TEXT PRIMARY KEY,
			seen_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS entitlements (
			identity TEXT PRIMARY KEY,
			payer_address TEXT NOT NULL,
			deposit_tx TEXT NOT NULL UNIQUE,
			fulfillment_tx TEXT,
			payload TEXT,
			created_at INTEGER NOT NULL,
			fulfilled_at INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0,
			attempt_open INTEGER NOT NULL DEFAULT 0,
			attempted_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_pending ON entitlements(fulfillment_tx) WHERE fulfillment_tx IS NULL`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// --- Seen deposits ---

// IsSeen reports whether a deposit has already been examined
func (s *Storage) IsSeen(ctx context.Context, depositID string) (bool, error) {
	if s.seen.Contains(depositID) {
		return true, nil
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM seen_deposits WHERE deposit_id = ?",
		depositID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.seen.Add(depositID, struct{}{})
	return true, nil
}

// MarkSeen records a deposit as examined, returns true if it was new
func (s *Storage) MarkSeen(ctx context.Context, depositID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_deposits (deposit_id, seen_at) VALUES (?, ?)",
		depositID, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	s.seen.Add(depositID, struct{}{})

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// --- Entitlements ---

// Claim atomically creates a pending entitlement. A uniqueness conflict on the
// identity or on the deposit transaction yields AlreadyClaimed.
func (s *Storage) Claim(ctx context.Context, c Claim) (ClaimResult, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entitlements (identity, payer_address, deposit_tx, created_at)
		 VALUES (?, ?, ?, ?)`,
		c.Identity, c.PayerAddress, c.DepositTx, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}

// MarkFulfilled moves a pending entitlement to fulfilled. Repeating the call
// with the same fulfillment transaction is a no-op.
func (s *Storage) MarkFulfilled(ctx context.Context, identity, fulfillmentTx, payload string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET fulfillment_tx = ?, payload = ?, fulfilled_at = ?
		 WHERE identity = ? AND fulfillment_tx IS NULL`,
		fulfillmentTx, payload, time.Now().Unix(), identity,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	e, err := s.Get(ctx, identity)
	if err != nil {
		return err
	}
	if e.FulfillmentTx != nil && *e.FulfillmentTx == fulfillmentTx {
		return nil
	}
	return ErrAlreadyFulfilled
}

// BeginAttempt opens a fulfillment attempt on a pending entitlement. It
// returns false if the entitlement is fulfilled, missing, or already has an
// open attempt; only the caller that gets true may issue.
func (s *Storage) BeginAttempt(ctx context.Context, identity string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET attempts = attempts + 1, attempt_open = 1, attempted_at = ?
		 WHERE identity = ? AND fulfillment_tx IS NULL AND attempt_open = 0`,
		time.Now().Unix(), identity,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// EndAttempt closes the open attempt of a pending entitlement so it can be
// attempted again. It returns ErrNoOpenAttempt if there is none.
func (s *Storage) EndAttempt(ctx context.Context, identity string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET attempt_open = 0
		 WHERE identity = ? AND fulfillment_tx IS NULL AND attempt_open = 1`,
		identity,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoOpenAttempt
	}
	return nil
}

const entitlementColumns = `identity, payer_address, deposit_tx, fulfillment_tx, payload, created_at, fulfilled_at, attempts, attempt_open, attempted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (*Entitlement, error) {
	var e Entitlement
	var createdAt int64
	var fulfillmentTx, payload sql.NullString
	var fulfilledAt, attemptedAt sql.NullInt64

	err := row.Scan(&e.Identity, &e.PayerAddress, &e.DepositTx, &fulfillmentTx, &payload, &createdAt, &fulfilledAt,
		&e.Attempts, &e.AttemptOpen, &attemptedAt)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = time.Unix(createdAt, 0)
	if fulfillmentTx.Valid {
		e.FulfillmentTx = &fulfillmentTx.String
	}
	if payload.Valid {
		e.Payload = &payload.String
	}
	if fulfilledAt.Valid {
		t := time.Unix(fulfilledAt.Int64, 0)
		e.FulfilledAt = &t
	}
	if attemptedAt.Valid {
		t := time.Unix(attemptedAt.Int64, 0)
		e.AttemptedAt = &t
	}
	return &e, nil
}

// Get returns the entitlement of an identity
func (s *Storage) Get(ctx context.Context, identity string) (*Entitlement, error) {
	e, err := scanEntitlement(s.db.QueryRowContext(ctx,
		"SELECT "+entitlementColumns+" FROM entitlements WHERE identity = ?",
		identity,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Lookup returns the read-only status of an identity
func (s *Storage) Lookup(ctx context.Context, identity string) (Status, error) {
	e, err := s.Get(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return Status{State: StateNone, Identity: identity}, nil
	}
	if err != nil {
		return Status{}, err
	}

	st := Status{
		State:     StatePending,
		Identity:  e.Identity,
		DepositTx: e.DepositTx,
	}
	if !e.Pending() {
		st.State = StateFulfilled
		st.FulfillmentTx = *e.FulfillmentTx
		if e.Payload != nil {
			st.Payload = *e.Payload
		}
	}
	return st, nil
}

// ListPending returns all claimed but unfulfilled entitlements, oldest first
func (s *Storage) ListPending(ctx context.Context) ([]Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entitlementColumns+" FROM entitlements WHERE fulfillment_tx IS NULL ORDER BY created_at, identity",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *e)
	}

	return pending, rows.Err()
}

// Stats returns aggregate counts
func (s *Storage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_deposits").Scan(&st.SeenDeposits)
	if err != nil {
		return Stats{}, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN fulfillment_tx IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN fulfillment_tx IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM entitlements`,
	).Scan(&st.Pending, &st.Fulfilled)
	if err != nil {
		return Stats{}, err
	}

	return st, nil
}
