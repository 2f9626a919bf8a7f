package core

// SQL-backed WalletStore over database/sql. The DSN comes from DATABASE_URL;
// sqlite is the bundled driver and any engine with transactional updates can
// be slotted in behind the same schema.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mr-tron/base58"
	logrus "github.com/sirupsen/logrus"
)

const walletSchema = `
CREATE TABLE IF NOT EXISTS hop_wallets (
	public_key       TEXT PRIMARY KEY,
	encrypted_secret TEXT NOT NULL,
	status           TEXT NOT NULL,
	allocated_to     TEXT NOT NULL DEFAULT '',
	allocated_at     INTEGER,
	usage_count      INTEGER NOT NULL DEFAULT 0,
	last_used        INTEGER,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hop_wallets_status ON hop_wallets(status);

CREATE TABLE IF NOT EXISTS transfer_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id   TEXT NOT NULL,
	from_key     TEXT NOT NULL,
	to_key       TEXT NOT NULL,
	amount       INTEGER NOT NULL,
	signature    TEXT NOT NULL,
	submitted_at INTEGER NOT NULL,
	confirmed_at INTEGER,
	outcome      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_log_request ON transfer_log(request_id);
`

// SQLWalletStore persists the pool in a relational database.
type SQLWalletStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenSQLWalletStore opens (and migrates) the wallet database at dsn.
func OpenSQLWalletStore(dsn string, lg *logrus.Logger) (*SQLWalletStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("walletstore: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("walletstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("walletstore: ping: %w", err)
	}
	// sqlite supports one writer; the claim transaction relies on it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(walletSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("walletstore: migrate: %w", err)
	}
	lg.Infof("walletstore: opened %s", dsn)
	return &SQLWalletStore{db: db, logger: lg}, nil
}

func (s *SQLWalletStore) Insert(ctx context.Context, ws []*HopWallet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO hop_wallets
		(public_key, encrypted_secret, status, allocated_to, usage_count, created_at)
		VALUES (?, ?, ?, '', 0, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, w := range ws {
		if _, err := stmt.ExecContext(ctx, w.PublicKey.String(), w.EncryptedSecret,
			string(w.Status), w.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert %s: %w", w.PublicKey, err)
		}
	}
	return tx.Commit()
}

func (s *SQLWalletStore) Claim(ctx context.Context, n int, requestID string) ([]*HopWallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT public_key, encrypted_secret, usage_count, created_at
		FROM hop_wallets WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(StatusAvailable), n)
	if err != nil {
		return nil, err
	}
	claimed, err := scanClaimRows(rows, requestID)
	if err != nil {
		return nil, err
	}
	if len(claimed) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrPoolExhausted, n, len(claimed))
	}

	now := time.Now()
	keys := make([]string, len(claimed))
	args := make([]any, 0, len(claimed)+3)
	args = append(args, requestID, now.UnixMilli())
	for i, w := range claimed {
		keys[i] = "?"
		args = append(args, w.PublicKey.String())
		w.AllocatedAt = &now
	}
	args = append(args, string(StatusAvailable))
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE hop_wallets
		SET status = '%s', allocated_to = ?, allocated_at = ?
		WHERE public_key IN (%s) AND status = ?`,
		string(StatusInUse), strings.Join(keys, ",")), args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(affected) != n {
		// Lost a race with another claimer; the rollback keeps I1 intact.
		return nil, fmt.Errorf("%w: claim raced, flipped %d of %d", ErrPoolExhausted, affected, n)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func scanClaimRows(rows *sql.Rows, requestID string) ([]*HopWallet, error) {
	defer rows.Close()
	var out []*HopWallet
	for rows.Next() {
		var keyStr, secret string
		var usage uint64
		var createdMs int64
		if err := rows.Scan(&keyStr, &secret, &usage, &createdMs); err != nil {
			return nil, err
		}
		key, err := solana.PublicKeyFromBase58(keyStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt public_key %q: %w", keyStr, err)
		}
		out = append(out, &HopWallet{
			PublicKey:       key,
			EncryptedSecret: secret,
			Status:          StatusInUse,
			AllocatedTo:     requestID,
			UsageCount:      usage,
			CreatedAt:       time.UnixMilli(createdMs),
		})
	}
	return out, rows.Err()
}

func (s *SQLWalletStore) UpdateStatus(ctx context.Context, key solana.PublicKey, from, to WalletStatus) error {
	var res sql.Result
	var err error
	if to == StatusAvailable {
		res, err = s.db.ExecContext(ctx, `UPDATE hop_wallets
			SET status = ?, allocated_to = '', allocated_at = NULL
			WHERE public_key = ? AND status = ?`,
			string(to), key.String(), string(from))
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE hop_wallets SET status = ?
			WHERE public_key = ? AND status = ?`,
			string(to), key.String(), string(from))
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("wallet %s not in status %s", key, from)
	}
	return nil
}

func (s *SQLWalletStore) MarkUsed(ctx context.Context, key solana.PublicKey) error {
	_, err := s.db.ExecContext(ctx, `UPDATE hop_wallets
		SET usage_count = usage_count + 1, last_used = ? WHERE public_key = ?`,
		time.Now().UnixMilli(), key.String())
	return err
}

func (s *SQLWalletStore) Get(ctx context.Context, key solana.PublicKey) (*HopWallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT public_key, encrypted_secret, status,
		allocated_to, allocated_at, usage_count, last_used, created_at
		FROM hop_wallets WHERE public_key = ?`, key.String())
	return scanWallet(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanWallet(row rowScanner) (*HopWallet, error) {
	var keyStr, secret, status, allocatedTo string
	var allocatedMs, lastUsedMs sql.NullInt64
	var usage uint64
	var createdMs int64
	if err := row.Scan(&keyStr, &secret, &status, &allocatedTo,
		&allocatedMs, &usage, &lastUsedMs, &createdMs); err != nil {
		return nil, err
	}
	key, err := solana.PublicKeyFromBase58(keyStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt public_key %q: %w", keyStr, err)
	}
	w := &HopWallet{
		PublicKey:       key,
		EncryptedSecret: secret,
		Status:          WalletStatus(status),
		AllocatedTo:     allocatedTo,
		UsageCount:      usage,
		CreatedAt:       time.UnixMilli(createdMs),
	}
	if allocatedMs.Valid {
		t := time.UnixMilli(allocatedMs.Int64)
		w.AllocatedAt = &t
	}
	if lastUsedMs.Valid {
		t := time.UnixMilli(lastUsedMs.Int64)
		w.LastUsed = &t
	}
	return w, nil
}

func (s *SQLWalletStore) List(ctx context.Context, filter WalletStatus) ([]*HopWallet, error) {
	q := `SELECT public_key, encrypted_secret, status, allocated_to, allocated_at,
		usage_count, last_used, created_at FROM hop_wallets`
	var args []any
	if filter != "" {
		q += ` WHERE status = ?`
		args = append(args, string(filter))
	}
	q += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*HopWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLWalletStore) Stats(ctx context.Context) (PoolStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM hop_wallets GROUP BY status`)
	if err != nil {
		return PoolStats{}, err
	}
	defer rows.Close()
	var st PoolStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return PoolStats{}, err
		}
		st.Total += count
		switch WalletStatus(status) {
		case StatusAvailable:
			st.Available = count
		case StatusInUse:
			st.InUse = count
		case StatusCooling:
			st.Cooling = count
		case StatusError:
			st.Error = count
		}
	}
	return st, rows.Err()
}

func (s *SQLWalletStore) AppendTransfer(ctx context.Context, tl *TransferLog) error {
	var confirmed any
	if tl.ConfirmedAt != nil {
		confirmed = tl.ConfirmedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO transfer_log
		(request_id, from_key, to_key, amount, signature, submitted_at, confirmed_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tl.RequestID, tl.From.String(), tl.To.String(), int64(tl.Amount),
		base58.Encode(tl.Signature[:]), tl.SubmittedAt.UnixMilli(), confirmed,
		string(tl.Outcome))
	return err
}

func (s *SQLWalletStore) Close() error { return s.db.Close() }
