// Package db provides owner-isolated SQLite storage for the copier core.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrOwnerRequired = errors.New("owner is required for data isolation")
	ErrNotFound      = errors.New("record not found")
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OwnerQueries provides owner-isolated database queries. It runs either on
// the plain handle or inside a transaction (see Database.WithTx).
type OwnerQueries struct {
	db dbtx
}

// ----------------------------------------
// Account Queries
// ----------------------------------------

const accountColumns = `account_id, platform, role, status, reported_status, last_seen,
		COALESCE(master_config, ''), COALESCE(slave_config, ''), COALESCE(translations, ''),
		COALESCE(orders, ''), source_path, updated_at`

// ListAccounts returns every account stored for owner.
func (q *OwnerQueries) ListAccounts(ctx context.Context, owner string) ([]Account, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner = ?
		ORDER BY account_id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a := Account{Owner: owner}
		if err := scanAccount(rows, &a); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount returns one account or ErrNotFound.
func (q *OwnerQueries) GetAccount(ctx context.Context, owner, accountID string) (*Account, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner = ? AND account_id = ?
	`, owner, accountID)
	a := Account{Owner: owner}
	if err := scanAccount(row, &a); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner, a *Account) error {
	return s.Scan(&a.AccountID, &a.Platform, &a.Role, &a.Status, &a.ReportedStatus, &a.LastSeen,
		&a.MasterConfig, &a.SlaveConfig, &a.Translations, &a.Orders, &a.SourcePath, &a.UpdatedAt)
}

// UpsertAccount creates or replaces an account row.
func (q *OwnerQueries) UpsertAccount(ctx context.Context, a Account) error {
	if a.Owner == "" {
		return ErrOwnerRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (owner, account_id, platform, role, status, reported_status, last_seen,
			master_config, slave_config, translations, orders, source_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)
		ON CONFLICT(owner, account_id) DO UPDATE SET
			platform = excluded.platform,
			role = excluded.role,
			status = excluded.status,
			reported_status = excluded.reported_status,
			last_seen = excluded.last_seen,
			master_config = excluded.master_config,
			slave_config = excluded.slave_config,
			translations = excluded.translations,
			orders = excluded.orders,
			source_path = excluded.source_path,
			updated_at = excluded.updated_at
	`, a.Owner, a.AccountID, a.Platform, a.Role, a.Status, a.ReportedStatus, a.LastSeen,
		a.MasterConfig, a.SlaveConfig, a.Translations, a.Orders, a.SourcePath, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.AccountID, err)
	}
	return nil
}

// DeleteAccount removes an account row and its copier flag.
func (q *OwnerQueries) DeleteAccount(ctx context.Context, owner, accountID string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE owner = ? AND account_id = ?`, owner, accountID); err != nil {
		return fmt.Errorf("delete account %s: %w", accountID, err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM copier_flags WHERE owner = ? AND account_id = ?`, owner, accountID); err != nil {
		return fmt.Errorf("delete copier flag %s: %w", accountID, err)
	}
	return nil
}

// ----------------------------------------
// Copier Queries
// ----------------------------------------

// GetCopierSettings returns the owner's switch; a missing row is ErrNotFound.
func (q *OwnerQueries) GetCopierSettings(ctx context.Context, owner string) (*CopierSettings, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	s := CopierSettings{Owner: owner}
	err := q.db.QueryRowContext(ctx, `
		SELECT global_enabled, updated_at FROM copier_settings WHERE owner = ?
	`, owner).Scan(&s.GlobalEnabled, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query copier settings: %w", err)
	}
	return &s, nil
}

// SetGlobalEnabled stores the owner-wide switch.
func (q *OwnerQueries) SetGlobalEnabled(ctx context.Context, owner string, enabled bool, at int64) error {
	if owner == "" {
		return ErrOwnerRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO copier_settings (owner, global_enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			global_enabled = excluded.global_enabled,
			updated_at = excluded.updated_at
	`, owner, enabled, at)
	if err != nil {
		return fmt.Errorf("set global enabled: %w", err)
	}
	return nil
}

// ListCopierFlags returns every explicit per-account choice for owner.
func (q *OwnerQueries) ListCopierFlags(ctx context.Context, owner string) ([]CopierFlag, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT account_id, enabled, updated_at
		FROM copier_flags
		WHERE owner = ?
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query copier flags: %w", err)
	}
	defer rows.Close()

	var flags []CopierFlag
	for rows.Next() {
		var f CopierFlag
		if err := rows.Scan(&f.AccountID, &f.Enabled, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan copier flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// SetCopierFlag stores an explicit per-account choice.
func (q *OwnerQueries) SetCopierFlag(ctx context.Context, owner string, f CopierFlag) error {
	if owner == "" {
		return ErrOwnerRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO copier_flags (owner, account_id, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, account_id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, owner, f.AccountID, f.Enabled, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set copier flag %s: %w", f.AccountID, err)
	}
	return nil
}

// DeleteCopierFlag forgets an explicit choice.
func (q *OwnerQueries) DeleteCopierFlag(ctx context.Context, owner, accountID string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM copier_flags WHERE owner = ? AND account_id = ?`, owner, accountID); err != nil {
		return fmt.Errorf("delete copier flag %s: %w", accountID, err)
	}
	return nil
}

// ListDeletedAccounts returns the owner's deletion tombstones.
func (q *OwnerQueries) ListDeletedAccounts(ctx context.Context, owner string) ([]DeletedAccount, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT account_id, deleted_at
		FROM deleted_accounts
		WHERE owner = ?
		ORDER BY account_id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query deleted accounts: %w", err)
	}
	defer rows.Close()

	var out []DeletedAccount
	for rows.Next() {
		var d DeletedAccount
		if err := rows.Scan(&d.AccountID, &d.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan deleted account: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkAccountDeleted stores or refreshes a tombstone.
func (q *OwnerQueries) MarkAccountDeleted(ctx context.Context, owner, accountID string, at int64) error {
	if owner == "" {
		return ErrOwnerRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO deleted_accounts (owner, account_id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner, account_id) DO UPDATE SET deleted_at = excluded.deleted_at
	`, owner, accountID, at)
	if err != nil {
		return fmt.Errorf("mark account %s deleted: %w", accountID, err)
	}
	return nil
}

// ClearAccountDeleted drops a tombstone; clearing a missing one is not an error.
func (q *OwnerQueries) ClearAccountDeleted(ctx context.Context, owner, accountID string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM deleted_accounts WHERE owner = ? AND account_id = ?`, owner, accountID); err != nil {
		return fmt.Errorf("clear deleted account %s: %w", accountID, err)
	}
	return nil
}

// ----------------------------------------
// Discovery Queries
// ----------------------------------------

// ListDiscoveredPaths returns every cached path.
func (q *OwnerQueries) ListDiscoveredPaths(ctx context.Context) ([]DiscoveredPath, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT path, size, mod_time, hash, source, discovered_at, last_read
		FROM discovered_paths
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("query discovered paths: %w", err)
	}
	defer rows.Close()

	var paths []DiscoveredPath
	for rows.Next() {
		var p DiscoveredPath
		if err := rows.Scan(&p.Path, &p.Size, &p.ModTime, &p.Hash, &p.Source, &p.DiscoveredAt, &p.LastRead); err != nil {
			return nil, fmt.Errorf("scan discovered path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetDiscoveredPath returns one cached path or ErrNotFound.
func (q *OwnerQueries) GetDiscoveredPath(ctx context.Context, path string) (*DiscoveredPath, error) {
	var p DiscoveredPath
	err := q.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, hash, source, discovered_at, last_read
		FROM discovered_paths
		WHERE path = ?
	`, path).Scan(&p.Path, &p.Size, &p.ModTime, &p.Hash, &p.Source, &p.DiscoveredAt, &p.LastRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query discovered path: %w", err)
	}
	return &p, nil
}

// UpsertDiscoveredPath creates or refreshes a cached path.
func (q *OwnerQueries) UpsertDiscoveredPath(ctx context.Context, p DiscoveredPath) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO discovered_paths (path, size, mod_time, hash, source, discovered_at, last_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			hash = excluded.hash,
			source = excluded.source,
			last_read = excluded.last_read
	`, p.Path, p.Size, p.ModTime, p.Hash, p.Source, p.DiscoveredAt, p.LastRead)
	if err != nil {
		return fmt.Errorf("upsert discovered path: %w", err)
	}
	return nil
}

// DeleteDiscoveredPath drops a cached path; deleting a missing path is not an error.
func (q *OwnerQueries) DeleteDiscoveredPath(ctx context.Context, path string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM discovered_paths WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete discovered path: %w", err)
	}
	return nil
}
