package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"copier-core/internal/protocol"
	"copier-core/pkg/db"
)

// Change is everything one registry operation writes. It is applied
// atomically or not at all.
type Change struct {
	Upserts      []protocol.AccountRecord
	Deletes      []string
	Global       *bool
	Flags        map[string]bool
	ClearedFlags []string
	Tombstones   []string
	Revived      []string
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0 && c.Global == nil &&
		len(c.Flags) == 0 && len(c.ClearedFlags) == 0 &&
		len(c.Tombstones) == 0 && len(c.Revived) == 0
}

// Loaded is the persisted state of one owner.
type Loaded struct {
	Accounts []protocol.AccountRecord
	Global   *bool
	Flags    map[string]bool
	Deleted  []string
}

// Persister is the registry's durable storage.
type Persister interface {
	Apply(ctx context.Context, owner string, c Change) error
	Load(ctx context.Context, owner string) (Loaded, error)
}

// SQLStore persists the registry in SQLite.
type SQLStore struct {
	db      *db.Database
	now     func() time.Time
	observe func(time.Duration)
}

// NewSQLStore creates a persister over database.
func NewSQLStore(database *db.Database) *SQLStore {
	return &SQLStore{db: database, now: time.Now}
}

// ObserveLatency registers fn to receive the duration of every Apply.
func (s *SQLStore) ObserveLatency(fn func(time.Duration)) *SQLStore {
	s.observe = fn
	return s
}

// Apply writes c in one transaction.
func (s *SQLStore) Apply(ctx context.Context, owner string, c Change) error {
	if s.observe != nil {
		start := time.Now()
		defer func() { s.observe(time.Since(start)) }()
	}
	at := s.now().Unix()
	return s.db.WithTx(ctx, func(q *db.OwnerQueries) error {
		for _, id := range c.Deletes {
			if err := q.DeleteAccount(ctx, owner, id); err != nil {
				return err
			}
		}
		for _, rec := range c.Upserts {
			row, err := toRow(owner, rec, at)
			if err != nil {
				return err
			}
			if err := q.UpsertAccount(ctx, row); err != nil {
				return err
			}
		}
		if c.Global != nil {
			if err := q.SetGlobalEnabled(ctx, owner, *c.Global, at); err != nil {
				return err
			}
		}
		for id, enabled := range c.Flags {
			if err := q.SetCopierFlag(ctx, owner, db.CopierFlag{AccountID: id, Enabled: enabled, UpdatedAt: at}); err != nil {
				return err
			}
		}
		for _, id := range c.ClearedFlags {
			if err := q.DeleteCopierFlag(ctx, owner, id); err != nil {
				return err
			}
		}
		for _, id := range c.Tombstones {
			if err := q.MarkAccountDeleted(ctx, owner, id, at); err != nil {
				return err
			}
		}
		for _, id := range c.Revived {
			if err := q.ClearAccountDeleted(ctx, owner, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads every account, copier flag and deletion tombstone of owner.
func (s *SQLStore) Load(ctx context.Context, owner string) (Loaded, error) {
	q := s.db.Queries()
	rows, err := q.ListAccounts(ctx, owner)
	if err != nil {
		return Loaded{}, err
	}
	out := Loaded{Flags: make(map[string]bool)}
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return Loaded{}, err
		}
		out.Accounts = append(out.Accounts, rec)
	}

	settings, err := q.GetCopierSettings(ctx, owner)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return Loaded{}, err
	default:
		global := settings.GlobalEnabled
		out.Global = &global
	}

	flags, err := q.ListCopierFlags(ctx, owner)
	if err != nil {
		return Loaded{}, err
	}
	for _, f := range flags {
		out.Flags[f.AccountID] = f.Enabled
	}

	deleted, err := q.ListDeletedAccounts(ctx, owner)
	if err != nil {
		return Loaded{}, err
	}
	for _, d := range deleted {
		out.Deleted = append(out.Deleted, d.AccountID)
	}
	return out, nil
}

func toRow(owner string, rec protocol.AccountRecord, at int64) (db.Account, error) {
	row := db.Account{
		Owner:          owner,
		AccountID:      rec.AccountID,
		Platform:       string(rec.Platform),
		Role:           string(rec.Role),
		Status:         string(rec.Status),
		ReportedStatus: string(rec.ReportedStatus),
		SourcePath:     rec.SourcePath,
		UpdatedAt:      at,
	}
	if !rec.LastSeen.IsZero() {
		row.LastSeen = rec.LastSeen.UnixMilli()
	}
	var err error
	if row.MasterConfig, err = marshalOptional(rec.Master, rec.Master == nil); err != nil {
		return row, err
	}
	if row.SlaveConfig, err = marshalOptional(rec.Slave, rec.Slave == nil); err != nil {
		return row, err
	}
	if row.Translations, err = marshalOptional(rec.Translations, len(rec.Translations) == 0); err != nil {
		return row, err
	}
	if row.Orders, err = marshalOptional(rec.Orders, len(rec.Orders) == 0); err != nil {
		return row, err
	}
	return row, nil
}

func marshalOptional(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode account column: %w", err)
	}
	return string(b), nil
}

func fromRow(row db.Account) (protocol.AccountRecord, error) {
	role, ok := protocol.ParseRole(row.Role)
	if !ok {
		role = protocol.RolePending
	}
	rec := protocol.AccountRecord{
		AccountID:      row.AccountID,
		Platform:       protocol.ParsePlatform(row.Platform),
		Role:           role,
		Status:         protocol.ParseStatus(row.Status),
		ReportedStatus: protocol.Status(row.ReportedStatus),
		SourcePath:     row.SourcePath,
	}
	if row.LastSeen > 0 {
		rec.LastSeen = time.UnixMilli(row.LastSeen).UTC()
	}
	if row.MasterConfig != "" {
		rec.Master = &protocol.MasterConfig{}
		if err := json.Unmarshal([]byte(row.MasterConfig), rec.Master); err != nil {
			return rec, fmt.Errorf("decode master config of %s: %w", row.AccountID, err)
		}
	}
	if row.SlaveConfig != "" {
		rec.Slave = &protocol.SlaveConfig{}
		if err := json.Unmarshal([]byte(row.SlaveConfig), rec.Slave); err != nil {
			return rec, fmt.Errorf("decode slave config of %s: %w", row.AccountID, err)
		}
	}
	if row.Translations != "" {
		if err := json.Unmarshal([]byte(row.Translations), &rec.Translations); err != nil {
			return rec, fmt.Errorf("decode translations of %s: %w", row.AccountID, err)
		}
	}
	if row.Orders != "" {
		if err := json.Unmarshal([]byte(row.Orders), &rec.Orders); err != nil {
			return rec, fmt.Errorf("decode orders of %s: %w", row.AccountID, err)
		}
	}
	return rec, nil
}
