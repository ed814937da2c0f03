package db

import (
	"context"
	"errors"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestOwnerQueriesRequireOwner(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	t.Run("ListAccounts requires owner", func(t *testing.T) {
		_, err := q.ListAccounts(ctx, "")
		if err != ErrOwnerRequired {
			t.Errorf("expected ErrOwnerRequired, got %v", err)
		}
	})

	t.Run("UpsertAccount requires owner", func(t *testing.T) {
		err := q.UpsertAccount(ctx, Account{AccountID: "1"})
		if err != ErrOwnerRequired {
			t.Errorf("expected ErrOwnerRequired, got %v", err)
		}
	})

	t.Run("ListCopierFlags requires owner", func(t *testing.T) {
		_, err := q.ListCopierFlags(ctx, "")
		if err != ErrOwnerRequired {
			t.Errorf("expected ErrOwnerRequired, got %v", err)
		}
	})
}

func TestAccountsOwnerIsolation(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	ownerA, ownerB := "key-a", "key-b"
	for _, a := range []Account{
		{Owner: ownerA, AccountID: "1001", Platform: "MT4", Role: "MASTER", MasterConfig: `{"enabled":true}`},
		{Owner: ownerB, AccountID: "1001", Platform: "MT5", Role: "PENDING"},
	} {
		if err := q.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("Failed to upsert account: %v", err)
		}
	}

	t.Run("Same account id is scoped per owner", func(t *testing.T) {
		a, err := q.GetAccount(ctx, ownerA, "1001")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if a.Role != "MASTER" || a.MasterConfig != `{"enabled":true}` {
			t.Errorf("unexpected account %+v", a)
		}
		b, err := q.GetAccount(ctx, ownerB, "1001")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if b.Role != "PENDING" || b.MasterConfig != "" {
			t.Errorf("unexpected account %+v", b)
		}
	})

	t.Run("Unknown owner sees nothing", func(t *testing.T) {
		accounts, err := q.ListAccounts(ctx, "key-unknown")
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(accounts) != 0 {
			t.Errorf("expected 0 accounts, got %d", len(accounts))
		}
	})

	t.Run("Delete removes row and flag", func(t *testing.T) {
		if err := q.SetCopierFlag(ctx, ownerA, CopierFlag{AccountID: "1001", Enabled: true}); err != nil {
			t.Fatal(err)
		}
		if err := q.DeleteAccount(ctx, ownerA, "1001"); err != nil {
			t.Fatal(err)
		}
		if _, err := q.GetAccount(ctx, ownerA, "1001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		flags, err := q.ListCopierFlags(ctx, ownerA)
		if err != nil {
			t.Fatal(err)
		}
		if len(flags) != 0 {
			t.Errorf("expected flags removed, got %+v", flags)
		}
	})
}

func TestWithTxRollsBack(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.WithTx(ctx, func(q *OwnerQueries) error {
		if err := q.UpsertAccount(ctx, Account{Owner: "k", AccountID: "1", Role: "MASTER"}); err != nil {
			return err
		}
		if err := q.SetGlobalEnabled(ctx, "k", false, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err=%v, expected boom", err)
	}

	q := database.Queries()
	if _, err := q.GetAccount(ctx, "k", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("account survived rollback: %v", err)
	}
	if _, err := q.GetCopierSettings(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("settings survived rollback: %v", err)
	}
}

func TestCopierSettingsRoundTrip(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	if err := q.SetGlobalEnabled(ctx, "k", false, 42); err != nil {
		t.Fatal(err)
	}
	s, err := q.GetCopierSettings(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if s.GlobalEnabled || s.UpdatedAt != 42 {
		t.Fatalf("settings=%+v, expected disabled at 42", s)
	}
}

func TestDiscoveredPaths(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	p := DiscoveredPath{Path: "/tmp/a.csv", Size: 10, ModTime: 5, Hash: "abc", Source: "glob", DiscoveredAt: 1}
	if err := q.UpsertDiscoveredPath(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Hash = "def"
	p.DiscoveredAt = 99
	if err := q.UpsertDiscoveredPath(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := q.GetDiscoveredPath(ctx, "/tmp/a.csv")
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != "def" || got.DiscoveredAt != 1 {
		t.Fatalf("path=%+v, expected refreshed hash and original discovered_at", got)
	}

	if err := q.DeleteDiscoveredPath(ctx, "/tmp/a.csv"); err != nil {
		t.Fatal(err)
	}
	if err := q.DeleteDiscoveredPath(ctx, "/tmp/a.csv"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	all, err := q.ListDiscoveredPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty cache, got %+v", all)
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
}

func TestDeletedAccounts(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	if err := q.MarkAccountDeleted(ctx, "", "1", 1); err != ErrOwnerRequired {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
	if err := q.MarkAccountDeleted(ctx, "k", "1001", 10); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkAccountDeleted(ctx, "k", "1001", 20); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkAccountDeleted(ctx, "other", "1002", 10); err != nil {
		t.Fatal(err)
	}

	got, err := q.ListDeletedAccounts(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AccountID != "1001" || got[0].DeletedAt != 20 {
		t.Fatalf("deleted=%+v, expected 1001 at 20", got)
	}

	if err := q.ClearAccountDeleted(ctx, "k", "1001"); err != nil {
		t.Fatal(err)
	}
	if err := q.ClearAccountDeleted(ctx, "k", "1001"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if got, _ := q.ListDeletedAccounts(ctx, "k"); len(got) != 0 {
		t.Fatalf("deleted=%+v after clear", got)
	}
}
