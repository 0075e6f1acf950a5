//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"

	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	bunstore "github.com/alpex29/infinitic/store/bun"
	"github.com/alpex29/infinitic/store/storetest"
)

// dsn points at the one container shared by every test in the package.
var dsn string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	container, err := pgmodule.Run(ctx, "postgres:16-alpine",
		pgmodule.WithDatabase("infinitic_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		pgmodule.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(ctx) }()

	if dsn, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

func openStore(t *testing.T) *bunstore.Store {
	t.Helper()
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	s := bunstore.New(db, bunstore.WithLogger(slog.Default()))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	s := openStore(t)

	storetest.Run(t, func(t *testing.T) storetest.Store {
		if _, err := s.DB().NewTruncateTable().Table("infinitic_states", "infinitic_dlq").Exec(context.Background()); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// Concurrent callers serialize on the advisory lock.
	errs := make(chan error, 3)
	for range cap(errs) {
		go func() { errs <- s.Migrate(ctx) }()
	}
	for range cap(errs) {
		if err := <-errs; err != nil {
			t.Fatalf("migrate again: %v", err)
		}
	}

	var indexes []string
	err := s.DB().NewSelect().
		TableExpr("pg_indexes").
		Column("indexname").
		Where("tablename IN (?)", bun.In([]string{"infinitic_states", "infinitic_dlq"})).
		Where("indexname LIKE 'idx_%'").
		OrderExpr("indexname").
		Scan(ctx, &indexes)
	if err != nil {
		t.Fatalf("list indexes: %v", err)
	}
	want := []string{"idx_infinitic_dlq_topic", "idx_infinitic_states_kind", "idx_infinitic_states_status"}
	if fmt.Sprint(indexes) != fmt.Sprint(want) {
		t.Errorf("indexes = %v, want %v", indexes, want)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
