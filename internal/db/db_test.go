package db

import (
	"context"
	"testing"

	"wowmarket/internal/config"
)

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	conn, err := Open(context.Background(), config.DBConfig{
		Driver: "sqlite",
		DSN:    "file:db_open_test?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open err=%v", err)
	}
	defer Close(conn)

	if conn.Pool != nil {
		t.Fatalf("pgx pool must not be opened for sqlite")
	}
	if err := AutoMigrate(conn); err != nil {
		t.Fatalf("migrate err=%v", err)
	}
	for _, table := range []string{"items", "connected_realms", "auctions", "commodities", "sync_state", "ingestion_runs"} {
		if !conn.Gorm.Migrator().HasTable(table) {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DBConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}
