package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/uow"
)

func testServer(env string) http.Handler {
	cfg := &config.Config{Env: env, CORSOrigins: []string{"*"}, AuthSigningKey: "test-key"}
	tx := db.TransactorFunc(func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) })
	runner := uow.New(tx, nil, nil, zerolog.Nop())
	return newEcho(cfg, zerolog.Nop(), nil, wireHandlers(nil, runner, 10*time.Minute, time.UTC))
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "migrate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand", name)
		}
	}

	migrate, _, err := root.Find([]string{"migrate", "status"})
	if err != nil || migrate.Name() != "status" {
		t.Fatalf("expected migrate status command, got %v (%v)", migrate, err)
	}
}

func TestMigrationFiles_Embedded(t *testing.T) {
	f, err := migrationFiles("").Open("001_clinic.sql")
	if err != nil {
		t.Fatalf("expected embedded schema, got %v", err)
	}
	f.Close()
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_clinic.sql", State: db.MigrationApplied, AppliedAt: &at},
		{Version: 2, Name: "002_billing.sql", State: db.MigrationPending},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "applied") || !strings.Contains(lines[1], "2026-03-01 08:30:00") {
		t.Errorf("unexpected applied row: %q", lines[1])
	}
	if !strings.Contains(lines[2], "pending") {
		t.Errorf("unexpected pending row: %q", lines[2])
	}
}

func TestMigrateCmd_DirFlagInherited(t *testing.T) {
	up, _, err := newRootCmd().Find([]string{"migrate", "up"})
	if err != nil {
		t.Fatal(err)
	}
	if up.Flags().Lookup("dir") == nil && up.InheritedFlags().Lookup("dir") == nil {
		t.Error("expected --dir on migrate up")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer("production")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthDB_NoPool(t *testing.T) {
	srv := testServer("production")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAPI_RequiresTokenOutsideDevelopment(t *testing.T) {
	srv := testServer("production")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPI_RoutesRegistered(t *testing.T) {
	srv := testServer("development")
	// Reaches the handler, which rejects the missing filter before any query.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rec.Code)
	}
}
