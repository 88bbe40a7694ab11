package db

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/migrations"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"010_billing.sql":    {Data: []byte("SELECT 10;")},
		"002_sessions.sql":   {Data: []byte("SELECT 2;")},
		"001_scheduling.sql": {Data: []byte("SELECT 1;")},
	}

	got, err := NewMigrator(nil, files, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(got))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if got[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, got[i].Version)
		}
	}
	if got[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL: %q", got[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrationFiles(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":   {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0;")},
		"abc_bad.sql":    {Data: []byte("SELECT 0;")},
		"seed/001_x.sql": {Data: []byte("SELECT 0;")},
	}

	got, err := NewMigrator(nil, files, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(got))
	}
	if got[0].Name != "001_core.sql" {
		t.Errorf("expected 001_core.sql, got %s", got[0].Name)
	}
}

func TestLoadMigrations_Embedded(t *testing.T) {
	got, err := NewMigrator(nil, migrations.FS, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected embedded clinic migrations")
	}
	if got[0].Version != 1 {
		t.Errorf("expected first version 1, got %d", got[0].Version)
	}
}

func TestLoadMigrations_Checksum(t *testing.T) {
	files := fstest.MapFS{"001_core.sql": {Data: []byte("CREATE TABLE doctor (id UUID);")}}

	got, err := NewMigrator(nil, files, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	sum := sha256.Sum256([]byte("CREATE TABLE doctor (id UUID);"))
	if got[0].Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected checksum %s", got[0].Checksum)
	}
	if len(got[0].Checksum) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(got[0].Checksum))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"002_billing.sql":  {Data: []byte("SELECT 1;")},
		"002_sessions.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := NewMigrator(nil, files, zerolog.Nop()).LoadMigrations()
	if err == nil || !strings.Contains(err.Error(), "share version 2") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func migrationSet() []Migration {
	return []Migration{
		{Version: 1, Name: "001_clinic.sql", Checksum: "aaaa"},
		{Version: 2, Name: "002_billing.sql", Checksum: "bbbb"},
		{Version: 3, Name: "003_attendance.sql", Checksum: "cccc"},
	}
}

func TestPendingMigrations(t *testing.T) {
	applied := map[int]appliedMigration{
		1: {Name: "001_clinic.sql", Checksum: "aaaa"},
	}

	pending, err := pendingMigrations(migrationSet(), applied)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Fatalf("expected versions 2 and 3 pending, got %+v", pending)
	}
}

func TestPendingMigrations_ModifiedFileRefused(t *testing.T) {
	applied := map[int]appliedMigration{
		1: {Name: "001_clinic.sql", Checksum: "aaaa"},
		2: {Name: "002_billing.sql", Checksum: "edited"},
	}

	_, err := pendingMigrations(migrationSet(), applied)
	if err == nil {
		t.Fatal("expected error for migration edited after apply")
	}
	if !strings.Contains(err.Error(), "002_billing.sql") {
		t.Errorf("expected error to name the file, got %v", err)
	}
}

func TestMigrationStatuses(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	applied := map[int]appliedMigration{
		1: {Name: "001_clinic.sql", Checksum: "aaaa", AppliedAt: at},
		2: {Name: "002_billing.sql", Checksum: "edited", AppliedAt: at},
		7: {Name: "007_dropped.sql", Checksum: "ffff", AppliedAt: at},
	}

	got := migrationStatuses(migrationSet(), applied)

	want := []struct {
		version int
		state   MigrationState
	}{
		{1, MigrationApplied},
		{2, MigrationModified},
		{3, MigrationPending},
		{7, MigrationMissing},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d statuses, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Version != w.version || got[i].State != w.state {
			t.Errorf("status[%d]: expected %d/%s, got %d/%s", i, w.version, w.state, got[i].Version, got[i].State)
		}
	}
	if got[2].AppliedAt != nil {
		t.Error("pending migration should have no applied time")
	}
	if got[3].Name != "007_dropped.sql" {
		t.Errorf("expected recorded name for missing file, got %s", got[3].Name)
	}
}
