package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("CLINICQ_DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("expected default data dir ./data, got %s", cfg.DataDir)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("expected default session ttl 12h, got %s", cfg.SessionTTL)
	}
	if cfg.Connection != nil {
		t.Errorf("expected no environment connection, got %+v", cfg.Connection)
	}
}

func TestLoad_EnvironmentConnection(t *testing.T) {
	os.Setenv("CLINICQ_DATABASE_URL", "memory://")
	defer os.Unsetenv("CLINICQ_DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connection == nil {
		t.Fatal("expected environment connection")
	}
	if cfg.Connection.ProjectID != DefaultProjectID {
		t.Errorf("expected default project id, got %q", cfg.Connection.ProjectID)
	}
}

func TestLoad_SignageBridges(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://signage.example.com/hook")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebhookURL != "https://signage.example.com/hook" || cfg.WebhookSecret != "s3cret" {
		t.Errorf("unexpected webhook config %q %q", cfg.WebhookURL, cfg.WebhookSecret)
	}
	if cfg.NATSURL != "nats://localhost:4222" || cfg.NATSSubject != "clinicq.display" {
		t.Errorf("unexpected nats config %q %q", cfg.NATSURL, cfg.NATSSubject)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Port: "8000", DataDir: "d", SessionTTL: time.Hour, DBMaxConns: 4, DBMinConns: 1}

	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prod := base
	prod.Env = "production"
	if err := prod.Validate(); err == nil {
		t.Error("expected error for production without SESSION_SECRET")
	}

	badConns := base
	badConns.DBMinConns = 10
	if err := badConns.Validate(); err == nil {
		t.Error("expected error when min conns exceed max conns")
	}

	badConn := base
	badConn.Connection = &Connection{DatabaseURL: "memory://"}
	if err := badConn.Validate(); err == nil {
		t.Error("expected error for incomplete environment connection")
	}
}

func TestResolveConnection_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DataDir: dir}
	if err := SaveConnectionFile(cfg.ConnectionFile(), Connection{DatabaseURL: "redis://file", ProjectID: "p"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	conn, src, err := cfg.ResolveConnection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != SourceFile || conn.DatabaseURL != "redis://file" {
		t.Errorf("expected file connection, got %s %+v", src, conn)
	}

	cfg.Connection = &Connection{DatabaseURL: "memory://", ProjectID: "env"}
	conn, src, err = cfg.ResolveConnection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != SourceEnv || conn.ProjectID != "env" {
		t.Errorf("expected env connection, got %s %+v", src, conn)
	}
}

func TestResolveConnection_None(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	conn, src, err := cfg.ResolveConnection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != nil || src != SourceNone {
		t.Errorf("expected no connection, got %s %+v", src, conn)
	}
}

func TestConnectionFile_RoundTripAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "connection.json")
	want := Connection{DatabaseURL: "postgres://u:p@localhost/db", ProjectID: "clinic", StorageBucket: "https://bucket"}
	if err := SaveConnectionFile(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConnectionFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != want {
		t.Errorf("expected %+v, got %+v", want, *got)
	}
	if err := ClearConnectionFile(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearConnectionFile(path); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
}

func TestSaveConnectionFile_RejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connection.json")
	err := SaveConnectionFile(path, Connection{APIKey: "k"})
	if !errors.Is(err, ErrConnectionIncomplete) {
		t.Fatalf("expected ErrConnectionIncomplete, got %v", err)
	}
}

func TestParseConnectionText_JSON(t *testing.T) {
	conn, err := ParseConnectionText(`{"apiKey":"k","databaseURL":"redis://h:6379","projectId":"p"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.APIKey != "k" || conn.DatabaseURL != "redis://h:6379" || conn.ProjectID != "p" {
		t.Errorf("unexpected connection: %+v", conn)
	}
}

func TestParseConnectionText_YAML(t *testing.T) {
	conn, err := ParseConnectionText("databaseURL: memory://\nprojectId: clinic\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.DatabaseURL != "memory://" || conn.ProjectID != "clinic" {
		t.Errorf("unexpected connection: %+v", conn)
	}
}

func TestParseConnectionText_LooseSnippet(t *testing.T) {
	text := `// paste from console
const firebaseConfig = {
  apiKey: "AIza-123",
  authDomain: 'clinic.example.com',
  DATABASEURL: "postgres://localhost/clinic",
  projectId: "clinic-waiting-system",
};`
	conn, err := ParseConnectionText(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.APIKey != "AIza-123" {
		t.Errorf("expected apiKey, got %q", conn.APIKey)
	}
	if conn.AuthDomain != "clinic.example.com" {
		t.Errorf("expected single-quoted authDomain, got %q", conn.AuthDomain)
	}
	if conn.DatabaseURL != "postgres://localhost/clinic" {
		t.Errorf("expected case-insensitive databaseURL, got %q", conn.DatabaseURL)
	}
}

func TestParseConnectionText_Invalid(t *testing.T) {
	cases := []string{
		"",
		"just some words",
		"{ nothing: here }",
		`{"unrelated": true}`,
	}
	for _, text := range cases {
		if _, err := ParseConnectionText(text); !errors.Is(err, ErrInvalidConnectionText) {
			t.Errorf("ParseConnectionText(%q): expected ErrInvalidConnectionText, got %v", text, err)
		}
	}
}

func TestConnection_MergeAndRedact(t *testing.T) {
	current := Connection{APIKey: "old", DatabaseURL: "postgres://u:secret@h/db", ProjectID: "p"}
	merged := current.Merge(Connection{APIKey: "new"})
	if merged.APIKey != "new" || merged.ProjectID != "p" {
		t.Errorf("unexpected merge result: %+v", merged)
	}
	red := merged.Redacted()
	if red.APIKey != "****" {
		t.Errorf("expected api key redacted, got %q", red.APIKey)
	}
	if red.DatabaseURL != "postgres://u:****@h/db" {
		t.Errorf("expected password redacted, got %q", red.DatabaseURL)
	}
}
