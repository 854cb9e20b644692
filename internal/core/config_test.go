package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.ConfigFileUsed() != "" {
		t.Errorf("expected no config file to be used, got %s", cfg.ConfigFileUsed())
	}
	if cfg.Transfer.ChunkSize != 500 {
		t.Errorf("Transfer.ChunkSize = %d, want 500", cfg.Transfer.ChunkSize)
	}
	if cfg.Server.RootDir != "." {
		t.Errorf("Server.RootDir = %q, want %q", cfg.Server.RootDir, ".")
	}
	if cfg.Server.MaxConnections != 0 {
		t.Errorf("Server.MaxConnections = %d, want 0 (unbounded)", cfg.Server.MaxConnections)
	}
	if cfg.Server.LookupCacheTTL != 10*time.Minute {
		t.Errorf("Server.LookupCacheTTL = %v, want 10m", cfg.Server.LookupCacheTTL)
	}
	if cfg.Timeouts.Ack != 0 {
		t.Errorf("Timeouts.Ack = %v, want 0", cfg.Timeouts.Ack)
	}
	if cfg.Timeouts.ShutdownGrace != 10*time.Second {
		t.Errorf("Timeouts.ShutdownGrace = %v, want 10s", cfg.Timeouts.ShutdownGrace)
	}
	if cfg.History.Engine != "sqlite" {
		t.Errorf("History.Engine = %q, want sqlite", cfg.History.Engine)
	}
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  root_dir: /srv/files
  max_connections: 25
transfer:
  chunk_size: 4096
timeouts:
  ack: 30s
log_level: debug
history:
  enabled: true
  engine: postgres
`
	if err := os.WriteFile(filepath.Join(dir, "ftserve.yaml"), []byte(contents), 0644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}
	t.Setenv("FTSERVE_TRANSFER_CHUNK_SIZE", "1024")
	t.Setenv("FTSERVE_HISTORY_HOST", "db.internal")

	cfg, err := LoadConfig(dir, nil)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.ConfigFileUsed() != filepath.Join(dir, "ftserve.yaml") {
		t.Errorf("ConfigFileUsed() = %s", cfg.ConfigFileUsed())
	}

	type snapshot struct {
		RootDir        string
		MaxConnections int
		ChunkSize      int
		Ack            time.Duration
		LogLevel       string
		Engine         string
		HistoryHost    string
	}
	want := snapshot{
		RootDir:        "/srv/files",
		MaxConnections: 25,
		ChunkSize:      1024,
		Ack:            30 * time.Second,
		LogLevel:       "debug",
		Engine:         "postgres",
		HistoryHost:    "db.internal",
	}
	got := snapshot{
		RootDir:        cfg.Server.RootDir,
		MaxConnections: cfg.Server.MaxConnections,
		ChunkSize:      cfg.Transfer.ChunkSize,
		Ack:            cfg.Timeouts.Ack,
		LogLevel:       cfg.LogLevel,
		Engine:         cfg.History.Engine,
		HistoryHost:    cfg.History.Host,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ftserve.yaml"), []byte("log_level: debug\nserver:\n  root_dir: /srv/files\n"), 0644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}

	flags := pflag.NewFlagSet("ftserve", pflag.ContinueOnError)
	flags.String("root-dir", ".", "")
	flags.String("log-level", "info", "")
	flags.Int("max-connections", 0, "")
	flags.Bool("history", false, "")
	flags.Bool("unrelated", false, "")
	if err := flags.Parse([]string{"--log-level=warn", "--history"}); err != nil {
		t.Fatalf("error parsing flags: %v", err)
	}

	cfg, err := LoadConfig(dir, flags)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	// Flags that were set win; unset flags don't mask the file or the defaults.
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if !cfg.History.Enabled {
		t.Error("expected --history to enable history")
	}
	if cfg.Server.RootDir != "/srv/files" {
		t.Errorf("Server.RootDir = %q, want /srv/files", cfg.Server.RootDir)
	}
	if cfg.Transfer.ChunkSize != 500 {
		t.Errorf("Transfer.ChunkSize = %d, want 500", cfg.Transfer.ChunkSize)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ftserve.yaml"), []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("error writing config file: %v", err)
	}

	if _, err := LoadConfig(dir, nil); err == nil {
		t.Error("expected LoadConfig() to fail on a malformed file")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Server.Port = 30020
		cfg.Transfer.ChunkSize = 500
		cfg.History.Engine = "sqlite"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "ephemeral port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "negative port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "zero chunk size", mutate: func(c *Config) { c.Transfer.ChunkSize = 0 }, wantErr: true},
		{name: "negative max connections", mutate: func(c *Config) { c.Server.MaxConnections = -5 }, wantErr: true},
		{name: "unknown engine ignored when disabled", mutate: func(c *Config) { c.History.Engine = "oracle" }},
		{
			name: "unknown engine",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Engine = "oracle"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ListenAddress(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 30020

	if got := cfg.ListenAddress(); got != ":30020" {
		t.Errorf("ListenAddress() = %s, want :30020", got)
	}

	cfg.Server.Hostname = "::1"
	if got := cfg.ListenAddress(); got != "[::1]:30020" {
		t.Errorf("ListenAddress() = %s, want [::1]:30020", got)
	}
}

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.History.Host = "localhost"
	cfg.History.Port = 5432
	cfg.History.Name = "testdb"
	cfg.History.Username = "testuser"
	cfg.History.Password = "testpassword"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode="
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn"}
	logger, err := NewLogger(cfg, os.Stdout)
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	if logger.Level != logrus.WarnLevel {
		t.Errorf("logger level = %v, want %v", logger.Level, logrus.WarnLevel)
	}

	cfg.LogLevel = "loud"
	if _, err := NewLogger(cfg, os.Stdout); err == nil {
		t.Error("expected NewLogger() to reject an unknown level")
	}
}

func TestConfig_HistoryDataSource(t *testing.T) {
	cfg := &Config{}
	cfg.History.Engine = "sqlite"
	cfg.History.Filename = "/var/lib/ftserve/history.db"
	cfg.History.Host = "localhost"

	if got := cfg.HistoryDataSource(); got != "/var/lib/ftserve/history.db" {
		t.Errorf("HistoryDataSource() for sqlite = %s", got)
	}

	cfg.History.Engine = "postgres"
	if got := cfg.HistoryDataSource(); got != cfg.DatabaseURL() {
		t.Errorf("HistoryDataSource() for postgres = %s, want %s", got, cfg.DatabaseURL())
	}
}
