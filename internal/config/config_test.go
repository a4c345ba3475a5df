package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"chain":{"definitions_path":"chains.yaml"}}`), "/etc/receiptd")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.RateLimitBurst != 40 {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Storage.Driver != "memory" || cfg.Ledger.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected driver defaults %+v %+v %+v", cfg.Storage, cfg.Ledger, cfg.Queue)
	}
	if cfg.Chain.DefinitionsPath != filepath.Join("/etc/receiptd", "chains.yaml") {
		t.Fatalf("expected relative path resolution, got %s", cfg.Chain.DefinitionsPath)
	}
	if cfg.CheckTimeout() != 10*time.Second {
		t.Fatalf("unexpected check timeout %s", cfg.CheckTimeout())
	}
}

func TestParseRejectsUnknownDrivers(t *testing.T) {
	tests := map[string]string{
		"storage":  `{"storage":{"driver":"s3"}}`,
		"ledger":   `{"ledger":{"driver":"paper"}}`,
		"contract": `{"ledger":{"driver":"contract"}}`,
		"address":  `{"ledger":{"driver":"contract","contract_address":"0x12"}}`,
		"timeout":  `{"verify":{"check_timeout":"soon"}}`,
		"syntax":   `{`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw), "."); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestContractLedgerCanBeDeployedAtStartup(t *testing.T) {
	cfg, err := Parse([]byte(`{"ledger":{"driver":"contract","deploy_contract":true}}`), ".")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Ledger.DeployContract || cfg.Ledger.GasLimit != 0 {
		t.Fatalf("unexpected ledger config %+v", cfg.Ledger)
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv("RECEIPTD_MYSQL_DSN", "user:pw@tcp(db:3306)/receipts")
	t.Setenv("RECEIPTD_RABBITMQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("RECEIPTD_WRITER_KEY", " 0xabc ")

	cfg, err := Parse([]byte(`{"mysql":{"dsn":"ignored"}}`), ".")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MySQL.DSN != "user:pw@tcp(db:3306)/receipts" {
		t.Fatalf("dsn not overridden: %s", cfg.MySQL.DSN)
	}
	if cfg.Queue.URL != "amqp://guest:guest@mq:5672/" || cfg.Events.URL != cfg.Queue.URL {
		t.Fatalf("rabbitmq url not applied: %+v %+v", cfg.Queue, cfg.Events)
	}
	if cfg.WriterKey() != "0xabc" {
		t.Fatalf("unexpected writer key %q", cfg.WriterKey())
	}
}

func TestLoadAndPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receiptd.json")
	if err := os.WriteFile(path, []byte(`{"server":{"address":":9090"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	if Path() != path {
		t.Fatalf("expected env path, got %s", Path())
	}
	cfg, err := Load(Path())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
