package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
dav:
  - name: work-contacts
    kind: carddav
    server_url: https://dav.example.com
    login: alice
    password: placeholder
sync:
  - name: work-contacts-sync
    mode: oneway
    remote: work-contacts
    local: sqlite-main
    metadata_path: ./work.json
`

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PIMSYNC_WORK_CONTACTS_PASSWORD", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want default info", cfg.LogLevel)
	}
	if len(cfg.DAV) != 1 || cfg.DAV[0].Password != "s3cret" {
		t.Fatalf("DAV[0].Password = %q, want env override", cfg.DAV[0].Password)
	}
	if len(cfg.Sync) != 1 || cfg.Sync[0].BatchSize != defaultBatchSize {
		t.Fatalf("Sync[0].BatchSize = %d, want default %d", cfg.Sync[0].BatchSize, defaultBatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
