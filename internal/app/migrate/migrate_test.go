package migrate

import (
	"io/fs"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	fsys, err := source("")
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	want := []string{"00001_projects.sql", "00002_network.sql", "00003_compute.sql", "00004_provisioning_runs.sql"}
	if len(names) != len(want) {
		t.Fatalf("expected %d migrations, got %v", len(want), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("migration %d: expected %s, got %s", i, name, names[i])
		}
	}
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	if _, err := New(nil, "postgres://x", "", nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
	if _, err := source("/does/not/exist"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
