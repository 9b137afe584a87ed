package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "part-000.csv"), "")
	mustWrite(t, filepath.Join(dir, "nested", "part-001.tsv.xz"), "")
	mustWrite(t, filepath.Join(dir, "ignore.json"), "")
	mustWrite(t, filepath.Join(dir, ".part-002.csv"), "")
	mustWrite(t, filepath.Join(dir, ".cache", "part-003.csv"), "")

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "part-001.tsv.xz"),
		filepath.Join(dir, "part-000.csv"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverShardsSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.csv.xz")
	mustWrite(t, path, "")
	shards, err := DiscoverShards(path)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	if len(shards) != 1 || shards[0] != path {
		t.Fatalf("got %v, want [%s]", shards, path)
	}

	other := filepath.Join(t.TempDir(), "notes.md")
	mustWrite(t, other, "")
	if _, err := DiscoverShards(other); err == nil {
		t.Fatal("expected error for a non-shard file")
	}
}

func TestDiscoverShardsEmptyDir(t *testing.T) {
	shards, err := DiscoverShards(t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	if len(shards) != 0 {
		t.Fatalf("expected no shards, got %v", shards)
	}
}

func TestDiscoverShardsMissingRoot(t *testing.T) {
	if _, err := DiscoverShards(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
