package refdata

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCatalog = `
branches:
  - name: trunk
    models: [SM-X100, SM-X90]
  - name: release-24
    models: [SM-X100]
`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.BranchNames(); len(got) != 2 || got[0] != "release-24" || got[1] != "trunk" {
		t.Errorf("BranchNames = %v", got)
	}
	if !c.HasBranch("trunk") || c.HasBranch("nope") {
		t.Error("HasBranch misreported")
	}
	if !c.HasModel("trunk", "SM-X90") {
		t.Error("HasModel(trunk, SM-X90) = false")
	}
	if c.HasModel("release-24", "SM-X90") {
		t.Error("HasModel(release-24, SM-X90) = true")
	}
	if c.ModelsFor("nope") != nil {
		t.Error("ModelsFor(nope) should be nil")
	}
}

func TestLoadRejectsDuplicates(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), `
branches:
  - name: trunk
    models: [A]
  - name: trunk
    models: [B]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate branch")
	}
}

func TestServiceHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	svc, err := NewService(path, log.New(os.Stderr, "[refdata] ", 0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer svc.Stop()

	writeCatalog(t, dir, sampleCatalog+`
  - name: release-23
    models: [SM-X80]
`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Catalog().HasBranch("release-23") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("catalog was not reloaded after file change")
}

func TestServiceKeepsCatalogOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	svc, err := NewService(path, log.New(os.Stderr, "[refdata] ", 0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer svc.Stop()

	writeCatalog(t, dir, "branches: [uh oh: {")

	// Give the watcher a moment; the bad file must not evict the
	// loaded catalog.
	time.Sleep(200 * time.Millisecond)
	if !svc.Catalog().HasBranch("trunk") {
		t.Fatal("previous catalog was lost on failed reload")
	}
}
