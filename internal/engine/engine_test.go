package engine

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/margoregistry/margo/pkg/utils"
)

func buildCrateFile(t *testing.T, dir, name, version string) string {
	t.Helper()

	manifest := `
[package]
name = "` + name + `"
version = "` + version + `"
`
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	data := []byte(manifest)
	stem := name + "-" + version
	if err := tw.WriteHeader(&tar.Header{Name: stem + "/Cargo.toml", Mode: 0644, Size: int64(len(data))}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}

	path := filepath.Join(dir, stem+".crate")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	e, err := Init(root, "https://example.com", nil)
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	return e, root
}

// Scenario 1: four single-letter/short names at 1.0.0 each.
func TestScenarioFourShortNames(t *testing.T) {
	e, dir := newTestEngine(t)
	crateDir := t.TempDir()

	names := []string{"a", "bb", "ccc", "dddd"}
	var paths []string
	for _, n := range names {
		paths = append(paths, buildCrateFile(t, crateDir, n, "1.0.0"))
	}

	results := e.Add(paths)
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("add %s failed: %v", r.Path, r.Err)
		}
	}

	html, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("ReadFile index.html: %v", err)
	}
	for _, n := range names {
		if !strings.Contains(string(html), n) {
			t.Errorf("expected index.html to mention %s", n)
		}
	}
}

// Scenario 2: version ordering and default selection.
func TestScenarioVersionOrdering(t *testing.T) {
	e, dir := newTestEngine(t)
	crateDir := t.TempDir()

	for _, v := range []string{"2.0.0", "3.0.0", "1.0.0"} {
		path := buildCrateFile(t, crateDir, "awesome", v)
		results := e.Add([]string{path})
		if results[0].Err != nil {
			t.Fatalf("add %s failed: %v", v, results[0].Err)
		}
	}

	html, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(html)

	i1 := strings.Index(content, "1.0.0")
	i2 := strings.Index(content, "2.0.0")
	i3 := strings.Index(content, "3.0.0")
	if !(i1 < i2 && i2 < i3) {
		t.Errorf("expected ascending version order in HTML, got indices %d %d %d", i1, i2, i3)
	}
	if !strings.Contains(content, `value="https://example.com/crates/awesome/awesome-3.0.0.crate" selected`) {
		t.Error("expected 3.0.0 to be the default selected option")
	}
}

// Scenario 3: yanked default falls back to highest non-yanked.
func TestScenarioYankedDefault(t *testing.T) {
	e, dir := newTestEngine(t)
	crateDir := t.TempDir()

	for _, v := range []string{"1.0.0", "2.0.0"} {
		path := buildCrateFile(t, crateDir, "awesome", v)
		e.Add([]string{path})
	}

	if err := e.Yank("awesome", "2.0.0"); err != nil {
		t.Fatalf("Yank error: %v", err)
	}

	html, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(html)

	if !strings.Contains(content, "2.0.0 (yanked)") {
		t.Error("expected yanked label on 2.0.0")
	}
	if !strings.Contains(content, `data-crate="awesome" href="https://example.com/crates/awesome/awesome-1.0.0.crate"`) {
		t.Error("expected default download link to point at 1.0.0")
	}
}

// Scenario 4: CLI list contains each published (name, version) pair.
func TestScenarioList(t *testing.T) {
	e, _ := newTestEngine(t)
	crateDir := t.TempDir()

	pairs := [][2]string{{"alpha", "1.0.0"}, {"alpha", "1.1.1"}, {"beta", "2.2.2"}}
	for _, p := range pairs {
		path := buildCrateFile(t, crateDir, p[0], p[1])
		e.Add([]string{path})
	}

	summaries, err := e.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	for _, p := range pairs {
		found := false
		for _, s := range summaries {
			if s.Name == p[0] && s.Version == p[1] {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s@%s in list output", p[0], p[1])
		}
	}
}

// Scenario 5: duplicate add fails and leaves registry unchanged.
func TestScenarioDuplicateAdd(t *testing.T) {
	e, _ := newTestEngine(t)
	crateDir := t.TempDir()
	path := buildCrateFile(t, crateDir, "dup", "1.0.0")

	first := e.Add([]string{path})
	if first[0].Err != nil {
		t.Fatalf("first add failed: %v", first[0].Err)
	}

	second := e.Add([]string{path})
	if second[0].Err == nil {
		t.Fatal("expected second add to fail with duplicate error")
	}

	summaries, err := e.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	count := 0
	for _, s := range summaries {
		if s.Name == "dup" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 dup entry, got %d", count)
	}
}

// Scenario 6: index record checksum matches the artifact's SHA-256.
func TestScenarioChecksum(t *testing.T) {
	e, dir := newTestEngine(t)
	crateDir := t.TempDir()
	path := buildCrateFile(t, crateDir, "cksumtest", "1.0.0")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := utils.ComputeSHA256(data)

	results := e.Add([]string{path})
	if results[0].Err != nil {
		t.Fatalf("add failed: %v", results[0].Err)
	}

	indexPath := filepath.Join(dir, "ck", "su", "cksumtest")
	indexData, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("ReadFile index: %v", err)
	}
	if !strings.Contains(string(indexData), want) {
		t.Errorf("expected index record to contain checksum %s", want)
	}
}

// A crate with no [dependencies] must still serialize "deps":[] — Cargo's
// sparse-index consumers decode deps as a non-optional Vec and reject null.
func TestAddWithNoDepsSerializesEmptyArray(t *testing.T) {
	e, dir := newTestEngine(t)
	crateDir := t.TempDir()
	path := buildCrateFile(t, crateDir, "nodeps", "1.0.0")

	results := e.Add([]string{path})
	if results[0].Err != nil {
		t.Fatalf("add failed: %v", results[0].Err)
	}

	indexData, err := os.ReadFile(filepath.Join(dir, "no", "de", "nodeps"))
	if err != nil {
		t.Fatalf("ReadFile index: %v", err)
	}
	if strings.Contains(string(indexData), `"deps":null`) {
		t.Fatalf("expected deps to serialize as [], got null: %s", indexData)
	}
	if !strings.Contains(string(indexData), `"deps":[]`) {
		t.Fatalf("expected \"deps\":[] in index record, got %s", indexData)
	}
}

func TestYankUnyankIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	crateDir := t.TempDir()
	path := buildCrateFile(t, crateDir, "idem", "1.0.0")
	e.Add([]string{path})

	if err := e.Yank("idem", "1.0.0"); err != nil {
		t.Fatalf("Yank error: %v", err)
	}
	if err := e.Yank("idem", "1.0.0"); err != nil {
		t.Fatalf("second Yank (no-op) error: %v", err)
	}
	if err := e.Unyank("idem", "1.0.0"); err != nil {
		t.Fatalf("Unyank error: %v", err)
	}
	if err := e.Unyank("idem", "1.0.0"); err != nil {
		t.Fatalf("second Unyank (no-op) error: %v", err)
	}
}

func TestInitRefusesNonEmptyNonRegistryDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "somefile"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Init(dir, "https://example.com", nil)
	if err == nil {
		t.Fatal("expected error initializing a non-empty non-registry directory")
	}
	engErr, ok := err.(*Error)
	if !ok || engErr.Code != ErrNonEmptyDir {
		t.Fatalf("expected ErrNonEmptyDir, got %v", err)
	}
}

func TestConfigJSONMatchesBaseURL(t *testing.T) {
	e, dir := newTestEngine(t)
	_ = e

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("ReadFile config.json: %v", err)
	}
	want := `{"dl":"https://example.com/crates/{crate}/{crate}-{version}.crate"}`
	if string(data) != want {
		t.Errorf("config.json = %s, want %s", data, want)
	}
}
