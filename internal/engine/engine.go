// Package engine implements Margo's operations — init, add, yank, unyank,
// list, generate-html — as transactions over the archive reader, registry
// layout, index manager, and configuration store.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/margoregistry/margo/internal/archive"
	"github.com/margoregistry/margo/internal/config"
	"github.com/margoregistry/margo/internal/htmlpage"
	"github.com/margoregistry/margo/internal/index"
	"github.com/margoregistry/margo/internal/layout"
	"github.com/margoregistry/margo/internal/storage"
	"github.com/margoregistry/margo/pkg/semver"
	"github.com/margoregistry/margo/pkg/types"
	"github.com/margoregistry/margo/pkg/utils"
)

// ErrorCode enumerates the ways an engine operation can fail.
type ErrorCode string

const (
	ErrNonEmptyDir     ErrorCode = "NonEmptyDirectory"
	ErrNotARegistry    ErrorCode = "NotAMargoRegistry"
	ErrAlreadyPresent  ErrorCode = "AlreadyPresent"
	ErrNameCollision   ErrorCode = "NameCollision"
	ErrUnknownCrate    ErrorCode = "UnknownCrate"
	ErrUnknownVersion  ErrorCode = "UnknownVersion"
	ErrArchiveInvalid  ErrorCode = "InvalidArchive"
	ErrConfigInvalid   ErrorCode = "InvalidConfiguration"
	ErrIO              ErrorCode = "IoError"
)

// Error is a typed engine failure. The CLI prints Error() to stderr and
// exits with status 1 whatever the Code; it never prints a stack trace.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

const marginConfigFile = "margo.toml"
const cargoConfigFile = "config.json"

// Engine is a handle on one registry root. One method per operation;
// methods log at entry/exit/error via zerolog, matching the teacher's
// service-struct idiom.
type Engine struct {
	root    string
	storage *storage.LocalStorage
	cfg     *types.RegistryConfig
	logger  zerolog.Logger
}

// Init creates a new registry at root (or adopts an empty directory) and
// writes margo.toml and Cargo's config.json.
func Init(root, baseURL string, defaults map[string]bool) (*Engine, error) {
	entries, statErr := os.ReadDir(root)
	if statErr == nil && len(entries) > 0 {
		if !isMargoRegistry(root) {
			return nil, &Error{Code: ErrNonEmptyDir, Msg: fmt.Sprintf("%s is non-empty and not a Margo registry", root)}
		}
	}

	st, err := storage.NewLocalStorage(root)
	if err != nil {
		return nil, &Error{Code: ErrIO, Msg: "failed to create registry directory", Err: err}
	}

	cfg := config.New(baseURL, defaults)

	e := &Engine{root: root, storage: st, cfg: cfg, logger: log.With().Str("registry", root).Logger()}
	e.logger.Info().Str("base_url", baseURL).Msg("initializing registry")

	if err := config.Save(filepath.Join(root, marginConfigFile), cfg); err != nil {
		return nil, &Error{Code: ErrConfigInvalid, Msg: "failed to write margo.toml", Err: err}
	}
	if err := e.writeCargoConfig(); err != nil {
		return nil, err
	}

	return e, nil
}

// Open loads an existing registry at root.
func Open(root string) (*Engine, error) {
	if !isMargoRegistry(root) {
		return nil, &Error{Code: ErrNotARegistry, Msg: fmt.Sprintf("%s is not a Margo registry", root)}
	}

	st, err := storage.NewLocalStorage(root)
	if err != nil {
		return nil, &Error{Code: ErrIO, Msg: "failed to open registry directory", Err: err}
	}

	cfg, err := config.Load(filepath.Join(root, marginConfigFile))
	if err != nil {
		return nil, &Error{Code: ErrConfigInvalid, Msg: "failed to load margo.toml", Err: err}
	}

	return &Engine{root: root, storage: st, cfg: cfg, logger: log.With().Str("registry", root).Logger()}, nil
}

func isMargoRegistry(root string) bool {
	_, err := os.Stat(filepath.Join(root, marginConfigFile))
	return err == nil
}

func (e *Engine) writeCargoConfig() error {
	doc := config.CargoConfig(e.cfg.BaseURL)
	data, err := json.Marshal(doc)
	if err != nil {
		return &Error{Code: ErrConfigInvalid, Msg: "failed to marshal config.json", Err: err}
	}
	if err := e.storage.Store(context.Background(), cargoConfigFile, bytes.NewReader(data)); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write config.json", Err: err}
	}
	return nil
}

// AddResult reports the outcome of adding one .crate file.
type AddResult struct {
	Path    string
	Name    string
	Version string
	Size    int64
	Err     error
}

// Add ingests each of paths independently: a failure on one file never
// aborts the others. The caller should treat a non-nil Err on any result
// as reason for a non-zero process exit.
func (e *Engine) Add(paths []string) []AddResult {
	e.logger.Info().Int("count", len(paths)).Msg("add: starting")

	results := make([]AddResult, len(paths))
	for i, p := range paths {
		meta, name, version, err := e.addOne(p)
		result := AddResult{Path: p, Name: name, Version: version, Err: err}
		if meta != nil {
			result.Size = meta.Size
		}
		results[i] = result
		if err != nil {
			e.logger.Error().Str("path", p).Err(err).Msg("add: failed")
		} else {
			e.logger.Info().Str("name", meta.Name).Str("version", meta.Version).Str("size", utils.FormatBytes(meta.Size)).Msg("add: succeeded")
		}
	}

	if e.cfg.Defaults[types.DefaultAutoRegenerateHTML] {
		if err := e.GenerateHTML(); err != nil {
			e.logger.Error().Err(err).Msg("add: auto html regeneration failed")
		}
	}

	return results
}

func (e *Engine) addOne(path string) (*types.CrateMetadata, string, string, error) {
	meta, err := archive.ReadFile(path)
	if err != nil {
		return nil, "", "", &Error{Code: ErrArchiveInvalid, Msg: fmt.Sprintf("failed to read %s", path), Err: err}
	}

	if err := e.checkNameCollision(meta.Name); err != nil {
		return nil, meta.Name, meta.Version, err
	}

	artifactRel, err := layout.ArtifactPath(meta.Name, meta.Version)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrArchiveInvalid, Msg: "invalid crate identity", Err: err}
	}

	exists, err := e.storage.Exists(context.Background(), artifactRel)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrIO, Msg: "failed to check artifact presence", Err: err}
	}
	if exists {
		return nil, meta.Name, meta.Version, &Error{Code: ErrAlreadyPresent, Msg: fmt.Sprintf("%s@%s already present", meta.Name, meta.Version)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrIO, Msg: "failed to re-read crate file", Err: err}
	}
	if err := e.storage.Store(context.Background(), artifactRel, bytes.NewReader(data)); err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrIO, Msg: "failed to store artifact", Err: err}
	}

	indexRel, err := layout.IndexPath(meta.Name)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrArchiveInvalid, Msg: "invalid crate name", Err: err}
	}
	indexFull := filepath.Join(e.root, indexRel)

	records, err := index.Load(indexFull)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrIO, Msg: "failed to load index file", Err: err}
	}

	rec := types.IndexRecord{
		Name:      meta.Name,
		Vers:      meta.Version,
		Deps:      orEmptyDeps(meta.Deps),
		Cksum:     meta.Cksum,
		Features:  orEmpty(meta.Features),
		Yanked:    false,
		Links:     meta.Links,
		V:         2,
		Features2: meta.Features2,
	}

	records, err = index.Insert(records, rec)
	if err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrAlreadyPresent, Msg: fmt.Sprintf("%s@%s already present in index", meta.Name, meta.Version), Err: err}
	}

	if err := index.Write(indexFull, records); err != nil {
		return nil, meta.Name, meta.Version, &Error{Code: ErrIO, Msg: "failed to write index file", Err: err}
	}

	return meta, meta.Name, meta.Version, nil
}

func orEmpty(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

// orEmptyDeps defaults a nil Deps slice to an empty one so Marshal emits
// "deps":[] rather than "deps":null — deps is an always-present field per
// the index-record spec, and a null sequence fails serde's Vec decoding.
func orEmptyDeps(d []types.Dependency) []types.Dependency {
	if d == nil {
		return []types.Dependency{}
	}
	return d
}

// checkNameCollision rejects an add whose name differs only in case from an
// existing crate name in the same lowercase prefix directory.
func (e *Engine) checkNameCollision(name string) error {
	prefix, err := layout.Prefix(name)
	if err != nil {
		return &Error{Code: ErrArchiveInvalid, Msg: "invalid crate name", Err: err}
	}

	entries, err := os.ReadDir(filepath.Join(e.root, prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &Error{Code: ErrIO, Msg: "failed to inspect prefix directory", Err: err}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == name {
			continue
		}
		collides, err := layout.CollidesInPrefix(name, entry.Name())
		if err != nil {
			continue
		}
		if collides {
			return &Error{Code: ErrNameCollision, Msg: fmt.Sprintf("%q collides with existing crate %q in prefix %q", name, entry.Name(), prefix)}
		}
	}
	return nil
}

// Yank marks name@version as yanked. Idempotent: yanking an already-yanked
// version logs and returns nil rather than erroring.
func (e *Engine) Yank(name, version string) error {
	return e.setYanked(name, version, true)
}

// Unyank clears the yanked flag on name@version. Idempotent.
func (e *Engine) Unyank(name, version string) error {
	return e.setYanked(name, version, false)
}

func (e *Engine) setYanked(name, version string, yanked bool) error {
	action := "yank"
	if !yanked {
		action = "unyank"
	}
	e.logger.Info().Str("name", name).Str("version", version).Str("action", action).Msg("starting")

	indexRel, err := layout.IndexPath(name)
	if err != nil {
		return &Error{Code: ErrArchiveInvalid, Msg: "invalid crate name", Err: err}
	}
	indexFull := filepath.Join(e.root, indexRel)

	records, err := index.Load(indexFull)
	if err != nil {
		return &Error{Code: ErrIO, Msg: "failed to load index file", Err: err}
	}
	if records == nil {
		return &Error{Code: ErrUnknownCrate, Msg: fmt.Sprintf("unknown crate %q", name)}
	}

	var current *types.IndexRecord
	for i := range records {
		if records[i].Vers == version {
			current = &records[i]
			break
		}
	}
	if current == nil {
		return &Error{Code: ErrUnknownVersion, Msg: fmt.Sprintf("unknown version %s for crate %q", version, name)}
	}

	if current.Yanked == yanked {
		e.logger.Info().Str("name", name).Str("version", version).Msg(action + ": already in requested state, no-op")
		return e.maybeRegenerate()
	}

	records, err = index.Mutate(records, version, func(r *types.IndexRecord) {
		r.Yanked = yanked
	})
	if err != nil {
		return &Error{Code: ErrUnknownVersion, Msg: "failed to mutate record", Err: err}
	}

	if err := index.Write(indexFull, records); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write index file", Err: err}
	}

	return e.maybeRegenerate()
}

func (e *Engine) maybeRegenerate() error {
	if e.cfg.Defaults[types.DefaultAutoRegenerateHTML] {
		return e.GenerateHTML()
	}
	return nil
}

// List walks every per-crate index file under the registry root and
// returns one CrateSummary per published version, sorted by name then
// ascending SemVer.
func (e *Engine) List() ([]types.CrateSummary, error) {
	crates, err := e.loadAllCrates()
	if err != nil {
		return nil, err
	}

	var out []types.CrateSummary
	names := make([]string, 0, len(crates))
	for name := range crates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		records := crates[name]
		versions := make([]string, len(records))
		byVersion := make(map[string]types.IndexRecord, len(records))
		for i, r := range records {
			versions[i] = r.Vers
			byVersion[r.Vers] = r
		}
		for _, v := range semver.SortVersionsAscending(versions) {
			rec := byVersion[v]
			out = append(out, types.CrateSummary{Name: rec.Name, Version: rec.Vers, Yanked: rec.Yanked})
		}
	}

	return out, nil
}

// loadAllCrates discovers every per-crate index file under the registry
// root by listing the tree and excluding known non-index paths (crate
// artifacts, config files, the landing page).
func (e *Engine) loadAllCrates() (map[string][]types.IndexRecord, error) {
	paths, err := e.storage.List(context.Background(), "")
	if err != nil {
		return nil, &Error{Code: ErrIO, Msg: "failed to list registry tree", Err: err}
	}

	crates := make(map[string][]types.IndexRecord)
	for _, p := range paths {
		if !isIndexFilePath(p) {
			continue
		}
		records, err := index.Load(filepath.Join(e.root, p))
		if err != nil {
			return nil, &Error{Code: ErrIO, Msg: fmt.Sprintf("failed to load index file %s", p), Err: err}
		}
		if len(records) == 0 {
			continue
		}
		crates[records[0].Name] = records
	}
	return crates, nil
}

func isIndexFilePath(p string) bool {
	switch p {
	case marginConfigFile, cargoConfigFile, htmlpage.IndexFileName, htmlpage.CSSFileName:
		return false
	}
	if strings.HasPrefix(p, "crates/") {
		return false
	}
	if strings.Contains(p, ".tmp.") {
		return false
	}
	return true
}

// GenerateHTML regenerates the static landing page at the registry root.
func (e *Engine) GenerateHTML() error {
	e.logger.Info().Msg("generating landing page")

	crates, err := e.loadAllCrates()
	if err != nil {
		return err
	}

	page := htmlpage.BuildPage(crates, e.cfg.BaseURL, e.cfg.Defaults[types.DefaultGenerateClipboardWidget])

	html, css, err := htmlpage.Render(page)
	if err != nil {
		return &Error{Code: ErrIO, Msg: "failed to render landing page", Err: err}
	}

	if err := e.storage.Store(context.Background(), htmlpage.IndexFileName, bytes.NewReader(html)); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write index.html", Err: err}
	}
	if err := e.storage.Store(context.Background(), htmlpage.CSSFileName, bytes.NewReader(css)); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write margo.css", Err: err}
	}

	return nil
}
