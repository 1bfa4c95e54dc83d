// Package archive reads .crate files: gzip-compressed tar archives
// containing a crate's sources and Cargo.toml manifest. It extracts the
// metadata Margo's index records are built from.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/margoregistry/margo/pkg/types"
	"github.com/margoregistry/margo/pkg/utils"
)

// ErrorCode enumerates the ways reading a .crate can fail.
type ErrorCode string

const (
	ErrIO              ErrorCode = "IoError"
	ErrNotGzip         ErrorCode = "NotGzip"
	ErrMalformed       ErrorCode = "MalformedArchive"
	ErrMissingManifest ErrorCode = "MissingManifest"
	ErrInvalidManifest ErrorCode = "InvalidManifest"
	ErrInvalidName     ErrorCode = "InvalidName"
	ErrInvalidVersion  ErrorCode = "InvalidVersion"
)

// Error is a typed archive-reading failure.
type Error struct {
	Code ErrorCode
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(code ErrorCode, path string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ReadFile opens and parses the .crate file at path. It streams the file
// once through a SHA-256 digest while buffering a copy for the gzip/tar
// scan, rather than hashing an already-fully-buffered byte slice.
func ReadFile(path string) (*types.CrateMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(ErrIO, path, err, "failed to open crate file")
	}
	defer f.Close()

	var buf bytes.Buffer
	cksum, err := utils.ComputeSHA256FromReader(io.TeeReader(f, &buf))
	if err != nil {
		return nil, wrapErr(ErrIO, path, err, "failed to read crate file")
	}

	return readWithChecksum(path, buf.Bytes(), cksum)
}

// ReadResult pairs one input path with its parsed metadata or error, so
// ReadAll's caller can report per-file outcomes independently.
type ReadResult struct {
	Path     string
	Metadata *types.CrateMetadata
	Err      error
}

// ReadAll reads and parses every path concurrently, bounded by a small
// worker pool, and returns one ReadResult per input in input order. A
// failure on one file never prevents the others from being parsed.
func ReadAll(paths []string) []ReadResult {
	const maxWorkers = 8

	results := make([]ReadResult, len(paths))
	jobs := make(chan int)

	workers := maxWorkers
	if workers > len(paths) {
		workers = len(paths)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				meta, err := ReadFile(paths[i])
				results[i] = ReadResult{Path: paths[i], Metadata: meta, Err: err}
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// Read parses the raw bytes of a .crate file. path is used only for error
// messages.
func Read(path string, data []byte) (*types.CrateMetadata, error) {
	return readWithChecksum(path, data, utils.ComputeSHA256(data))
}

// readWithChecksum does the actual gzip/tar scan and manifest parse, given a
// checksum the caller has already computed (possibly while streaming data in
// from disk, as ReadFile does).
func readWithChecksum(path string, data []byte, cksum string) (*types.CrateMetadata, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, wrapErr(ErrNotGzip, path, err, "not a gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var manifestData []byte
	var manifestEntry string
	stems := make(map[string]bool)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapErr(ErrMalformed, path, err, "malformed tar archive")
		}

		clean := strings.TrimPrefix(hdr.Name, "./")
		if idx := strings.Index(clean, "/"); idx >= 0 {
			stems[clean[:idx]] = true
		}

		if strings.HasSuffix(clean, "/Cargo.toml") && strings.Count(clean, "/") == 1 {
			if manifestData != nil {
				return nil, newErr(ErrMalformed, path, "archive contains more than one Cargo.toml")
			}
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, wrapErr(ErrMalformed, path, err, "failed to read Cargo.toml entry")
			}
			manifestData = buf
			manifestEntry = clean
		}
	}

	if len(stems) != 1 {
		return nil, newErr(ErrMalformed, path, "archive must contain exactly one top-level directory, found %d", len(stems))
	}
	if manifestData == nil {
		return nil, newErr(ErrMissingManifest, path, "no Cargo.toml found at %s/Cargo.toml", oneOf(stems))
	}

	meta, err := parseManifest(manifestData)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(manifestEntry, "/Cargo.toml")
	if stem != StemName(meta.Name, meta.Version) {
		return nil, newErr(ErrMalformed, path, "archive top-level directory %q does not match package %s-%s", stem, meta.Name, meta.Version)
	}

	meta.Cksum = cksum
	meta.Size = int64(len(data))

	return meta, nil
}

func oneOf(set map[string]bool) string {
	for k := range set {
		return k
	}
	return ""
}

// rawManifest mirrors the parts of Cargo.toml Margo reads. Dependency
// tables are decoded as interface{} because a dependency value may be
// either a bare version string or an inline table.
type rawManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Links   string `toml:"links"`
	} `toml:"package"`
	Dependencies      map[string]any       `toml:"dependencies"`
	DevDependencies   map[string]any       `toml:"dev-dependencies"`
	BuildDependencies map[string]any       `toml:"build-dependencies"`
	Features          map[string][]string  `toml:"features"`
	Target            map[string]rawTarget `toml:"target"`
}

type rawTarget struct {
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

func parseManifest(data []byte) (*types.CrateMetadata, error) {
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, wrapErr(ErrInvalidManifest, "", err, "failed to parse Cargo.toml")
	}

	if raw.Package.Name == "" {
		return nil, newErr(ErrInvalidName, "", "Cargo.toml missing [package].name")
	}
	if raw.Package.Version == "" {
		return nil, newErr(ErrInvalidVersion, "", "Cargo.toml missing [package].version")
	}

	var deps []types.Dependency

	appendDeps := func(table map[string]any, kind types.DependencyKind, target *string) error {
		for name, value := range table {
			dep, err := normalizeDependency(name, value, kind, target)
			if err != nil {
				return err
			}
			deps = append(deps, dep)
		}
		return nil
	}

	if err := appendDeps(raw.Dependencies, types.KindNormal, nil); err != nil {
		return nil, err
	}
	if err := appendDeps(raw.BuildDependencies, types.KindBuild, nil); err != nil {
		return nil, err
	}
	// [dev-dependencies] is parsed only to validate syntax, then discarded.
	if _, err := normalizeTable(raw.DevDependencies); err != nil {
		return nil, err
	}

	for cfg, t := range raw.Target {
		cfgCopy := cfg
		if err := appendDeps(t.Dependencies, types.KindNormal, &cfgCopy); err != nil {
			return nil, err
		}
		if err := appendDeps(t.BuildDependencies, types.KindBuild, &cfgCopy); err != nil {
			return nil, err
		}
		if _, err := normalizeTable(t.DevDependencies); err != nil {
			return nil, err
		}
	}

	features, features2 := splitFeatures(raw.Features)

	return &types.CrateMetadata{
		Name:      raw.Package.Name,
		Version:   raw.Package.Version,
		Links:     raw.Package.Links,
		Deps:      deps,
		Features:  features,
		Features2: features2,
	}, nil
}

func normalizeTable(table map[string]any) ([]types.Dependency, error) {
	var out []types.Dependency
	for name, value := range table {
		dep, err := normalizeDependency(name, value, types.KindNormal, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

// normalizeDependency turns one [dependencies] table entry into a
// types.Dependency. An inline version string is equivalent to
// {version = "..."}. A package rename (`package = "X"`) yields a record
// whose name is the renamed crate and whose Package field carries the
// dependency's key in the manifest.
func normalizeDependency(key string, value any, kind types.DependencyKind, target *string) (types.Dependency, error) {
	dep := types.Dependency{
		Name:            key,
		DefaultFeatures: true,
		Kind:            kind,
		Target:          target,
	}

	switch v := value.(type) {
	case string:
		dep.Req = v
		return dep, nil
	case map[string]any:
		if req, ok := v["version"].(string); ok {
			dep.Req = req
		}
		if optional, ok := v["optional"].(bool); ok {
			dep.Optional = optional
		}
		if defFeat, ok := v["default-features"].(bool); ok {
			dep.DefaultFeatures = defFeat
		}
		if registry, ok := v["registry"].(string); ok {
			dep.Registry = registry
		}
		if pkg, ok := v["package"].(string); ok {
			dep.Package = key
			dep.Name = pkg
		}
		if rawFeatures, ok := v["features"].([]any); ok {
			for _, f := range rawFeatures {
				if s, ok := f.(string); ok {
					dep.Features = append(dep.Features, s)
				}
			}
		}
		return dep, nil
	default:
		return dep, &Error{Code: ErrInvalidManifest, Msg: fmt.Sprintf("dependency %q has unsupported shape %T", key, value)}
	}
}

// splitFeatures separates feature definitions into schema-v1 features and
// schema-v2 features2: any value containing namespaced ("dep:") or weak
// ("?/") syntax goes to features2.
func splitFeatures(all map[string][]string) (map[string][]string, map[string][]string) {
	if all == nil {
		return nil, nil
	}

	features := make(map[string][]string)
	var features2 map[string][]string

	for name, values := range all {
		isV2 := false
		for _, v := range values {
			if strings.Contains(v, "dep:") || strings.Contains(v, "?/") {
				isV2 = true
				break
			}
		}
		if isV2 {
			if features2 == nil {
				features2 = make(map[string][]string)
			}
			features2[name] = values
		} else {
			features[name] = values
		}
	}

	return features, features2
}

// StemName returns the expected top-level directory name for a crate
// archive, "{name}-{version}".
func StemName(name, version string) string {
	return path.Join(fmt.Sprintf("%s-%s", name, version))
}
