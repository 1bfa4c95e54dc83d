// Package index manages per-crate sparse-index files: a newline-delimited
// sequence of JSON records, one per published version, sorted by ascending
// SemVer.
package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/margoregistry/margo/pkg/semver"
	"github.com/margoregistry/margo/pkg/types"
)

// ErrorCode enumerates the ways an index-file operation can fail.
type ErrorCode string

const (
	ErrDuplicateVersion ErrorCode = "DuplicateVersion"
	ErrUnknownVersion   ErrorCode = "UnknownVersion"
	ErrParse            ErrorCode = "ParseError"
	ErrIO               ErrorCode = "IoError"
)

// Error is a typed index-file failure.
type Error struct {
	Code ErrorCode
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

// Load reads path and parses each non-blank line as an IndexRecord. A
// missing file returns an empty slice, not an error — a crate with no
// published versions has no index file yet.
func Load(path string) ([]types.IndexRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Code: ErrIO, Msg: "failed to read index file", Err: err}
	}

	var records []types.IndexRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec types.IndexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &Error{Code: ErrParse, Msg: fmt.Sprintf("%s:%d: invalid JSON", path, lineNum), Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Code: ErrIO, Msg: "failed to scan index file", Err: err}
	}

	return records, nil
}

// Insert adds a new record to records, keeping the result SemVer-ascending.
// It fails with ErrDuplicateVersion if a record with the same Vers already
// exists.
func Insert(records []types.IndexRecord, rec types.IndexRecord) ([]types.IndexRecord, error) {
	for _, existing := range records {
		if existing.Vers == rec.Vers {
			return nil, &Error{Code: ErrDuplicateVersion, Msg: fmt.Sprintf("version %s already present", rec.Vers)}
		}
	}

	out := append(append([]types.IndexRecord(nil), records...), rec)
	sortBySemver(out)
	return out, nil
}

// Mutate applies f to the record matching version and returns the updated
// slice. Fails with ErrUnknownVersion if no record matches.
func Mutate(records []types.IndexRecord, version string, f func(*types.IndexRecord)) ([]types.IndexRecord, error) {
	out := append([]types.IndexRecord(nil), records...)
	for i := range out {
		if out[i].Vers == version {
			f(&out[i])
			return out, nil
		}
	}
	return nil, &Error{Code: ErrUnknownVersion, Msg: fmt.Sprintf("version %s not found", version)}
}

// Write serializes records as one JSON line each, in the given order, to
// path. The write is atomic: a sibling temp file is written, fsynced, then
// renamed over the target. Missing parent directories are created.
func Write(path string, records []types.IndexRecord) error {
	var buf bytes.Buffer
	for i, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return &Error{Code: ErrIO, Msg: "failed to marshal index record", Err: err}
		}
		buf.Write(line)
		if i < len(records)-1 {
			buf.WriteByte('\n')
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to create index directory", Err: err}
	}

	tempPath := path + ".tmp." + uuid.NewString()
	f, err := os.Create(tempPath)
	if err != nil {
		return &Error{Code: ErrIO, Msg: "failed to create temporary index file", Err: err}
	}
	defer func() {
		f.Close()
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write index file", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to sync index file", Err: err}
	}
	f.Close()

	if err := os.Rename(tempPath, path); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to rename index file into place", Err: err}
	}

	return nil
}

func sortBySemver(records []types.IndexRecord) {
	versions := make([]string, len(records))
	for i, r := range records {
		versions[i] = r.Vers
	}
	byVersion := make(map[string]types.IndexRecord, len(records))
	for _, r := range records {
		byVersion[r.Vers] = r
	}

	ordered := semver.SortVersionsAscending(versions)
	for i, v := range ordered {
		records[i] = byVersion[v]
	}
}
