// Package types holds the data shapes shared across Margo's packages: the
// sparse-index record format Cargo expects on the wire, and the small value
// objects the registry engine passes between components.
package types

import (
	"encoding/json"
	"sort"
)

// DependencyKind mirrors the "kind" field of a Cargo index dependency.
// Dev-dependencies are never represented here; a manifest's
// [dev-dependencies] tables are parsed only to be discarded.
type DependencyKind string

const (
	KindNormal DependencyKind = "normal"
	KindBuild  DependencyKind = "build"
)

// Dependency is one entry in an IndexRecord's deps list.
type Dependency struct {
	Name            string         `json:"name"`
	Req             string         `json:"req"`
	Features        []string       `json:"features"`
	Optional        bool           `json:"optional"`
	DefaultFeatures bool           `json:"default_features"`
	Target          *string        `json:"target,omitempty"`
	Kind            DependencyKind `json:"kind"`
	Registry        string         `json:"registry,omitempty"`
	Package         string         `json:"package,omitempty"`
}

// IndexRecord is one line of a per-crate index file. Field order matches
// Cargo's sparse-index expectations and must stay stable: name, vers, deps,
// cksum, features, yanked, links, v, features2. Unknown fields encountered
// while loading an existing file are preserved in Extra and re-emitted
// verbatim, so a Margo binary older than the schema it is reading never
// drops data it doesn't understand.
type IndexRecord struct {
	Name      string              `json:"name"`
	Vers      string              `json:"vers"`
	Deps      []Dependency        `json:"deps"`
	Cksum     string              `json:"cksum"`
	Features  map[string][]string `json:"features"`
	Yanked    bool                `json:"yanked"`
	Links     string              `json:"links,omitempty"`
	V         int                 `json:"v"`
	Features2 map[string][]string `json:"features2,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownIndexFields lists the json keys IndexRecord decodes itself, used to
// keep Extra free of fields the typed struct already owns.
var knownIndexFields = map[string]bool{
	"name": true, "vers": true, "deps": true, "cksum": true,
	"features": true, "yanked": true, "links": true, "v": true,
	"features2": true,
}

// indexRecordAlias avoids infinite recursion through MarshalJSON/UnmarshalJSON.
type indexRecordAlias IndexRecord

// UnmarshalJSON decodes the known fields normally and stashes anything else
// into Extra, so a schema version newer than this binary's round-trips
// unchanged.
func (r *IndexRecord) UnmarshalJSON(data []byte) error {
	var alias indexRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = IndexRecord(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownIndexFields[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		r.Extra = extra
	}
	return nil
}

// MarshalJSON emits the fixed Cargo field order (name, vers, deps, cksum,
// features, yanked, links, v, features2) followed by any preserved Extra
// fields, sorted by key for determinism.
func (r IndexRecord) MarshalJSON() ([]byte, error) {
	alias := indexRecordAlias(r)
	base, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if !knownIndexFields[k] {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	orderedKeys := orderedFieldNames(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range orderedKeys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, merged[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// orderedFieldNames returns keys with the fixed known-field order first,
// followed by any remaining (extra) keys in the order already sorted by
// the caller.
func orderedFieldNames(keys []string) []string {
	fixed := []string{"name", "vers", "deps", "cksum", "features", "yanked", "links", "v", "features2"}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	out := make([]string, 0, len(keys))
	for _, f := range fixed {
		if present[f] {
			out = append(out, f)
			delete(present, f)
		}
	}
	for _, k := range keys {
		if present[k] {
			out = append(out, k)
		}
	}
	return out
}

// CrateMetadata is what the archive reader extracts from a .crate file:
// enough to build an IndexRecord and to name the artifact on disk.
type CrateMetadata struct {
	Name      string
	Version   string
	Links     string
	Deps      []Dependency
	Features  map[string][]string
	Features2 map[string][]string
	Cksum     string
	Size      int64
}

// RegistryConfig is the on-disk shape of margo.toml. Defaults is kept as a
// plain map so that a newer Margo release's additional default keys survive
// a round trip through an older binary's load/save, and Unknown preserves
// any top-level key the current schema version doesn't recognize.
type RegistryConfig struct {
	SchemaVersion int             `toml:"schema_version"`
	BaseURL       string          `toml:"base_url"`
	Defaults      map[string]bool `toml:"defaults"`

	Unknown map[string]any `toml:"-"`
}

// Default option keys recognized in RegistryConfig.Defaults.
const (
	DefaultAutoRegenerateHTML      = "auto-regenerate-html"
	DefaultGenerateClipboardWidget = "generate-clipboard-widget"
)

// CargoRegistryConfig is Cargo's own discovery document, config.json, at
// the registry root.
type CargoRegistryConfig struct {
	DL  string `json:"dl"`
	API string `json:"api,omitempty"`
}

// CrateSummary is one row of an engine List result: a single published
// version of a crate and its lifecycle state.
type CrateSummary struct {
	Name    string
	Version string
	Yanked  bool
}
