// Package config implements Margo's own configuration store: loading,
// schema migration, and persistence of margo.toml, plus regeneration of
// Cargo's config.json discovery document.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/margoregistry/margo/pkg/types"
)

// CurrentSchemaVersion is the schema version Margo writes going forward.
const CurrentSchemaVersion = 2

// ErrorCode enumerates configuration-store failures.
type ErrorCode string

const (
	ErrUnknownSchema ErrorCode = "UnknownSchemaVersion"
	ErrMalformed     ErrorCode = "MalformedConfig"
	ErrMissingField  ErrorCode = "MissingBaseURL"
	ErrIO            ErrorCode = "IoError"
)

// Error is a typed configuration-store failure.
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

// defaultsAtVersion returns the default `defaults` map for a freshly
// initialized registry written at the current schema version.
func defaultsAtVersion() map[string]bool {
	return map[string]bool{
		types.DefaultAutoRegenerateHTML:      true,
		types.DefaultGenerateClipboardWidget: true,
	}
}

// migration is one pure step in the schema migration chain: it reads a
// document at schema version N and returns the equivalent document at
// version N+1.
type migration func(doc map[string]any) (map[string]any, error)

// migrations is indexed by (fromVersion - 1): migrations[0] migrates v1 to
// v2, and so on. Adding schema v3 means appending migrateV2ToV3 here.
var migrations = []migration{
	migrateV1ToV2,
}

// migrateV1ToV2 introduces defaults.generate-clipboard-widget, defaulting
// to enabled, without disturbing any option already set.
func migrateV1ToV2(doc map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range doc {
		out[k] = v
	}

	defaults, _ := out["defaults"].(map[string]any)
	if defaults == nil {
		defaults = map[string]any{}
	}
	if _, ok := defaults[types.DefaultGenerateClipboardWidget]; !ok {
		defaults[types.DefaultGenerateClipboardWidget] = true
	}
	out["defaults"] = defaults
	out["schema_version"] = 2

	return out, nil
}

// New builds a fresh RegistryConfig at the current schema version. It reads
// no file, so a fresh registry never goes through the migration chain.
func New(baseURL string, defaults map[string]bool) *types.RegistryConfig {
	merged := defaultsAtVersion()
	for k, v := range defaults {
		merged[k] = v
	}
	return &types.RegistryConfig{
		SchemaVersion: CurrentSchemaVersion,
		BaseURL:       baseURL,
		Defaults:      merged,
	}
}

// Load reads and, if necessary, migrates margo.toml at path. Migration
// failure is fatal: the tool refuses to operate on a registry whose schema
// it cannot understand.
func Load(path string) (*types.RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrIO, Msg: "failed to read configuration file", Err: err}
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Code: ErrMalformed, Msg: "failed to parse margo.toml", Err: err}
	}

	version, _ := doc["schema_version"].(int64)
	if version == 0 {
		if v, ok := doc["schema_version"].(int); ok {
			version = int64(v)
		}
	}
	if version == 0 {
		version = 1
	}

	if int(version) > CurrentSchemaVersion {
		return nil, &Error{Code: ErrUnknownSchema, Msg: fmt.Sprintf("config schema_version %d is newer than this binary understands (max %d)", version, CurrentSchemaVersion)}
	}

	for v := int(version); v < CurrentSchemaVersion; v++ {
		migrated, err := migrations[v-1](doc)
		if err != nil {
			return nil, &Error{Code: ErrMalformed, Msg: fmt.Sprintf("migration from schema v%d failed", v), Err: err}
		}
		doc = migrated
		log.Info().Int("from", v).Int("to", v+1).Msg("migrated registry configuration")
	}

	cfg, err := decode(doc)
	if err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		return nil, &Error{Code: ErrMissingField, Msg: "margo.toml missing base_url"}
	}

	// Fold current defaults over the document so newly introduced default
	// keys appear even if the document predates them, without clobbering
	// anything the document already set.
	folded := defaultsAtVersion()
	if err := mergo.Merge(&folded, cfg.Defaults, mergo.WithOverride); err != nil {
		return nil, &Error{Code: ErrMalformed, Msg: "failed to fold configuration defaults", Err: err}
	}
	cfg.Defaults = folded
	cfg.SchemaVersion = CurrentSchemaVersion

	return cfg, nil
}

func decode(doc map[string]any) (*types.RegistryConfig, error) {
	cfg := &types.RegistryConfig{
		Defaults: map[string]bool{},
		Unknown:  map[string]any{},
	}

	known := map[string]bool{"schema_version": true, "base_url": true, "defaults": true}

	if v, ok := doc["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if defaults, ok := doc["defaults"].(map[string]any); ok {
		for k, v := range defaults {
			if b, ok := v.(bool); ok {
				cfg.Defaults[k] = b
			}
		}
	}
	for k, v := range doc {
		if !known[k] {
			cfg.Unknown[k] = v
		}
	}

	return cfg, nil
}

// Save writes cfg to path atomically, always at CurrentSchemaVersion.
func Save(path string, cfg *types.RegistryConfig) error {
	doc := map[string]any{
		"schema_version": CurrentSchemaVersion,
		"base_url":       cfg.BaseURL,
		"defaults":       sortedBoolMap(cfg.Defaults),
	}
	for k, v := range cfg.Unknown {
		doc[k] = v
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return &Error{Code: ErrMalformed, Msg: "failed to marshal margo.toml", Err: err}
	}

	return atomicWrite(path, data)
}

// sortedBoolMap returns a map[string]any view of a map[string]bool purely
// so go-toml's encoder (which requires interface{} values for arbitrary
// tables) can serialize it without reflection surprises.
func sortedBoolMap(m map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CargoConfig builds Cargo's own config.json document for baseURL.
func CargoConfig(baseURL string) types.CargoRegistryConfig {
	return types.CargoRegistryConfig{
		DL: fmt.Sprintf("%s/crates/{crate}/{crate}-{version}.crate", baseURL),
	}
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to create configuration directory", Err: err}
	}

	tempPath := path + ".tmp." + uuid.NewString()
	f, err := os.Create(tempPath)
	if err != nil {
		return &Error{Code: ErrIO, Msg: "failed to create temporary configuration file", Err: err}
	}
	defer func() {
		f.Close()
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to write configuration file", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to sync configuration file", Err: err}
	}
	f.Close()

	if err := os.Rename(tempPath, path); err != nil {
		return &Error{Code: ErrIO, Msg: "failed to rename configuration file into place", Err: err}
	}
	return nil
}
