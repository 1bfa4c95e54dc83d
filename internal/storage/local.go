// Package storage provides the atomic local-filesystem writer the engine
// uses for crate artifacts, Cargo's config.json, and HTML output (index
// files and margo.toml are written by their own packages). Every write lands through
// a temp file, fsync, and rename so a reader never observes a torn file.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalStorage roots all paths at basePath — a Margo registry directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the base directory if absent and returns a
// LocalStorage rooted there.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create registry directory")
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	log.Debug().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{basePath: basePath}, nil
}

// BasePath returns the root directory this storage is rooted at.
func (ls *LocalStorage) BasePath() string { return ls.basePath }

// Store writes content to path (relative to basePath) atomically: a
// sibling temp file is written, fsynced, then renamed over the target.
// Missing parent directories are created.
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fullPath + ".tmp." + uuid.NewString()
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		tempFile.Close()
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := io.Copy(tempFile, content); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write content to temporary file")
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to move temporary file to final location")
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Debug().Str("path", path).Msg("file stored atomically")
	return nil
}

// Retrieve opens path (relative to basePath) for reading.
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, path)
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists reports whether path (relative to basePath) exists.
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, path)
	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// List walks prefix (relative to basePath) and returns the relative paths
// of every regular file found beneath it. A missing prefix yields an empty
// list, not an error — a fresh registry has no crates yet.
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	searchPath := filepath.Join(ls.basePath, prefix)
	var paths []string

	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() {
			relPath, relErr := filepath.Rel(ls.basePath, path)
			if relErr != nil {
				return relErr
			}
			paths = append(paths, relPath)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return paths, nil
}
