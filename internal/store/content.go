// Package store provides the persistence layer of the livegen daemon: a
// content-addressed blob store, the atomic output writer, and the SQLite
// database that is the single source of truth for nodes, instances, cached
// values, dependency edges, tail state, webhook triggers, and logs.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/livegen/internal/errors"
)

// ContentStore is content-addressed, immutable blob storage with dedup.
// Blobs are write-once and never mutated.
type ContentStore struct {
	root string
}

// NewContentStore creates a content store rooted at the given directory.
func NewContentStore(root string) (*ContentStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewIOError("creating content store directory", err)
	}
	return &ContentStore{root: root}, nil
}

// HashContent returns the sha256 hex digest of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store writes content into the store and returns its hash and blob path.
// Identical content is written at most once.
func (s *ContentStore) Store(content []byte) (string, string, error) {
	hash := HashContent(content)
	path := filepath.Join(s.root, hash)

	if _, err := os.Stat(path); err == nil {
		return hash, path, nil
	} else if !os.IsNotExist(err) {
		return "", "", errors.NewIOError("probing content blob", err)
	}

	// Write to a temp name first so a crashed write never leaves a partial
	// blob under its final hash.
	tmp, err := os.CreateTemp(s.root, ".blob-*")
	if err != nil {
		return "", "", errors.NewIOError("creating content blob", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", errors.NewIOError("writing content blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", errors.NewIOError("closing content blob", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", "", errors.NewIOError("publishing content blob", err)
	}

	return hash, path, nil
}

// Get retrieves content by hash.
func (s *ContentStore) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("content_not_found", fmt.Sprintf("no content for hash %s", hash))
		}
		return nil, errors.NewIOError("reading content blob", err)
	}
	return data, nil
}

// Path returns the blob path for a hash without checking existence.
func (s *ContentStore) Path(hash string) string {
	return filepath.Join(s.root, hash)
}

// Cleanup deletes every blob not in the supplied live set and returns the
// number removed. Garbage collection is caller-driven; there is no reference
// counting.
func (s *ContentStore) Cleanup(liveHashes []string) (int, error) {
	live := make(map[string]struct{}, len(liveHashes))
	for _, h := range liveHashes {
		live[h] = struct{}{}
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, errors.NewIOError("listing content store", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, entry.Name())); err != nil {
			return removed, errors.NewIOError("removing unused blob", err)
		}
		removed++
	}
	return removed, nil
}
