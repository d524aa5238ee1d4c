// Package artifact stores execution artifacts (screenshots) and hands back
// opaque references for progress events and outcomes.
package artifact

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Store persists artifact bytes. Saving is a side channel: a failed save
// never changes an execution's verdict.
type Store interface {
	Save(ctx context.Context, executionID, label string, data []byte) (string, error)
}

// DirStore writes artifacts under root/<execution-id>/, content-addressed
// so retried captures of identical state collapse to one file.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Save(_ context.Context, executionID, label string, data []byte) (string, error) {
	dir := filepath.Join(s.root, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	name := fmt.Sprintf("%s_%s.png", label, hex.EncodeToString(sum[:8]))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return filepath.Join(executionID, name), nil
}
