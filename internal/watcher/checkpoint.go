package watcher

import (
	"encoding/json"
	"os"

	"github.com/yourusername/arcsign/internal/types"
)

// Checkpoint is the last source-chain position up to which every observed
// request has been durably persisted (spec §3 glossary, §4.1 checkpoint
// policy).
type Checkpoint struct {
	LastSignature string `json:"last_signature"`
	LastSlot      uint64 `json:"last_slot"`
}

// CheckpointStore persists and loads the watcher's checkpoint so polling
// resumes from the right position across restarts.
type CheckpointStore interface {
	Load() (Checkpoint, error)
	Save(Checkpoint) error
}

// FileCheckpointStore persists the checkpoint as JSON to a local file,
// generalizing the teacher's atomic temp-file-then-rename durability
// pattern from src/chainadapter/storage/file.go to a single small record
// instead of a transaction-state table.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore returns a store backed by path.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

func (f *FileCheckpointStore) Load() (Checkpoint, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, types.NewStoreError("failed to read checkpoint file", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, types.NewStoreError("failed to parse checkpoint file", err)
	}
	return cp, nil
}

func (f *FileCheckpointStore) Save(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return types.NewStoreError("failed to marshal checkpoint", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return types.NewStoreError("failed to write checkpoint tmp file", err)
	}

	file, err := os.OpenFile(tmp, os.O_RDWR, 0600)
	if err == nil {
		file.Sync()
		file.Close()
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return types.NewStoreError("failed to rename checkpoint file into place", err)
	}
	return nil
}
