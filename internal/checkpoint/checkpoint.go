// Package checkpoint saves model snapshots to disk and loads them back.
//
// A checkpoint holds layer configs and weights only. The optimizer is never
// written, so a saved artifact cannot be used to resume training.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"safemodel/internal/snapshot"
	dErrors "safemodel/pkg/domain-errors"
	"safemodel/pkg/platform/sentinel"
)

// Suffix is the only accepted checkpoint file extension.
const Suffix = ".json"

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "checkpoint path is required")
	}
	if !strings.HasSuffix(path, Suffix) {
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("checkpoint path %q must end in %s", path, Suffix))
	}
	return nil
}

// Save writes snap to path, replacing any existing file atomically.
func Save(snap snapshot.Snapshot, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	b, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (snapshot.Snapshot, error) {
	if err := validatePath(path); err != nil {
		return snapshot.Snapshot{}, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot.Snapshot{}, fmt.Errorf("checkpoint %s: %w", path, sentinel.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return snapshot.Unmarshal(b)
}

// Equal loads two checkpoints and compares them with both comparators. The
// message combines both reports.
func Equal(path1, path2 string) (bool, string, error) {
	a, err := Load(path1)
	if err != nil {
		return false, "", err
	}
	b, err := Load(path2)
	if err != nil {
		return false, "", err
	}

	sameConfigs, configMsg := snapshot.CompareConfigs(a, b)
	sameWeights, weightMsg := snapshot.CompareWeights(a, b)
	return sameConfigs && sameWeights, configMsg + "\n" + weightMsg, nil
}
