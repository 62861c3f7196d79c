package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemodel/internal/snapshot"
	dErrors "safemodel/pkg/domain-errors"
	"safemodel/pkg/platform/sentinel"
)

func testSnapshot(t *testing.T, bias float64) snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.New(
		[]map[string]any{{"name": "dense", "units": 2}},
		[][]snapshot.Tensor{{{Shape: []int{2}, Data: []float64{0.25, bias}}}},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return snap
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "fit_model.json")
	snap := testSnapshot(t, -0.5)

	require.NoError(t, Save(snap, path))
	loaded, err := Load(path)
	require.NoError(t, err)

	same, msg := snapshot.CompareWeights(snap, loaded)
	assert.True(t, same, msg)
	same, msg = snapshot.CompareConfigs(snap, loaded)
	assert.True(t, same, msg)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPathValidation(t *testing.T) {
	snap := testSnapshot(t, 0)
	for _, path := range []string{"", "   ", "model.tf", "model.h5"} {
		err := Save(snap, path)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "save %q", path)
		_, err = Load(path)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "load %q", path)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	assert.ErrorIs(t, err, sentinel.ErrCorrupt)
}

func TestEqual(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	c := filepath.Join(dir, "c.json")
	require.NoError(t, Save(testSnapshot(t, 1), a))
	require.NoError(t, Save(testSnapshot(t, 1), b))
	require.NoError(t, Save(testSnapshot(t, 2), c))

	same, msg, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, same)
	assert.Equal(t, snapshot.MsgConfigsMatch+"\n"+snapshot.MsgWeightsMatch, msg)

	same, msg, err = Equal(a, c)
	require.NoError(t, err)
	assert.False(t, same)
	assert.Contains(t, msg, "weight group 0 of layer 0 differs at element 1")

	_, _, err = Equal(a, filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
