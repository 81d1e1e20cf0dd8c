package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir_LoadsYAMLFormulas(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evi2.yaml"), []byte(`
name: evi2
description: Two-band Enhanced Vegetation Index approximation
type: ratio
plus: [nir]
minus: [red]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))

	f, err := r.Get("evi2")
	require.NoError(t, err)
	assert.Equal(t, FormulaRatio, f.Type)
	assert.Equal(t, []string{"nir", "red"}, f.RequiredBands())
}

func TestLoadDir_InvalidFormula_Fails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: bad
type: normalized-difference
plus: [nir]
`), 0o644))

	r := NewRegistry()
	assert.Error(t, r.LoadDir(dir))
}

func TestGet_UnknownFormula_Fails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ndvi")
	assert.ErrorContains(t, err, "not found")
}

func TestDefaultFormulas_RegisterCleanly(t *testing.T) {
	r := NewRegistry()
	for _, f := range DefaultFormulas() {
		require.NoError(t, r.Register(f))
	}
	assert.Equal(t, []string{"bsi", "nbr", "ndmi", "ndvi"}, r.Names())
}
