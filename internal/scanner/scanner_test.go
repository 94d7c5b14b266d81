package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "caixa-a", "fevereiro.ofx")
	touch(t, root, "caixa-a", "janeiro.ofx")
	touch(t, root, "caixa-b", "extrato.QFX")
	touch(t, root, "solto.ofx")
	touch(t, root, "caixa-a", "notas.txt")
	touch(t, root, "caixa-a", "planilha.csv")

	results, err := New(root).Scan()
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Path order
	assert.Equal(t, filepath.Join(root, "caixa-a", "fevereiro.ofx"), results[0].Path)
	assert.Equal(t, filepath.Join(root, "caixa-a", "janeiro.ofx"), results[1].Path)
	assert.Equal(t, filepath.Join(root, "caixa-b", "extrato.QFX"), results[2].Path)
	assert.Equal(t, filepath.Join(root, "solto.ofx"), results[3].Path)

	// BankHint comes from the first directory under the root
	assert.Equal(t, "caixa-a", results[0].BankHint)
	assert.Equal(t, "caixa-b", results[2].BankHint)
	assert.Equal(t, "", results[3].BankHint, "files directly under root carry no hint")
}

func TestScan_NestedDirectories(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "caixa-a", "2026", "02", "extrato.ofx")

	results, err := New(root).Scan()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "caixa-a", results[0].BankHint)
}

func TestScan_EmptyDirectory(t *testing.T) {
	results, err := New(t.TempDir()).Scan()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScan_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing")).Scan()
	require.Error(t, err)
}
