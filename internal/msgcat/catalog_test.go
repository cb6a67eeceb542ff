package msgcat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	out, err := c.Render("telegram.move_played", map[string]any{"SAN": "Nf3"})
	require.NoError(t, err)
	assert.Equal(t, "You played Nf3.", out)

	_, err = c.Render("telegram.move_played", map[string]any{})
	assert.Error(t, err, "missing keys must fail")

	_, err = c.Render("telegram.nope", nil)
	assert.Error(t, err)
	assert.Equal(t, "telegram.nope", c.Text("telegram.nope", nil))
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("telegram:\n  move_played: \"Played {{.SAN}}!\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	c, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, "Played e4!", c.Text("telegram.move_played", map[string]any{"SAN": "e4"}))
	assert.Equal(t, "Usage: /board <game>", c.Text("telegram.board_usage", nil))
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("telegram:\n  help: x\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o600))

	_, err := New(dir)
	assert.ErrorContains(t, err, "duplicate override key")
}

func TestNonStringLeafRejected(t *testing.T) {
	_, err := parseYAMLToFlat([]byte("telegram:\n  count: 3\n"))
	assert.Error(t, err)
}
