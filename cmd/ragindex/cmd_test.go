package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragindex/internal/search"
	"ragindex/internal/vectorstore"
)

func setupProject(t *testing.T) (cfgPath, indexDir string) {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "input")
	indexDir = filepath.Join(root, "index")
	require.NoError(t, os.MkdirAll(filepath.Join(input, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "ducks.txt"),
		[]byte("Ducks swim on the pond and eat bread crumbs."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "notes", "rust.md"),
		[]byte("Iron oxidizes into rust when exposed to water and oxygen."), 0o644))

	cfgPath = filepath.Join(root, "ragindex.yaml")
	cfg := "index_dir: " + indexDir + "\n" +
		"embedder:\n  type: hashing\n  hashing:\n    dimension: 128\n" +
		"chunker:\n  type: window\n  size: 200\n  overlap: 20\n" +
		"source:\n  input_dir: " + input + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, indexDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_BuildSearchHealth(t *testing.T) {
	cfgPath, indexDir := setupProject(t)

	out, err := run(t, "--config", cfgPath, "build", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:      rebuild")
	assert.Contains(t, out, "chunks:    2 added, 2 total")
	assert.FileExists(t, filepath.Join(indexDir, vectorstore.ManifestFile))
	store, status := vectorstore.Load(indexDir, nil)
	require.True(t, status.Complete, status.Reason)
	assert.Equal(t, 2, store.Len())

	out, err = run(t, "--config", cfgPath, "search", "--json", "-k", "1", "ducks", "pond")
	require.NoError(t, err)
	var hits []search.Hit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "ducks.txt", hits[0].Title)
	assert.Greater(t, hits[0].Score, 50.0)

	out, err = run(t, "--config", cfgPath, "health")
	require.NoError(t, err)
	var h search.Health
	require.NoError(t, json.Unmarshal([]byte(out), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Chunks)
}

func TestCLI_AppendFallsBackWithoutIndex(t *testing.T) {
	cfgPath, _ := setupProject(t)

	out, err := run(t, "--config", cfgPath, "build", "--mode", "append", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "rebuild (requested append")

	out, err = run(t, "--config", cfgPath, "build", "--mode", "append", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:      append")
	assert.Contains(t, out, "chunks:    2 added, 4 total")
}

func TestCLI_IndexDirFlagOverridesConfig(t *testing.T) {
	cfgPath, _ := setupProject(t)
	other := t.TempDir()

	_, err := run(t, "--config", cfgPath, "--index-dir", other, "build", "--no-progress", "--max-chunks", "1")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(other, vectorstore.ManifestFile))

	out, err := run(t, "--config", cfgPath, "--index-dir", other, "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"chunks":1`)
}

func TestCLI_SearchEmptyIndex(t *testing.T) {
	cfgPath, _ := setupProject(t)

	out, err := run(t, "--config", cfgPath, "search", "anything")
	require.NoError(t, err)
	assert.Equal(t, "No results found.", strings.TrimSpace(out))
}

func TestCLI_InvalidMode(t *testing.T) {
	cfgPath, _ := setupProject(t)

	_, err := run(t, "--config", cfgPath, "build", "--mode", "merge", "--no-progress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
