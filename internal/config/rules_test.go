package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
matching_rules:
  abbreviations:
    pike: pk
    crescent: cres
  header_aliases:
    docket: dcn
    street_address: address
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "pk", r.Abbreviations["pike"])
	assert.Equal(t, "cres", r.Abbreviations["crescent"])
	assert.Equal(t, "dcn", r.HeaderAliases["docket"])
	assert.Equal(t, "address", r.HeaderAliases["street_address"])
}

func TestLoadRules_EmptyPath(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.Empty(t, r.Abbreviations)
	assert.Empty(t, r.HeaderAliases)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: read rules")
}

func TestLoadRules_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matching_rules: [unclosed"), 0o644))

	_, err := LoadRules(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse rules")
}

func TestLoadRules_EmptyAliasTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("matching_rules:\n  header_aliases:\n    docket: \"\"\n"), 0o644))

	_, err := LoadRules(path)
	assert.Error(t, err)
}
