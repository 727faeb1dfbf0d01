//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "dcn", "attempt", "address"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "serveroute", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestDCNCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range dcnCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"import", "template", "batches", "review"} {
		assert.True(t, names[name], "expected dcn subcommand %q not found", name)
	}

	review := make(map[string]bool)
	for _, c := range dcnReviewCmd.Commands() {
		review[c.Name()] = true
	}
	for _, name := range []string{"list", "confirm", "reject", "search", "audit"} {
		assert.True(t, review[name], "expected review subcommand %q not found", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAddressImport_RequiresRoute(t *testing.T) {
	flag := addressImportCmd.Flags().Lookup("route")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Annotations, "cobra_annotation_bash_completion_one_required_flag")
}

func TestSessionFlags(t *testing.T) {
	for _, c := range []string{"company", "actor", "role"} {
		assert.NotNil(t, dcnCmd.PersistentFlags().Lookup(c), c)
		assert.NotNil(t, attemptCmd.PersistentFlags().Lookup(c), c)
		assert.NotNil(t, addressCmd.PersistentFlags().Lookup(c), c)
	}
	assert.Equal(t, "admin", dcnCmd.PersistentFlags().Lookup("role").DefValue)
}

func TestAddressImport_GeocodeFlag(t *testing.T) {
	flag := addressImportCmd.Flags().Lookup("geocode")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
