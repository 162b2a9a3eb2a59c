package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"eval", "serve", "samples", "sync", "export", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "highlight-helper", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEvalCommand_Flags(t *testing.T) {
	for _, name := range []string{"dataset", "offline", "cache", "report-path", "no-report", "verbose", "threshold", "concurrency"} {
		assert.NotNil(t, evalCmd.Flags().Lookup(name), "eval should have --%s flag", name)
	}

	// Negative threshold means "use the configured default".
	flag := evalCmd.Flags().Lookup("threshold")
	require.NotNil(t, flag)
	assert.Equal(t, "-1", flag.DefValue)

	short := evalCmd.Flags().ShorthandLookup("v")
	require.NotNil(t, short, "eval should accept -v for --verbose")
	assert.Equal(t, "verbose", short.Name)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSamplesCommand_Flags(t *testing.T) {
	flag := samplesCmd.Flags().Lookup("dir")
	require.NotNil(t, flag, "samples command should have --dir flag")
	assert.Equal(t, "evals/samples", flag.DefValue)
}

func TestSyncCommand_Flags(t *testing.T) {
	flag := syncCmd.Flags().Lookup("book")
	require.NotNil(t, flag, "sync command should have --book flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("format")
	require.NotNil(t, flag, "export command should have --format flag")
	assert.Equal(t, "xlsx", flag.DefValue)

	assert.NotNil(t, exportCmd.Flags().Lookup("output"))
}
