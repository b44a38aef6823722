// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPristineRootCmd builds an isolated copy of the root command so tests
// never touch the package-level instance or the global viper state.
func newPristineRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "droidpilot",
		Short:   rootCmd.Short,
		Version: Version,
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.AddCommand(newRunCmd())
	return cmd
}

// executeCommand runs an isolated root command without the config-loading
// PersistentPreRunE, for argument and flag validation tests.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testRootCmd := newPristineRootCmd()

	buf := new(bytes.Buffer)
	testRootCmd.SetOut(buf)
	testRootCmd.SetErr(buf)
	testRootCmd.SetArgs(args)
	err := testRootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "run")
}

func TestRunCmd_RequiresInstruction(t *testing.T) {
	testRootCmd := newPristineRootCmd()
	// Argument validation happens before PreRunE, so no config is loaded.
	buf := new(bytes.Buffer)
	testRootCmd.SetOut(buf)
	testRootCmd.SetErr(buf)
	testRootCmd.SetArgs([]string{"run"})

	err := testRootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestRunCmd_DeclaresOverrideFlags(t *testing.T) {
	runCmd := newRunCmd()
	for _, name := range []string{"mode", "max-steps", "extended-memory"} {
		assert.NotNilf(t, runCmd.Flags().Lookup(name), "flag %s must exist", name)
	}
}
