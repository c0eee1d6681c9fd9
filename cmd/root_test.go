// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nakurity/neurodesk/internal/observability"
)

// chtemp runs the command machinery from a scratch directory so config
// discovery and log files never touch the repo.
func chtemp(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(orig)
		observability.ResetForTest()
	})
}

func TestVersionFlag(t *testing.T) {
	chtemp(t)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), Version)
}

func TestDefaultsLoadWithoutConfigFile(t *testing.T) {
	chtemp(t)

	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())

	require.NotNil(t, appConfig)
	assert.Equal(t, "ws://127.0.0.1:8766", appConfig.Backend.URL)
	assert.Equal(t, 10, appConfig.Perception.VisionEveryN)
	assert.False(t, appConfig.Vision.Enabled)
}

func TestDetectRejectsMissingFile(t *testing.T) {
	chtemp(t)

	rootCmd.SetArgs([]string{"detect", "no-such-image.png"})
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	assert.Error(t, err)
}
