package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrpan/runnerctl/internal/config"
)

func TestApplyFlagOverrides(t *testing.T) {
	saved := flagOverrides
	t.Cleanup(func() { flagOverrides = saved })

	flagOverrides = config.Config{
		GitHub: config.GitHubConfig{Token: "ghp_flag"},
		Runner: config.RunnerConfig{Label: "ci-worker-42"},
		Wait:   config.WaitConfig{Timeout: 2 * time.Minute},
	}
	cfg := &config.Config{
		GitHub: config.GitHubConfig{URL: "https://github.com/my-org/my-repo", Token: "ghp_file"},
		Wait:   config.WaitConfig{PollInterval: 3 * time.Second, Timeout: 10 * time.Minute},
	}

	applyFlagOverrides(cfg)

	assert.Equal(t, "https://github.com/my-org/my-repo", cfg.GitHub.URL, "unset flag must not clear the file value")
	assert.Equal(t, "ghp_flag", cfg.GitHub.Token)
	assert.Equal(t, "ci-worker-42", cfg.Runner.Label)
	assert.Equal(t, 3*time.Second, cfg.Wait.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Wait.Timeout)
}

func TestWriteOutput(t *testing.T) {
	saved := outputPath
	t.Cleanup(func() { outputPath = saved })

	outputPath = filepath.Join(t.TempDir(), "label")
	var buf bytes.Buffer

	require.NoError(t, writeOutput(&buf, "runner-abcd1234"))
	assert.Equal(t, "runner-abcd1234\n", buf.String())

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "runner-abcd1234\n", string(data))
}

func TestLabelCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"label"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "runner-"))
}
