// Package cmd contains testing utilities shared between command tests.
// This file provides common functions for setting up test environments,
// capturing output, and running the CLI against a temporary store.
package cmd

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/liftlog/liftsocial/internal/configs"
	logger "github.com/liftlog/liftsocial/internal/logging"

	"github.com/spf13/cobra"
)

const testPassphrase = "correct horse battery staple"

// setupTestEnvironment writes a config for user whose identity lives under
// dir and whose store and audit log are shared by every user in dir. It
// returns the config path.
func setupTestEnvironment(t *testing.T, dir, user string) string {
	t.Helper()

	cfg := configs.Default()
	cfg.Identity.Path = filepath.Join(dir, user, "identity.sealed")
	cfg.Identity.KDF = configs.KDFConfig{Time: 1, MemoryKiB: 1024, Threads: 1}
	cfg.Storage.Engine = configs.EngineLocal
	cfg.Storage.LocalPath = filepath.Join(dir, "store.msgpack")
	cfg.Audit.Path = filepath.Join(dir, "audit.jsonl")
	cfg.Log.Path = "console"

	path := filepath.Join(dir, user, "config.toml")
	if err := configs.Save(path, cfg); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv(configs.EnvPassphrase, testPassphrase)
	t.Setenv(configs.EnvEngine, "")
	t.Setenv(configs.EnvRedisURL, "")
	t.Cleanup(ResetGlobalState)
	return path
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	outputChan := make(chan string, 2)

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stdoutReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stderrReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	err := fn()

	stdoutWriter.Close()
	stderrWriter.Close()

	os.Stdout = originalStdout
	os.Stderr = originalStderr

	stdout := <-outputChan
	stderr := <-outputChan

	return stdout + stderr, err
}

// createTestCLI creates a complete CLI instance running args against the
// config at configFile.
func createTestCLI(configFile string, args ...string) *cobra.Command {
	ResetGlobalState()
	Logger = logger.Logger{}

	rootCmd := &cobra.Command{
		Use:           "liftsocial",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(Commands()...)
	rootCmd.SetArgs(append(args, "--config", configFile))
	return rootCmd
}

// runCLI executes args and returns the captured output.
func runCLI(t *testing.T, configFile string, args ...string) (string, error) {
	t.Helper()
	return captureOutput(func() error {
		return createTestCLI(configFile, args...).Execute()
	})
}
