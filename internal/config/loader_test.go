package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config directory.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "remediator")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	return dir
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Remediation.MaxBatchSize)
	assert.Equal(t, "MEDIUM", cfg.Remediation.RiskCeiling)
	assert.Equal(t, 70.0, cfg.Remediation.ValidationFloor)
	assert.Equal(t, 98.0, cfg.Remediation.TargetComplianceScore)
	assert.Equal(t, 4, cfg.Remediation.WorkerLimit)
	assert.Equal(t, 2*time.Minute, cfg.Remediation.FixTimeout.Duration())
}

func TestLoadWithFile_YAMLAndEnv(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	yaml := `
remediation:
  max_batch_size: 25
  risk_ceiling: low
  validation_floor: 80
  fix_timeout: 45s
store:
  path: /tmp/state.db
capabilities:
  LINT_FORMATTING:
    command: ["gofmt", "-w", "{path}"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("REMEDIATOR_REMEDIATION_WORKER_LIMIT", "9")
	t.Setenv("REMEDIATOR_SERVER_HTTP_PORT", "8181")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Remediation.MaxBatchSize)
	assert.Equal(t, "LOW", cfg.Remediation.RiskCeiling)
	assert.Equal(t, 80.0, cfg.Remediation.ValidationFloor)
	assert.Equal(t, 45*time.Second, cfg.Remediation.FixTimeout.Duration())
	assert.Equal(t, 9, cfg.Remediation.WorkerLimit)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "/tmp/state.db", cfg.Store.Path)
	// Fields not present in the file keep their defaults.
	assert.Equal(t, 98.0, cfg.Remediation.TargetComplianceScore)

	require.Contains(t, cfg.Capabilities, "LINT_FORMATTING")
	assert.Equal(t, []string{"gofmt", "-w", "{path}"}, cfg.Capabilities["LINT_FORMATTING"].Command)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remediation:\n  max_batch_size: 3\n"), 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("/var/tmp/elsewhere/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	setupTestHome(t)
	t.Setenv("REMEDIATOR_REMEDIATION_RISK_CEILING", "extreme")

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_ceiling")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "remediation.max_batch_size", envKey("REMEDIATOR_REMEDIATION_MAX_BATCH_SIZE"))
	assert.Equal(t, "server.http_port", envKey("REMEDIATOR_SERVER_HTTP_PORT"))
	assert.Equal(t, "debug", envKey("REMEDIATOR_DEBUG"))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Remediation.MaxBatchSize = 0
	cfg.Remediation.WorkerLimit = 0
	cfg.Capabilities["SYNTAX_ERROR"] = CapabilityConfig{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_batch_size")
	assert.Contains(t, err.Error(), "worker_limit")
	assert.Contains(t, err.Error(), "capabilities.SYNTAX_ERROR.command")
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("token-value")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "token-value", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
}
