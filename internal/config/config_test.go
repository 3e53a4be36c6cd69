package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "temp_uploads", cfg.UploadDir)
	assert.Equal(t, "processed", cfg.ProcessedDir)
	assert.Equal(t, int64(1<<30), cfg.MaxUploadBytes)
	assert.Equal(t, 10000, cfg.MaxArchiveEntries)
	assert.Equal(t, int64(10), cfg.ExpansionFactor)
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.SweepRetryInterval)
	assert.Zero(t, cfg.JobTimeout)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"UPLOAD_DIR":          "/tmp/up",
		"PROCESSED_DIR":       "/tmp/out",
		"MAX_FILE_SIZE":       "2048",
		"MAX_CONCURRENT_JOBS": "8",
		"JOB_RETENTION":       "90m",
		"JOB_TIMEOUT":         "10m",
		"LOG_FORMAT":          "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/up", cfg.UploadDir)
	assert.Equal(t, "/tmp/out", cfg.ProcessedDir)
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.Equal(t, 90*time.Minute, cfg.JobRetention)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"MAX_FILE_SIZE":        "lots",
		"MAX_CONCURRENT_JOBS":  "-1",
		"SWEEP_INTERVAL":       "hourly",
		"LOG_FORMAT":           "xml",
		"JOB_RETENTION":        "-1h",
		"SWEEP_RETRY_INTERVAL": "-5m",
		"JOB_TIMEOUT":          "-1s",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := FromEnv(envMap(map[string]string{key: val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestFromEnvNegativeSweepInterval(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"SWEEP_INTERVAL": "-1h"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL must be positive")
}
