package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
output_dir: /tmp/out
source:
  type: static
  static_file: states.yaml
`))
	require.NoError(t, err)
	require.Equal(t, DefaultWorkers, cfg.Workers)
	require.Equal(t, DefaultSnapshotTimeout, cfg.SnapshotTimeout)
	require.Equal(t, DefaultMaxAge, cfg.MaxAge)
	require.Equal(t, RetryBackoffExponential, cfg.Retry.Backoff)
	require.Equal(t, DefaultRetryInitialDelay, cfg.Retry.InitialDelay)
	require.Equal(t, LogLevelInfo, cfg.Log.Level)
	require.Equal(t, LogFormatText, cfg.Log.Format)
	require.True(t, cfg.WatchEnabled())
	require.Equal(t, DefaultListen, cfg.Server.Listen)
	require.InDelta(t, DefaultRetryJitter, cfg.Retry.JitterFraction(), 1e-9)
}

func TestParseKeepsExplicitZeroJitter(t *testing.T) {
	cfg, err := Parse([]byte(`
output_dir: /tmp/out
retry:
  jitter: 0
source:
  type: static
  static_file: states.yaml
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Retry.Jitter)
	require.Zero(t, cfg.Retry.JitterFraction())
}

func TestParseNormalizesEnums(t *testing.T) {
	cfg, err := Parse([]byte(`
output_dir: /tmp/out
workers: 4
max_age: 5m
retry:
  backoff: " Linear "
  initial_delay: 1s
  max_delay: 10s
  max_retries: 3
source:
  type: NATS
  nats_url: nats://localhost:4222
log:
  level: WARNING
  format: json
`))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 5*time.Minute, cfg.MaxAge)
	require.Equal(t, RetryBackoffLinear, cfg.Retry.Backoff)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, SourceNATS, cfg.Source.Type)
	require.Equal(t, DefaultKVBucket, cfg.Source.KVBucket)
	require.Equal(t, LogLevelWarn, cfg.Log.Level)
	require.Equal(t, LogFormatJSON, cfg.Log.Format)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backoff", "retry: {backoff: random}\nsource: {type: static, static_file: s.yaml}"},
		{"nats without url", "output_dir: /o\nsource: {type: nats}"},
		{"static without file", "output_dir: /o\nsource: {type: static}"},
		{"negative retries", "output_dir: /o\nretry: {max_retries: -1}\nsource: {type: static, static_file: s}"},
		{"jitter out of range", "output_dir: /o\nretry: {jitter: 1.5}\nsource: {type: static, static_file: s}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig), "got %v", err)
		})
	}
}

func TestLoadExpandsEnvAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DASHRENDER_TEST_NATS", "nats://example:4222")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
layouts_dir: dashboards
output_dir: out
source:
  type: nats
  nats_url: ${DASHRENDER_TEST_NATS}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nats://example:4222", cfg.Source.NATSURL)
	require.Equal(t, filepath.Join(dir, "dashboards"), cfg.LayoutsDir)
	require.Equal(t, filepath.Join(dir, "out"), cfg.OutputDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	t.Setenv("NATS_URL", "nats://localhost:4222")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, SourceNATS, cfg.Source.Type)
	require.Equal(t, RetryBackoffExponential, cfg.Retry.Backoff)
}
