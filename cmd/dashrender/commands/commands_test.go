package commands

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/dashrender/internal/config"
	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

const hallLayout = `
id: hall
title: Hall
size: {width: 320, height: 200}
widgets:
  - type: sensor
    entity: sensor.hall_temperature
  - type: toggle
    entity: light.hall
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestRenderOnce(t *testing.T) {
	dir := t.TempDir()
	layoutPath := write(t, dir, "hall.yaml", hallLayout)
	statePath := write(t, dir, "states.yaml", "sensor.hall_temperature: 19.5\n")
	out := filepath.Join(dir, "www")

	a, degraded, err := RenderOnce(t.Context(), layoutPath, statePath, out)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "hall.png"), a.Path)
	require.Equal(t, 1, degraded, "light.hall is missing from the state file")

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
	require.Equal(t, 200, img.Bounds().Dy())

	again, _, err := RenderOnce(t.Context(), layoutPath, statePath, out)
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, again.Fingerprint)
	require.Equal(t, a.ContentHash, again.ContentHash)
}

func TestRenderOnceRejectsInvalidLayout(t *testing.T) {
	dir := t.TempDir()
	layoutPath := write(t, dir, "bad.yaml", "id: bad\nwidgets:\n  - type: sparkline\n")

	_, _, err := RenderOnce(t.Context(), layoutPath, "", dir)
	require.Error(t, err)
	require.True(t, errors.IsInvalidLayout(err))
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "hall.yaml", hallLayout)

	var buf bytes.Buffer
	require.NoError(t, ValidateDir(&buf, dir))
	require.Contains(t, buf.String(), "ok      hall (2 widgets, png")

	write(t, dir, "broken.json", `{"id": "broken", "widgets": [{"type": "gauge"}]}`)
	buf.Reset()
	err := ValidateDir(&buf, dir)
	require.Error(t, err)
	require.True(t, errors.IsInvalidLayout(err))
	require.Contains(t, buf.String(), "invalid "+filepath.Join(dir, "broken.json"))
}

func TestRunInitWritesLoadableConfig(t *testing.T) {
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")
	path := filepath.Join(t.TempDir(), "dashrender.yaml")

	require.NoError(t, RunInit(path, false))
	require.Error(t, RunInit(path, false))
	require.NoError(t, RunInit(path, true))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.SourceNATS, cfg.Source.Type)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.Source.NATSURL)
	require.Equal(t, config.DefaultWorkers, cfg.Workers)
}
