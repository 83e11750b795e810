package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "braid.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
calibration = "/data/cal.xml"
fps = 200.0
listen = "0.0.0.0:3442"
rcvbuf = 262144
output_dir = "/data/recordings"
model_server_addr = ":9000"
trigger_device = "/dev/ttyUSB0"

[[cameras]]
name = "cam-a"

[[cameras]]
name = "cam-b"

[tracking]
mode = "full3d"
motion_noise_scale = 0.25

[arena_grid]
x_min = -0.5
x_max = 0.5
y_min = -0.25
y_max = 0.25
nx = 4
ny = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/cal.xml", cfg.Calibration)
	assert.Equal(t, 200.0, cfg.FPS)
	assert.Equal(t, 262144, cfg.RcvBuf)
	assert.Equal(t, "/dev/ttyUSB0", cfg.TriggerDevice)
	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, "cam-b", cfg.Cameras[1].Name)

	p := cfg.TrackingParams()
	// Explicit key overrides its default; the rest keep the full-3D set.
	assert.Equal(t, 0.25, p.MotionNoiseScale)
	def := braid.DefaultTrackingParamsFull3D()
	assert.Equal(t, def.MaxPositionStdMeters, p.MaxPositionStdMeters)
	require.NotNil(t, p.HypothesisTest)
	assert.Equal(t, def.HypothesisTest.MinimumNumberOfCameras, p.HypothesisTest.MinimumNumberOfCameras)
	require.NoError(t, p.Validate())

	ac := cfg.ArenaConfig()
	require.NotNil(t, ac.Grid)
	assert.Equal(t, 8, ac.NArenas())
	assert.Equal(t, arena.XYGrid{XMin: -0.5, XMax: 0.5, YMin: -0.25, YMax: 0.25, NX: 4, NY: 2}, *ac.Grid)
}

func TestLoadFlatModeDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
calibration = "/data/cal.xml"

[tracking]
mode = "flat3d"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.TrackingParams()
	assert.Nil(t, p.HypothesisTest, "flat mode has no hypothesis test")
	def := braid.DefaultTrackingParamsFlat3D()
	assert.Equal(t, def.MotionNoiseScale, p.MotionNoiseScale)
	assert.Equal(t, def.MaxPositionStdMeters, p.MaxPositionStdMeters)

	// Ambient defaults.
	assert.Equal(t, 100.0, cfg.FPS)
	assert.Equal(t, ":3442", cfg.Listen)
	assert.Nil(t, cfg.Grid)
	assert.Equal(t, arena.Config{}, cfg.ArenaConfig())
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing calibration", `fps = 100.0`, "calibration"},
		{"bad mode", "calibration = \"c.xml\"\n[tracking]\nmode = \"2d\"\n", "tracking.mode"},
		{"bad fps", "calibration = \"c.xml\"\nfps = -1.0\n", "fps"},
		{"bad tracking value", "calibration = \"c.xml\"\n[tracking]\nmotion_noise_scale = 0.0\n", "motion_noise_scale"},
		{"bad grid", "calibration = \"c.xml\"\n[arena_grid]\nx_min = 1.0\nx_max = 0.0\ny_min = 0.0\ny_max = 1.0\nnx = 2\nny = 2\n", "increasing"},
		{"duplicate camera", "calibration = \"c.xml\"\n[[cameras]]\nname = \"a\"\n[[cameras]]\nname = \"a\"\n", "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
