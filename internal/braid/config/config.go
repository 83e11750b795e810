// Package config loads the tracker's run configuration from a TOML
// file.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/arena"
)

// TrackingModeFull3D selects triangulated 3D births; TrackingModeFlat3D
// pins tracking to the z=0 plane.
const (
	TrackingModeFull3D = "full3d"
	TrackingModeFlat3D = "flat3d"
)

// CameraConfig names one expected camera.
type CameraConfig struct {
	Name string `mapstructure:"name"`
}

// GridConfig mirrors arena.XYGrid in the configuration file.
type GridConfig struct {
	XMin float64 `mapstructure:"x_min"`
	XMax float64 `mapstructure:"x_max"`
	YMin float64 `mapstructure:"y_min"`
	YMax float64 `mapstructure:"y_max"`
	NX   int     `mapstructure:"nx"`
	NY   int     `mapstructure:"ny"`
}

// Config is the full tracker configuration.
type Config struct {
	// Calibration is the path to the camera system calibration XML.
	Calibration string `mapstructure:"calibration"`
	// FPS is the synchronized trigger rate.
	FPS float64 `mapstructure:"fps"`
	// Listen is the UDP address camera nodes send feature packets to.
	Listen string `mapstructure:"listen"`
	// RcvBuf optionally enlarges the UDP receive buffer, in bytes.
	RcvBuf int `mapstructure:"rcvbuf"`
	// OutputDir is where recordings are saved.
	OutputDir string `mapstructure:"output_dir"`
	// ModelServerAddr serves the live pose event stream.
	ModelServerAddr string `mapstructure:"model_server_addr"`
	// StatusAddr serves prometheus metrics and the status summary.
	StatusAddr string `mapstructure:"status_addr"`
	// TriggerDevice is the trigger device serial path; empty disables
	// the clock model.
	TriggerDevice string `mapstructure:"trigger_device"`
	// TriggerBaudRate defaults to 115200 when zero.
	TriggerBaudRate int `mapstructure:"trigger_baud_rate"`

	Cameras  []CameraConfig `mapstructure:"cameras"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	// Grid partitions the volume into mini arenas; nil tracks one
	// implicit arena.
	Grid *GridConfig `mapstructure:"arena_grid"`
}

// TrackingConfig is the tracking-parameter section. Mode picks the
// default set; any explicitly set key overrides its default.
type TrackingConfig struct {
	Mode string `mapstructure:"mode"`

	MotionNoiseScale               float64 `mapstructure:"motion_noise_scale"`
	InitialPositionStdMeters       float64 `mapstructure:"initial_position_std_meters"`
	InitialVelStdMetersPerSec      float64 `mapstructure:"initial_vel_std_meters_per_sec"`
	EKFObservationCovariancePixels float64 `mapstructure:"ekf_observation_covariance_pixels"`
	AcceptObservationMinLikelihood float64 `mapstructure:"accept_observation_min_likelihood"`
	MaxPositionStdMeters           float64 `mapstructure:"max_position_std_meters"`
	NumObservationsToVisibility    uint8   `mapstructure:"num_observations_to_visibility"`

	MinimumNumberOfCameras   uint8   `mapstructure:"minimum_number_of_cameras"`
	MaxAcceptableErrorPixels float64 `mapstructure:"hypothesis_test_max_acceptable_error"`
	MinimumPixelAbsZScore    float64 `mapstructure:"minimum_pixel_abs_zscore"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// setDefaults installs the stock values, with the tracking defaults
// chosen by the mode key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("fps", 100.0)
	v.SetDefault("listen", ":3442")
	v.SetDefault("output_dir", ".")
	v.SetDefault("model_server_addr", ":8397")
	v.SetDefault("status_addr", ":8396")
	v.SetDefault("tracking.mode", TrackingModeFull3D)

	var p braid.TrackingParams
	switch v.GetString("tracking.mode") {
	case TrackingModeFlat3D:
		p = braid.DefaultTrackingParamsFlat3D()
	default:
		p = braid.DefaultTrackingParamsFull3D()
	}
	v.SetDefault("tracking.motion_noise_scale", p.MotionNoiseScale)
	v.SetDefault("tracking.initial_position_std_meters", p.InitialPositionStdMeters)
	v.SetDefault("tracking.initial_vel_std_meters_per_sec", p.InitialVelStdMetersPerSec)
	v.SetDefault("tracking.ekf_observation_covariance_pixels", p.EKFObservationCovariancePixels)
	v.SetDefault("tracking.accept_observation_min_likelihood", p.AcceptObservationMinLikelihood)
	v.SetDefault("tracking.max_position_std_meters", p.MaxPositionStdMeters)
	v.SetDefault("tracking.num_observations_to_visibility", p.NumObservationsToVisibility)
	if ht := p.HypothesisTest; ht != nil {
		v.SetDefault("tracking.minimum_number_of_cameras", ht.MinimumNumberOfCameras)
		v.SetDefault("tracking.hypothesis_test_max_acceptable_error", ht.MaxAcceptableErrorPixels)
		v.SetDefault("tracking.minimum_pixel_abs_zscore", ht.MinimumPixelAbsZScore)
	}
}

// TrackingParams converts the tracking section to tracker parameters.
func (c *Config) TrackingParams() braid.TrackingParams {
	p := braid.TrackingParams{
		MotionNoiseScale:               c.Tracking.MotionNoiseScale,
		InitialPositionStdMeters:       c.Tracking.InitialPositionStdMeters,
		InitialVelStdMetersPerSec:      c.Tracking.InitialVelStdMetersPerSec,
		EKFObservationCovariancePixels: c.Tracking.EKFObservationCovariancePixels,
		AcceptObservationMinLikelihood: c.Tracking.AcceptObservationMinLikelihood,
		MaxPositionStdMeters:           c.Tracking.MaxPositionStdMeters,
		NumObservationsToVisibility:    c.Tracking.NumObservationsToVisibility,
	}
	if c.Tracking.Mode == TrackingModeFull3D {
		p.HypothesisTest = &braid.HypothesisTestParams{
			MinimumNumberOfCameras:   c.Tracking.MinimumNumberOfCameras,
			MaxAcceptableErrorPixels: c.Tracking.MaxAcceptableErrorPixels,
			MinimumPixelAbsZScore:    c.Tracking.MinimumPixelAbsZScore,
		}
	}
	return p
}

// ArenaConfig converts the optional grid section to an arena layout.
func (c *Config) ArenaConfig() arena.Config {
	if c.Grid == nil {
		return arena.Config{}
	}
	return arena.Config{Grid: &arena.XYGrid{
		XMin: c.Grid.XMin, XMax: c.Grid.XMax,
		YMin: c.Grid.YMin, YMax: c.Grid.YMax,
		NX: c.Grid.NX, NY: c.Grid.NY,
	}}
}

// Validate checks the configuration for values that would make the run
// fail later with a worse message.
func (c *Config) Validate() error {
	if c.Calibration == "" {
		return fmt.Errorf("calibration file path is required")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", c.FPS)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.RcvBuf < 0 {
		return fmt.Errorf("rcvbuf must not be negative, got %d", c.RcvBuf)
	}
	switch c.Tracking.Mode {
	case TrackingModeFull3D, TrackingModeFlat3D:
	default:
		return fmt.Errorf("tracking.mode must be %q or %q, got %q",
			TrackingModeFull3D, TrackingModeFlat3D, c.Tracking.Mode)
	}
	p := c.TrackingParams()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if c.Grid != nil {
		ac := c.ArenaConfig()
		if err := ac.Grid.Validate(); err != nil {
			return err
		}
	}
	seen := map[string]bool{}
	for _, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera name must not be empty")
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera name %q", cam.Name)
		}
		seen[cam.Name] = true
	}
	return nil
}
