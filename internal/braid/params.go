package braid

import "fmt"

// TrackingParams are the Kalman filter, data association and object
// lifecycle parameters for a tracking run. A nil HypothesisTest selects
// flat (z=0) tracking; otherwise full 3D triangulated births are used.
type TrackingParams struct {
	// MotionNoiseScale scales the process noise covariance of the
	// constant-velocity motion model.
	MotionNoiseScale float64
	// InitialPositionStdMeters is the position standard deviation assigned
	// to a newly born object.
	InitialPositionStdMeters float64
	// InitialVelStdMetersPerSec is the velocity standard deviation assigned
	// to a newly born object.
	InitialVelStdMetersPerSec float64
	// EKFObservationCovariancePixels is the per-axis variance of the 2D
	// observation noise model.
	EKFObservationCovariancePixels float64
	// AcceptObservationMinLikelihood is the smallest observation likelihood
	// data association will accept.
	AcceptObservationMinLikelihood float64
	// MaxPositionStdMeters bounds how uncertain an object's position may
	// become before the object is killed.
	MaxPositionStdMeters float64
	// HypothesisTest configures full-3D births; nil means flat (z=0) mode.
	HypothesisTest *HypothesisTestParams
	// NumObservationsToVisibility is how many observed frames, the
	// birth frame included, an object needs before it is announced
	// externally.
	NumObservationsToVisibility uint8
}

// HypothesisTestParams configure the full-3D new-object test.
type HypothesisTestParams struct {
	// MinimumNumberOfCameras is the fewest cameras that must contribute a
	// candidate point for a birth to be considered.
	MinimumNumberOfCameras uint8
	// MaxAcceptableErrorPixels is the largest mean reprojection distance a
	// candidate 3D point may have and still be accepted.
	MaxAcceptableErrorPixels float64
	// MinimumPixelAbsZScore filters candidate points by detection quality
	// before triangulation. Zero admits every point.
	MinimumPixelAbsZScore float64
}

// DefaultTrackingParamsFull3D returns the stock parameters for triangulated
// 3D tracking.
func DefaultTrackingParamsFull3D() TrackingParams {
	return TrackingParams{
		MotionNoiseScale:               0.1,
		InitialPositionStdMeters:       0.1,
		InitialVelStdMetersPerSec:      1.0,
		EKFObservationCovariancePixels: 1.0,
		AcceptObservationMinLikelihood: 1e-8,
		MaxPositionStdMeters:           0.01212,
		HypothesisTest: &HypothesisTestParams{
			MinimumNumberOfCameras:   2,
			MaxAcceptableErrorPixels: 5.0,
			MinimumPixelAbsZScore:    0.0,
		},
		NumObservationsToVisibility: defaultNumObservationsToVisibility,
	}
}

// DefaultTrackingParamsFlat3D returns the stock parameters for single-plane
// (z=0) tracking.
func DefaultTrackingParamsFlat3D() TrackingParams {
	return TrackingParams{
		MotionNoiseScale:               10.0,
		InitialPositionStdMeters:       0.001,
		InitialVelStdMetersPerSec:      1.0,
		EKFObservationCovariancePixels: 10.0,
		AcceptObservationMinLikelihood: 1e-8,
		MaxPositionStdMeters:           0.2,
		HypothesisTest:                 nil,
		NumObservationsToVisibility:    defaultNumObservationsToVisibility,
	}
}

// Three suppresses most spurious births without delaying listener
// notification by more than a few frames at typical frame rates.
const defaultNumObservationsToVisibility = 3

// Validate checks the parameters for values that would make tracking
// silently misbehave.
func (p *TrackingParams) Validate() error {
	if p.MotionNoiseScale <= 0 {
		return fmt.Errorf("motion_noise_scale must be positive, got %v", p.MotionNoiseScale)
	}
	if p.InitialPositionStdMeters <= 0 {
		return fmt.Errorf("initial_position_std_meters must be positive, got %v", p.InitialPositionStdMeters)
	}
	if p.InitialVelStdMetersPerSec <= 0 {
		return fmt.Errorf("initial_vel_std_meters_per_sec must be positive, got %v", p.InitialVelStdMetersPerSec)
	}
	if p.EKFObservationCovariancePixels <= 0 {
		return fmt.Errorf("ekf_observation_covariance_pixels must be positive, got %v", p.EKFObservationCovariancePixels)
	}
	if p.AcceptObservationMinLikelihood < 0 {
		return fmt.Errorf("accept_observation_min_likelihood must not be negative, got %v", p.AcceptObservationMinLikelihood)
	}
	if p.MaxPositionStdMeters <= 0 {
		return fmt.Errorf("max_position_std_meters must be positive, got %v", p.MaxPositionStdMeters)
	}
	if ht := p.HypothesisTest; ht != nil {
		if ht.MinimumNumberOfCameras < 2 {
			return fmt.Errorf("minimum_number_of_cameras must be at least 2, got %d", ht.MinimumNumberOfCameras)
		}
		if ht.MaxAcceptableErrorPixels <= 0 {
			return fmt.Errorf("hypothesis_test_max_acceptable_error must be positive, got %v", ht.MaxAcceptableErrorPixels)
		}
		if ht.MinimumPixelAbsZScore < 0 {
			return fmt.Errorf("minimum_pixel_abs_zscore must not be negative, got %v", ht.MinimumPixelAbsZScore)
		}
	}
	return nil
}
