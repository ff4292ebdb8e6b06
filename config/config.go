// Package config defines the configuration of the pose refinement pipeline.
package config

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/poserefine/registration"
	"go.viam.com/poserefine/rimage/transform"
	"go.viam.com/poserefine/vision/segmentation"
)

// Default values, matching the parameters the pipeline was tuned with.
const (
	DefaultOctreeResolution   = 0.01
	DefaultOccupancyThreshold = 0.5
	DefaultGridDimension      = 16
	DefaultDepthScale         = 0.001
	DefaultRegistrationSteps  = 100
)

// A Config describes the whole pipeline.
type Config struct {
	ConfigFilePath string `json:"-"`

	Debug        bool                     `json:"debug,omitempty"`
	Models       Models                   `json:"models"`
	Scene        Scene                    `json:"scene"`
	Registration Registration             `json:"registration"`
	Refinement   Refinement               `json:"refinement"`
	Labels       segmentation.LabelConfig `json:"labels"`
}

// Models locates the CAD model repository.
type Models struct {
	Directory string `json:"directory"`
}

// Scene configures the scene octrees and instance grids.
type Scene struct {
	OctreeResolution   float64 `json:"octree_resolution"`
	OccupancyThreshold float64 `json:"occupancy_threshold"`
	// GridDimension is the number of voxels along the bounding diagonal of a model.
	GridDimension int     `json:"grid_dimension"`
	DepthScale    float64 `json:"depth_scale"`

	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
}

// Registration configures the single instance registration.
type Registration struct {
	Connectivity     int     `json:"connectivity"`
	Steps            int     `json:"steps"`
	Alpha            float64 `json:"alpha"`
	TranslationScale float64 `json:"translation_scale"`
}

// Refinement configures the collision aware refinement.
type Refinement struct {
	Iterations       int     `json:"iterations"`
	Alpha            float64 `json:"alpha"`
	TranslationScale float64 `json:"translation_scale"`
	SDFThreshold     float64 `json:"sdf_threshold"`
	ReportEvery      int     `json:"report_every"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		Scene: Scene{
			OctreeResolution:   DefaultOctreeResolution,
			OccupancyThreshold: DefaultOccupancyThreshold,
			GridDimension:      DefaultGridDimension,
			DepthScale:         DefaultDepthScale,
		},
		Registration: Registration{
			Connectivity:     registration.DefaultConnectivity,
			Steps:            DefaultRegistrationSteps,
			Alpha:            registration.DefaultInstanceAlpha,
			TranslationScale: registration.DefaultTranslationScale,
		},
		Refinement: Refinement{
			Iterations:       registration.DefaultRefinerIterations,
			Alpha:            registration.DefaultRefinerAlpha,
			TranslationScale: registration.DefaultTranslationScale,
			SDFThreshold:     registration.DefaultSDFThreshold,
			ReportEvery:      registration.DefaultReportEvery,
		},
		Labels: segmentation.DefaultLabelConfig(),
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.Models.Validate("models"); err != nil {
		return err
	}
	if err := c.Scene.Validate("scene"); err != nil {
		return err
	}
	if err := c.Registration.Validate("registration"); err != nil {
		return err
	}
	if err := c.Refinement.Validate("refinement"); err != nil {
		return err
	}
	if err := c.Labels.Validate(); err != nil {
		return utils.NewConfigValidationError("labels", err)
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (m *Models) Validate(path string) error {
	if m.Directory == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "directory")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (s *Scene) Validate(path string) error {
	if s.OctreeResolution <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "octree_resolution")
	}
	if s.OccupancyThreshold <= 0 || s.OccupancyThreshold > 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("occupancy_threshold must be in (0, 1], got %v", s.OccupancyThreshold))
	}
	if s.GridDimension < 1 {
		return utils.NewConfigValidationFieldRequiredError(path, "grid_dimension")
	}
	if s.DepthScale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "depth_scale")
	}
	if s.Intrinsics != nil {
		if err := s.Intrinsics.CheckValid(); err != nil {
			return utils.NewConfigValidationError(path+".intrinsics", err)
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (r *Registration) Validate(path string) error {
	if r.Connectivity < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("connectivity must be at least 1, got %d", r.Connectivity))
	}
	if r.Steps < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("steps must not be negative, got %d", r.Steps))
	}
	if r.Alpha <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "alpha")
	}
	if r.TranslationScale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "translation_scale")
	}
	return nil
}

// InstanceConfig converts the section into the options of a single instance registration.
func (r *Registration) InstanceConfig() registration.InstanceConfig {
	return registration.InstanceConfig{
		Alpha:            r.Alpha,
		TranslationScale: r.TranslationScale,
		Connectivity:     r.Connectivity,
	}
}

// Validate ensures all parts of the config are valid.
func (r *Refinement) Validate(path string) error {
	if r.Iterations < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("iterations must not be negative, got %d", r.Iterations))
	}
	if r.Alpha <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "alpha")
	}
	if r.TranslationScale <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "translation_scale")
	}
	if r.SDFThreshold <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "sdf_threshold")
	}
	if r.ReportEvery < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("report_every must not be negative, got %d", r.ReportEvery))
	}
	return nil
}

// RefinerConfig converts the section into the options of a collision refiner.
func (r *Refinement) RefinerConfig() registration.RefinerConfig {
	return registration.RefinerConfig{
		Alpha:            r.Alpha,
		TranslationScale: r.TranslationScale,
		Threshold:        r.SDFThreshold,
		ReportEvery:      r.ReportEvery,
	}
}
