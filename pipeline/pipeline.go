// Package pipeline wires the scene, model and optimizer packages into the two pose refinement
// entry points: registering segmented instances against a scene point cloud, and refining a
// published pose array against per-instance target and no-entry grids.
package pipeline

import (
	"github.com/pkg/errors"

	"go.viam.com/poserefine/config"
	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/models"
)

// Pipeline holds what outlives a single scene: the configuration and the model cache.
type Pipeline struct {
	cfg    *config.Config
	models *models.Cache
	logger logging.Logger
}

// New returns a pipeline reading models from repo.
func New(cfg *config.Config, repo models.Repository, logger logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if repo == nil {
		return nil, errors.New("model repository is required")
	}
	return &Pipeline{
		cfg:    cfg,
		models: models.NewCache(repo, logger.Sublogger("models")),
		logger: logger,
	}, nil
}

// NewFromConfig validates cfg and returns a pipeline over its model directory.
func NewFromConfig(cfg *config.Config, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	repo, err := models.NewDirectoryRepository(cfg.Models.Directory)
	if err != nil {
		return nil, err
	}
	return New(cfg, repo, logger)
}

// Config returns the configuration the pipeline runs with.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Models returns the model cache.
func (p *Pipeline) Models() *models.Cache {
	return p.models
}
