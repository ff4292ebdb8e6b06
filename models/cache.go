package models

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/poserefine/logging"
)

// Cache keeps every model it loads from a repository for its whole lifetime. It is safe for
// concurrent use; a miss is loaded under the lock so a class is read once.
type Cache struct {
	repo   Repository
	logger logging.Logger

	mu        sync.Mutex
	points    map[int][]r3.Vector
	sdfs      map[int]*SDF
	diagonals map[int]float64
}

// NewCache returns an empty cache in front of repo.
func NewCache(repo Repository, logger logging.Logger) *Cache {
	return &Cache{
		repo:      repo,
		logger:    logger,
		points:    map[int][]r3.Vector{},
		sdfs:      map[int]*SDF{},
		diagonals: map[int]float64{},
	}
}

// PointSet returns the cached point set of the class, loading it on a miss.
func (c *Cache) PointSet(ctx context.Context, classID int) ([]r3.Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if points, ok := c.points[classID]; ok {
		return points, nil
	}
	points, err := c.repo.PointSet(ctx, classID)
	if err != nil {
		return nil, err
	}
	c.logger.Debugw("loaded point set", "class", classID, "points", len(points))
	c.points[classID] = points
	return points, nil
}

// SDF returns the cached signed distance samples of the class, loading them on a miss.
func (c *Cache) SDF(ctx context.Context, classID int) (*SDF, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sdf, ok := c.sdfs[classID]; ok {
		return sdf, nil
	}
	sdf, err := c.repo.SDF(ctx, classID)
	if err != nil {
		return nil, err
	}
	c.logger.Debugw("loaded sdf", "class", classID, "samples", sdf.Len())
	c.sdfs[classID] = sdf
	return sdf, nil
}

// BoundingDiagonal returns the cached bounding diagonal of the class, loading it on a miss.
func (c *Cache) BoundingDiagonal(ctx context.Context, classID int) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.diagonals[classID]; ok {
		return d, nil
	}
	d, err := c.repo.BoundingDiagonal(ctx, classID)
	if err != nil {
		return 0, err
	}
	c.diagonals[classID] = d
	return d, nil
}

// Classes returns the sorted ids of every class with at least one cached entry.
func (c *Cache) Classes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := lo.Uniq(append(append(lo.Keys(c.points), lo.Keys(c.sdfs)...), lo.Keys(c.diagonals)...))
	sort.Ints(ids)
	return ids
}
