// Package scene builds per-label occupancy octrees from a segmented scene point cloud and derives
// the per-instance labeled grids the pose optimizers register against.
package scene

import (
	"context"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/octree"
	"go.viam.com/poserefine/pointcloud"
	"go.viam.com/poserefine/vision/segmentation"
)

// LabelOctrees maps a label (0 for background, otherwise an instance id) to its occupancy index.
// It is read only once built.
type LabelOctrees map[int32]octree.Querier

// BuildOctrees builds one octree per label from an organized scene cloud and its instance label
// image, ray casting from the camera at the origin. Every octree spans the same cube. Pixels with
// any other label, such as mask contours, are ignored.
func BuildOctrees(
	ctx context.Context,
	cloud *pointcloud.Organized,
	labels []int32,
	instanceIDs []int32,
	resolution float64,
	logger logging.Logger,
) (LabelOctrees, error) {
	if len(labels) != cloud.Len() {
		return nil, errors.Errorf("label image has %d pixels, cloud has %d", len(labels), cloud.Len())
	}
	wanted := lo.Uniq(append([]int32{segmentation.LabelBackground}, instanceIDs...))
	sort.Slice(wanted, func(a, b int) bool { return wanted[a] < wanted[b] })

	partitions := make(map[int32][]r3.Vector, len(wanted))
	for _, l := range wanted {
		partitions[l] = nil
	}
	for i, l := range labels {
		if _, ok := partitions[l]; ok {
			partitions[l] = append(partitions[l], cloud.Points[i])
		}
	}

	origin := r3.Vector{}
	start := time.Now()
	built := make([]*octree.OccupancyOctree, len(wanted))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, label := range wanted {
		label := label
		// every label shares the cube of the full scene
		tree, err := octree.NewBounding(cloud.Points, origin, resolution, logger.Sublogger("octree"))
		if err != nil {
			return nil, err
		}
		built[i] = tree
		points := partitions[label]
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return errors.Wrapf(tree.InsertPointCloud(points, origin), "label %d", label)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make(LabelOctrees, len(wanted))
	for i, label := range wanted {
		out[label] = built[i]
	}
	logger.Debugw("built scene octrees", "labels", wanted, "resolution", resolution, "elapsed", time.Since(start))
	return out, nil
}
