package segmentation

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Values of the instance label image that are not instance ids.
const (
	LabelBackground int32 = 0
	LabelContour    int32 = -2
)

// Instance describes one labeled instance.
type Instance struct {
	ID         int32   `json:"id"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

// InstanceLabels is a row major label image plus the instances it contains.
type InstanceLabels struct {
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Labels    []int32    `json:"labels"`
	Instances []Instance `json:"instances"`
}

// Mask returns the pixels labeled id.
func (il *InstanceLabels) Mask(id int32) []bool {
	mask := make([]bool, len(il.Labels))
	for i, l := range il.Labels {
		mask[i] = l == id
	}
	return mask
}

// IDs returns the instance ids in ascending order.
func (il *InstanceLabels) IDs() []int32 {
	return lo.Map(il.Instances, func(ins Instance, _ int) int32 { return ins.ID })
}

// LabelInstances composes detections into one label image. Detections outside the context classes
// or below the confidence floor are dropped. A band of ContourThickness pixels centered on each
// mask border is labeled LabelContour and removed from the mask, and masks left empty are dropped.
// The remaining detections get ids 1..N by ascending confidence and are painted in that order, so
// more confident masks win; instances fully painted over are dropped.
func LabelInstances(width, height int, dets []Detection, cfg LabelConfig) (*InstanceLabels, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i, det := range dets {
		if len(det.Mask) != width*height {
			return nil, errors.Errorf("detection %d mask has %d pixels, image has %d", i, len(det.Mask), width*height)
		}
	}

	dets = lo.Filter(dets, func(det Detection, _ int) bool {
		if len(cfg.ContextClasses) > 0 && !lo.Contains(cfg.ContextClasses, det.ClassID) {
			return false
		}
		return det.Confidence >= cfg.MinConfidence
	})

	type candidate struct {
		det     Detection
		mask    []bool
		contour []bool
	}
	candidates := make([]candidate, 0, len(dets))
	for _, det := range dets {
		contour := contourBand(width, height, det.Mask, cfg.ContourThickness)
		mask := make([]bool, len(det.Mask))
		nonEmpty := false
		for i, m := range det.Mask {
			mask[i] = m && !contour[i]
			nonEmpty = nonEmpty || mask[i]
		}
		if nonEmpty {
			candidates = append(candidates, candidate{det: det, mask: mask, contour: contour})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].det.Confidence < candidates[b].det.Confidence
	})

	labels := make([]int32, width*height)
	instances := make([]Instance, 0, len(candidates))
	for i, c := range candidates {
		id := int32(i + 1)
		for px := range labels {
			if c.mask[px] {
				labels[px] = id
			}
			if c.contour[px] {
				labels[px] = LabelContour
			}
		}
		instances = append(instances, Instance{ID: id, ClassID: c.det.ClassID, Confidence: c.det.Confidence})
	}

	present := lo.SliceToMap(labels, func(l int32) (int32, struct{}) { return l, struct{}{} })
	instances = lo.Filter(instances, func(ins Instance, _ int) bool {
		_, ok := present[ins.ID]
		return ok
	})
	return &InstanceLabels{Width: width, Height: height, Labels: labels, Instances: instances}, nil
}

// contourBand marks the pixels within thickness/2 steps of a mask border pixel. A border pixel is
// a mask pixel with a 4-neighbor outside the mask or the image.
func contourBand(width, height int, mask []bool, thickness int) []bool {
	band := make([]bool, len(mask))
	if thickness <= 0 {
		return band
	}
	radius := thickness / 2

	dist := make([]int, len(mask))
	for i := range dist {
		dist[i] = -1
	}
	var queue []int
	inside := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < width && y < height && mask[y*width+x]
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !mask[y*width+x] {
				continue
			}
			if !inside(x-1, y) || !inside(x+1, y) || !inside(x, y-1) || !inside(x, y+1) {
				dist[y*width+x] = 0
				queue = append(queue, y*width+x)
			}
		}
	}

	for len(queue) > 0 {
		px := queue[0]
		queue = queue[1:]
		band[px] = true
		if dist[px] >= radius {
			continue
		}
		x, y := px%width, px/width
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				n := ny*width + nx
				if dist[n] < 0 {
					dist[n] = dist[px] + 1
					queue = append(queue, n)
				}
			}
		}
	}
	return band
}
