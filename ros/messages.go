package ros

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/poserefine/spatialmath"
	"go.viam.com/poserefine/voxel"
)

// Stamp is a ROS time.
type Stamp struct {
	Secs  int `json:"secs"`
	Nsecs int `json:"nsecs"`
}

// StampFromTime converts a time to a Stamp.
func StampFromTime(t time.Time) Stamp {
	return Stamp{Secs: int(t.Unix()), Nsecs: t.Nanosecond()}
}

// Time returns the stamp as a time.
func (s Stamp) Time() time.Time {
	return time.Unix(int64(s.Secs), int64(s.Nsecs))
}

// Before reports whether s is earlier than o.
func (s Stamp) Before(o Stamp) bool {
	return s.Secs < o.Secs || (s.Secs == o.Secs && s.Nsecs < o.Nsecs)
}

// Header is a std_msgs/Header.
type Header struct {
	Seq     int    `json:"seq"`
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Point is a geometry_msgs/Point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a geometry_msgs/Pose.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// ToPose converts the message to a pose.
func (p Pose) ToPose() spatialmath.Pose {
	return spatialmath.NewPose(
		quat.Number{Real: p.Orientation.W, Imag: p.Orientation.X, Jmag: p.Orientation.Y, Kmag: p.Orientation.Z},
		r3.Vector{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
	)
}

// PoseFromSpatial converts a pose to a message.
func PoseFromSpatial(p spatialmath.Pose) Pose {
	return Pose{
		Position: Point{X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z},
		Orientation: Quaternion{
			X: p.Orientation.Imag,
			Y: p.Orientation.Jmag,
			Z: p.Orientation.Kmag,
			W: p.Orientation.Real,
		},
	}
}

// ObjectPose is the pose estimate of one object instance.
type ObjectPose struct {
	InstanceID int32 `json:"instance_id"`
	ClassID    int   `json:"class_id"`
	Pose       Pose  `json:"pose"`
}

// ObjectPoseArray holds the pose estimates of every instance of a scene.
type ObjectPoseArray struct {
	Header Header       `json:"header"`
	Poses  []ObjectPose `json:"poses"`
}

// Dims are the voxel counts of a grid per axis.
type Dims struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// VoxelGrid is a sparse grid of one instance. Index i*dims.y*dims.z + j*dims.z + k holds the value
// of voxel (i, j, k); voxels that are not listed are zero.
type VoxelGrid struct {
	InstanceID int32     `json:"instance_id"`
	ClassID    int       `json:"class_id"`
	Pitch      float64   `json:"pitch"`
	Origin     Point     `json:"origin"`
	Dims       Dims      `json:"dims"`
	Indices    []int64   `json:"indices"`
	Values     []float64 `json:"values"`
}

// Lattice returns the lattice the grid is defined on.
func (g *VoxelGrid) Lattice() (voxel.Lattice, error) {
	return voxel.NewLattice(
		g.Pitch,
		r3.Vector{X: g.Origin.X, Y: g.Origin.Y, Z: g.Origin.Z},
		voxel.Dims{g.Dims.X, g.Dims.Y, g.Dims.Z},
	)
}

// Decode returns the dense grid.
func (g *VoxelGrid) Decode() (*voxel.FloatGrid, error) {
	l, err := g.Lattice()
	if err != nil {
		return nil, errors.Wrapf(err, "grid of instance %d", g.InstanceID)
	}
	grid, err := voxel.DecodeSparse(l, g.Indices, g.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "grid of instance %d", g.InstanceID)
	}
	return grid, nil
}

// EncodeGrid returns the sparse message of a dense grid.
func EncodeGrid(instanceID int32, classID int, grid *voxel.FloatGrid) VoxelGrid {
	indices, values := grid.Sparse()
	return VoxelGrid{
		InstanceID: instanceID,
		ClassID:    classID,
		Pitch:      grid.Pitch,
		Origin:     Point{X: grid.Origin.X, Y: grid.Origin.Y, Z: grid.Origin.Z},
		Dims:       Dims{X: grid.Dims[0], Y: grid.Dims[1], Z: grid.Dims[2]},
		Indices:    indices,
		Values:     values,
	}
}

// VoxelGridArray holds one grid per instance of a scene.
type VoxelGridArray struct {
	Header Header      `json:"header"`
	Grids  []VoxelGrid `json:"grids"`
}

// ByInstance decodes every grid, keyed by instance id.
func (a *VoxelGridArray) ByInstance() (map[int32]*voxel.FloatGrid, error) {
	out := make(map[int32]*voxel.FloatGrid, len(a.Grids))
	for i := range a.Grids {
		g := &a.Grids[i]
		if _, ok := out[g.InstanceID]; ok {
			return nil, errors.Errorf("duplicate grid for instance %d", g.InstanceID)
		}
		grid, err := g.Decode()
		if err != nil {
			return nil, err
		}
		out[g.InstanceID] = grid
	}
	return out, nil
}
