package transform

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/poserefine/rimage"
)

func TestPinholeProjection(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 2, Fy: 2, Ppx: 2, Ppy: 1}
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)

	x, y, z := intrinsics.PixelToPoint(3, 2, 4)
	test.That(t, x, test.ShouldEqual, 2.)
	test.That(t, y, test.ShouldEqual, 2.)
	test.That(t, z, test.ShouldEqual, 4.)
	u, v := intrinsics.PointToPixel(x, y, z)
	test.That(t, u, test.ShouldEqual, 3.)
	test.That(t, v, test.ShouldEqual, 2.)

	dm := rimage.NewEmptyDepthMap(4, 3)
	dm.Set(3, 2, 4000)
	cloud, err := intrinsics.DepthMapToPointCloud(dm, 0.001)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Width, test.ShouldEqual, 4)
	test.That(t, cloud.At(2, 3).X, test.ShouldAlmostEqual, 2)
	test.That(t, cloud.At(2, 3).Z, test.ShouldAlmostEqual, 4)
	test.That(t, math.IsNaN(cloud.At(0, 0).Z), test.ShouldBeTrue)
	test.That(t, len(cloud.Finite()), test.ShouldEqual, 1)

	_, err = intrinsics.DepthMapToPointCloud(rimage.NewEmptyDepthMap(2, 2), 0.001)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsValidation(t *testing.T) {
	var missing *PinholeCameraIntrinsics
	test.That(t, errors.Is(missing.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	bad := &PinholeCameraIntrinsics{Width: 4, Height: 3, Fx: 0, Fy: 2}
	test.That(t, errors.Is(bad.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	fn := filepath.Join(t.TempDir(), "intrinsics.json")
	test.That(t, os.WriteFile(fn, []byte(`{"width_px": 640, "height_px": 480, "fx": 600, "fy": 600, "ppx": 320, "ppy": 240}`), 0o600),
		test.ShouldBeNil)
	intrinsics, err := NewPinholeCameraIntrinsicsFromJSONFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, intrinsics.GetCameraMatrix().At(1, 2), test.ShouldEqual, 240.)
}
