package rimage

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestParseDepthMap(t *testing.T) {
	dm := NewEmptyDepthMap(3, 2)
	dm.Set(2, 1, 1234)
	dm.Set(0, 0, 7)

	fn := filepath.Join(t.TempDir(), "depth.png")
	f, err := os.Create(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, dm.ToGray16Picture()), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	back, err := ParseDepthMap(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Width(), test.ShouldEqual, 3)
	test.That(t, back.Height(), test.ShouldEqual, 2)
	test.That(t, back.GetDepth(2, 1), test.ShouldEqual, Depth(1234))
	test.That(t, back.GetDepth(0, 0), test.ShouldEqual, Depth(7))
	test.That(t, back.GetDepth(1, 0), test.ShouldEqual, Depth(0))

	_, err = ConvertImageToDepthMap(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	test.That(t, err, test.ShouldNotBeNil)
}
