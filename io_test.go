package fastexif_test

import (
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dapperfu/fastexif"
)

// TestStrategiesAgree verifies the access strategies are observationally
// identical: the same file decodes to the same result whichever way the
// bytes are sourced.
func TestStrategiesAgree(t *testing.T) {
	c := qt.New(t)

	img := jpegWithSegments(exifAPP1(buildSample(binary.LittleEndian)))
	path := writeTempFile(c, "sample.jpg", img)

	want, err := fastexif.Extract(img)
	c.Assert(err, qt.IsNil)

	for _, strategy := range []fastexif.Strategy{
		fastexif.StrategyFullMap,
		fastexif.StrategyBoundedSeek,
		fastexif.StrategyHybrid,
		fastexif.StrategyAuto,
	} {
		engine := fastexif.New(fastexif.Config{ForceStrategy: strategy})
		got, err := engine.ExtractFile(path)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, want)
	}
}

func TestExtractFileMissing(t *testing.T) {
	c := qt.New(t)

	_, err := fastexif.ExtractFile(c.TempDir() + "/nope.jpg")
	c.Assert(err, qt.IsNotNil)
}

func TestExtractFileEmpty(t *testing.T) {
	c := qt.New(t)

	path := writeTempFile(c, "empty.jpg", nil)
	_, err := fastexif.ExtractFile(path)
	c.Assert(err, qt.ErrorIs, fastexif.ErrUnsupportedFormat)
}

// A tiny size policy forces the hybrid strategy on a small file, where
// the mapped prefix clamps to the whole file.
func TestHybridSmallFile(t *testing.T) {
	c := qt.New(t)

	img := jpegWithSegments(exifAPP1(buildSample(binary.BigEndian)))
	path := writeTempFile(c, "sample.jpg", img)

	engine := fastexif.New(fastexif.Config{
		SmallFileThreshold: 1,
		MapThreshold:       16,
		MaxMapSize:         1 << 20,
	})
	got, err := engine.ExtractFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(got["Make"], qt.Equals, "ACME Industries")
}
