package fastexif_test

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dapperfu/fastexif"
)

func TestExtractBatch(t *testing.T) {
	c := qt.New(t)

	img := jpegWithSegments(exifAPP1(buildSample(binary.LittleEndian)))
	paths := []string{
		writeTempFile(c, "a.jpg", img),
		filepath.Join(c.TempDir(), "missing.jpg"),
		writeTempFile(c, "b.jpg", img),
	}

	engine := fastexif.New(fastexif.Config{})
	results := engine.ExtractBatch(context.Background(), paths, 2)
	c.Assert(results, qt.HasLen, 3)

	// Outcomes stay in input order and a failed file never affects its
	// neighbors.
	c.Assert(results[0].Path, qt.Equals, paths[0])
	c.Assert(results[0].Err, qt.IsNil)
	c.Assert(results[0].Result["Make"], qt.Equals, "ACME Industries")

	c.Assert(results[1].Path, qt.Equals, paths[1])
	c.Assert(results[1].Err, qt.IsNotNil)

	c.Assert(results[2].Err, qt.IsNil)
	c.Assert(results[2].Result["Make"], qt.Equals, "ACME Industries")
}

func TestExtractBatchSingleWorker(t *testing.T) {
	c := qt.New(t)

	img := jpegWithSegments(exifAPP1(buildSample(binary.BigEndian)))
	paths := []string{
		writeTempFile(c, "a.jpg", img),
		writeTempFile(c, "b.jpg", img),
		writeTempFile(c, "c.jpg", img),
	}

	results := fastexif.New(fastexif.Config{}).ExtractBatch(context.Background(), paths, 1)
	for i, r := range results {
		c.Assert(r.Path, qt.Equals, paths[i])
		c.Assert(r.Err, qt.IsNil)
	}
}

func TestExtractBatchEmpty(t *testing.T) {
	c := qt.New(t)

	results := fastexif.New(fastexif.Config{}).ExtractBatch(context.Background(), nil, 4)
	c.Assert(results, qt.HasLen, 0)
}

func TestExtractBatchCancelled(t *testing.T) {
	c := qt.New(t)

	img := jpegWithSegments(exifAPP1(buildSample(binary.LittleEndian)))
	paths := make([]string, 16)
	for i := range paths {
		paths[i] = writeTempFile(c, "f.jpg", img)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := fastexif.New(fastexif.Config{}).ExtractBatch(ctx, paths, 2)
	c.Assert(results, qt.HasLen, len(paths))

	// Every slot is filled: either a completed extraction that won the
	// race with cancellation, or the context error.
	for i, r := range results {
		c.Assert(r.Path, qt.Equals, paths[i])
		if r.Err != nil {
			c.Assert(r.Err, qt.ErrorIs, context.Canceled)
		} else {
			c.Assert(r.Result["Make"], qt.Equals, "ACME Industries")
		}
	}
}
