package fastexif_test

import (
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dapperfu/fastexif"
)

// bareIFD serializes a directory with inline-only values, usable as a
// maker-note block read through the enclosing reader.
func bareIFD(order binary.ByteOrder, b *tiffBuilder) []byte {
	return b.appendIFD(nil)
}

func TestMakerNoteCanonByHint(t *testing.T) {
	c := qt.New(t)

	// Canon notes carry no signature; dispatch rides on the Make tag.
	// The note directory's offsets are relative to the TIFF base, so
	// inline-only values keep the block position-independent.
	note := newTIFF(binary.LittleEndian)
	note.addASCII(0x0006, "EOS") // CanonImageType, inline

	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "Canon")
	b.addUndef(0x927c, bareIFD(binary.LittleEndian, note))

	res, err := fastexif.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "Canon")
	c.Assert(res["CanonImageType"], qt.Equals, "EOS")
}

func TestMakerNoteOlympusSignatureBeatsHint(t *testing.T) {
	c := qt.New(t)

	note := append([]byte("OLYMP\x00"), 0, 0)
	ifd := newTIFF(binary.LittleEndian)
	ifd.addASCII(0x0207, "E-1") // CameraType, inline
	note = append(note, bareIFD(binary.LittleEndian, ifd)...)

	// The Make tag claims Canon; the in-block signature wins.
	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "Canon")
	b.addUndef(0x927c, note)

	res, err := fastexif.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "Olympus")
	c.Assert(res["CameraType"], qt.Equals, "E-1")
}

func TestMakerNoteNikonEmbeddedTIFF(t *testing.T) {
	c := qt.New(t)

	embedded := newTIFF(binary.LittleEndian)
	embedded.addASCII(0x0004, "FINE") // Quality, inline
	note := append([]byte("Nikon\x00"), 0x02, 0x10, 0, 0)
	note = append(note, embedded.marshal()...)

	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "NIKON CORPORATION")
	b.addUndef(0x927c, note)

	res, err := fastexif.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "Nikon")
	c.Assert(res["Quality"], qt.Equals, "FINE")
}

func TestMakerNoteUnknownVendorIgnored(t *testing.T) {
	c := qt.New(t)

	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "Obscura Works")
	b.addShort(0x0112, 1)
	b.addUndef(0x927c, []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03})

	res, err := fastexif.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "")
	c.Assert(res["Orientation"], qt.Equals, "1")
}

func TestMakerNoteDefaultSizeCap(t *testing.T) {
	c := qt.New(t)

	c.Assert(int64(fastexif.DefaultMaxMakerNoteSize), qt.Equals, int64(2<<20))

	// An Olympus-signed note padded to 1.5 MiB sits under the default cap
	// and must still decode.
	note := append([]byte("OLYMP\x00"), 0, 0)
	ifd := newTIFF(binary.LittleEndian)
	ifd.addASCII(0x0207, "E-1") // CameraType, inline
	note = append(note, bareIFD(binary.LittleEndian, ifd)...)
	note = append(note, make([]byte, 3<<19-len(note))...)

	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "OLYMPUS OPTICAL CO.,LTD")
	b.addUndef(0x927c, note)
	data := b.marshal()

	res, err := fastexif.Extract(data)
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "Olympus")
	c.Assert(res["CameraType"], qt.Equals, "E-1")

	// Shrinking the cap below the block size drops the note whole.
	engine := fastexif.New(fastexif.Config{MaxMakerNoteSize: 1 << 10})
	res, err = engine.Extract(data)
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "")
	c.Assert(res["CameraType"], qt.Equals, "")
}

func TestMakerNoteTypedEntryWidth(t *testing.T) {
	c := qt.New(t)

	// Some vendors type the note entry SHORT instead of UNDEFINED; the
	// block then spans width*count bytes, not count. Samsung notes are
	// read relative to the block start, so an under-measured block cuts
	// the directory short.
	note := bareIFD(binary.LittleEndian, newTIFF(binary.LittleEndian).addASCII(0x0001, "100"))

	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "SAMSUNG")
	b.add(0x927c, 3, uint32(len(note)/2), note)

	res, err := fastexif.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["MakerNoteType"], qt.Equals, "Samsung")
	c.Assert(res["MakerNoteVersion"], qt.Equals, "100")
}

func TestMakerNoteNeverFatal(t *testing.T) {
	c := qt.New(t)

	// A Canon-dispatched note whose directory bytes are garbage must not
	// abort the decode.
	b := newTIFF(binary.LittleEndian)
	b.addASCII(0x010f, "Canon")
	b.addShort(0x0112, 1)
	b.addUndef(0x927c, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	var warned bool
	engine := fastexif.New(fastexif.Config{
		Warnf: func(string, ...any) { warned = true },
	})
	res, err := engine.Extract(jpegWithSegments(exifAPP1(b.marshal())))
	c.Assert(err, qt.IsNil)
	c.Assert(res["Orientation"], qt.Equals, "1")
	c.Assert(warned, qt.IsTrue)
}
