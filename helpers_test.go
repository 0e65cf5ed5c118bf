package fastexif_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	qt "github.com/frankban/quicktest"
)

// tiffEntry is one directory entry to serialize. Values longer than four
// bytes are placed out-of-line automatically.
type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// tiffBuilder assembles a synthetic TIFF structure: a header, one primary
// directory, optional pointer-linked sub-directories, and an out-of-line
// value area.
type tiffBuilder struct {
	order   binary.ByteOrder
	entries []tiffEntry
	subs    []struct {
		tag uint16
		b   *tiffBuilder
	}
}

func newTIFF(order binary.ByteOrder) *tiffBuilder {
	return &tiffBuilder{order: order}
}

func (b *tiffBuilder) add(tag, typ uint16, count uint32, value []byte) *tiffBuilder {
	b.entries = append(b.entries, tiffEntry{tag: tag, typ: typ, count: count, value: value})
	return b
}

func (b *tiffBuilder) addASCII(tag uint16, s string) *tiffBuilder {
	v := append([]byte(s), 0)
	return b.add(tag, 2, uint32(len(v)), v)
}

func (b *tiffBuilder) addShort(tag uint16, vals ...uint16) *tiffBuilder {
	v := make([]byte, 2*len(vals))
	for i, s := range vals {
		b.order.PutUint16(v[2*i:], s)
	}
	return b.add(tag, 3, uint32(len(vals)), v)
}

func (b *tiffBuilder) addLong(tag uint16, vals ...uint32) *tiffBuilder {
	v := make([]byte, 4*len(vals))
	for i, l := range vals {
		b.order.PutUint32(v[4*i:], l)
	}
	return b.add(tag, 4, uint32(len(vals)), v)
}

func (b *tiffBuilder) addRational(tag uint16, pairs ...uint32) *tiffBuilder {
	v := make([]byte, 4*len(pairs))
	for i, p := range pairs {
		b.order.PutUint32(v[4*i:], p)
	}
	return b.add(tag, 5, uint32(len(pairs)/2), v)
}

func (b *tiffBuilder) addUndef(tag uint16, data []byte) *tiffBuilder {
	return b.add(tag, 7, uint32(len(data)), data)
}

func (b *tiffBuilder) addSub(tag uint16, sub *tiffBuilder) *tiffBuilder {
	b.subs = append(b.subs, struct {
		tag uint16
		b   *tiffBuilder
	}{tag, sub})
	return b
}

// marshal serializes the structure. All offsets are relative to the start
// of the returned buffer.
func (b *tiffBuilder) marshal() []byte {
	out := make([]byte, 8)
	if b.order == binary.ByteOrder(binary.LittleEndian) {
		out[0], out[1] = 'I', 'I'
	} else {
		out[0], out[1] = 'M', 'M'
	}
	b.order.PutUint16(out[2:], 42)
	b.order.PutUint32(out[4:], 8)
	return b.appendIFD(out)
}

func (b *tiffBuilder) appendIFD(out []byte) []byte {
	total := len(b.entries) + len(b.subs)
	countOff := len(out)
	out = append(out, 0, 0)
	b.order.PutUint16(out[countOff:], uint16(total))
	entryBase := len(out)
	out = append(out, make([]byte, 12*total+4)...) // entries + next-IFD link

	for i, e := range b.entries {
		off := entryBase + 12*i
		b.order.PutUint16(out[off:], e.tag)
		b.order.PutUint16(out[off+2:], e.typ)
		b.order.PutUint32(out[off+4:], e.count)
		if len(e.value) <= 4 {
			copy(out[off+8:off+12], e.value)
			continue
		}
		b.order.PutUint32(out[off+8:], uint32(len(out)))
		out = append(out, e.value...)
		if len(e.value)%2 == 1 {
			out = append(out, 0)
		}
	}

	for j, s := range b.subs {
		off := entryBase + 12*(len(b.entries)+j)
		b.order.PutUint16(out[off:], s.tag)
		b.order.PutUint16(out[off+2:], 4) // LONG
		b.order.PutUint32(out[off+4:], 1)
		b.order.PutUint32(out[off+8:], uint32(len(out)))
		out = s.b.appendIFD(out)
	}
	return out
}

// exifAPP1 frames a TIFF structure as an APP1 Exif payload.
func exifAPP1(tiff []byte) []byte {
	return append([]byte("Exif\x00\x00"), tiff...)
}

// jpegWithSegments frames APP1 payloads between SOI and a minimal SOS.
func jpegWithSegments(payloads ...[]byte) []byte {
	out := []byte{0xff, 0xd8}
	for _, p := range payloads {
		out = append(out, 0xff, 0xe1)
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)+2))
		out = append(out, p...)
	}
	out = append(out, 0xff, 0xda, 0x00, 0x04, 0x00, 0x00)
	return out
}

// pngWithExif frames a TIFF structure in an eXIf chunk. Chunk CRCs are
// not validated by the locator and are left zero.
func pngWithExif(tiff []byte) []byte {
	out := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	out = binary.BigEndian.AppendUint32(out, uint32(len(tiff)))
	out = append(out, "eXIf"...)
	out = append(out, tiff...)
	out = append(out, 0, 0, 0, 0) // crc
	out = binary.BigEndian.AppendUint32(out, 0)
	out = append(out, "IEND"...)
	out = append(out, 0, 0, 0, 0)
	return out
}

// webpWithExif frames a TIFF structure in a RIFF EXIF chunk after a
// minimal VP8L bitstream chunk.
func webpWithExif(tiff []byte) []byte {
	var chunks []byte
	appendChunk := func(id string, data []byte) {
		chunks = append(chunks, id...)
		chunks = binary.LittleEndian.AppendUint32(chunks, uint32(len(data)))
		chunks = append(chunks, data...)
		if len(data)%2 == 1 {
			chunks = append(chunks, 0)
		}
	}
	appendChunk("VP8L", []byte{0x2f, 0x00, 0x00, 0x00, 0x00})
	appendChunk("EXIF", tiff)

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(4+len(chunks)))
	out = append(out, "WEBP"...)
	return append(out, chunks...)
}

func bmffBox(typ string, payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(payload)))
	out = append(out, typ...)
	return append(out, payload...)
}

func ftypBox(brand string) []byte {
	payload := append([]byte(brand), 0, 0, 0, 0)
	return bmffBox("ftyp", payload)
}

// heicWithExif builds a minimal HEIF: ftyp, a meta box whose iinf marks
// item 1 as Exif and whose iloc points at the mdat payload, then the
// payload itself prefixed with a 4-byte header offset.
func heicWithExif(tiff []byte) []byte {
	be := binary.BigEndian

	infe := make([]byte, 0, 20)
	infe = be.AppendUint32(infe, 20)
	infe = append(infe, "infe"...)
	infe = append(infe, 2, 0, 0, 0) // version 2, flags
	infe = be.AppendUint16(infe, 1) // item ID
	infe = be.AppendUint16(infe, 0) // protection index
	infe = append(infe, "Exif"...)

	iinf := make([]byte, 0, 34)
	iinf = be.AppendUint32(iinf, uint32(12+2+len(infe)))
	iinf = append(iinf, "iinf"...)
	iinf = append(iinf, 0, 0, 0, 0) // version 0, flags
	iinf = be.AppendUint16(iinf, 1) // entry count
	iinf = append(iinf, infe...)

	ftyp := ftypBox("heic")
	metaSize := 8 + 4 + len(iinf) + 30 // header, version/flags, iinf, iloc
	payloadOff := len(ftyp) + metaSize + 8

	iloc := make([]byte, 0, 30)
	iloc = be.AppendUint32(iloc, 30)
	iloc = append(iloc, "iloc"...)
	iloc = append(iloc, 0, 0, 0, 0)       // version 0, flags
	iloc = append(iloc, 0x44, 0x00)       // offset/length size 4, base/index size 0
	iloc = be.AppendUint16(iloc, 1)       // item count
	iloc = be.AppendUint16(iloc, 1)       // item ID
	iloc = be.AppendUint16(iloc, 0)       // data reference index
	iloc = be.AppendUint16(iloc, 1)       // extent count
	iloc = be.AppendUint32(iloc, uint32(payloadOff))
	iloc = be.AppendUint32(iloc, uint32(4+len(tiff)))

	meta := make([]byte, 0, metaSize)
	meta = be.AppendUint32(meta, uint32(metaSize))
	meta = append(meta, "meta"...)
	meta = append(meta, 0, 0, 0, 0) // version 0, flags
	meta = append(meta, iinf...)
	meta = append(meta, iloc...)

	payload := append([]byte{0, 0, 0, 0}, tiff...)
	out := append(ftyp, meta...)
	return append(out, bmffBox("mdat", payload)...)
}

func writeTempFile(c *qt.C, name string, data []byte) string {
	path := filepath.Join(c.TempDir(), name)
	c.Assert(os.WriteFile(path, data, 0o644), qt.IsNil)
	return path
}
