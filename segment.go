package fastexif

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/image/riff"
)

// segment describes where the TIFF-structured payload begins inside the
// original bytes. Produced once, consumed once.
type segment struct {
	offset int64
	length int64
}

var exifSignature = []byte("Exif\x00\x00")

const (
	markerSOS  = 0xda
	markerAPP1 = 0xe1
)

// locateSegment finds the metadata payload for the given container
// family. ok=false with a nil error means a well-formed container with no
// payload.
func locateSegment(src Source, f Format, cfg *Config) (segment, bool, error) {
	switch {
	case f.isTIFFBased():
		// The payload is the file itself; the vendor subtype affects only
		// maker-note dispatch. The hard cap keeps one adversarial file
		// from unbounded memory use.
		length := src.Size()
		if length > cfg.MaxSegmentSize {
			length = cfg.MaxSegmentSize
		}
		return segment{offset: 0, length: length}, true, nil
	case f == FormatJPEG:
		return locateJPEGSegment(src)
	case f.isBMFF():
		return locateBMFFSegment(src, 0, src.Size(), cfg, 0)
	case f == FormatPNG:
		return locatePNGSegment(src)
	case f == FormatWebP:
		return locateWebPSegment(src)
	}
	return segment{}, false, nil
}

// locateJPEGSegment scans the marker stream from offset 2. Every marker is
// [0xFF][marker][length:u16 big-endian]. An APP1 segment is accepted only
// when it starts with the Exif signature; other APP1 payloads (XMP) share
// the marker byte and must be skipped. Reaching start-of-scan without a
// match is not an error.
func locateJPEGSegment(src Source) (segment, bool, error) {
	size := src.Size()
	off := int64(2)
	for {
		if off+2 > size {
			return segment{}, false, nil
		}
		hdr, err := src.Range(off, 2)
		if err != nil {
			return segment{}, false, err
		}
		if hdr[0] != 0xff {
			return segment{}, false, newInvalidFormatErrorf("jpeg: expected marker at %d, got 0x%02x", off, hdr[0])
		}
		marker := hdr[1]
		switch {
		case marker == 0xff:
			// Fill byte.
			off++
			continue
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd9):
			// Standalone marker, no length field.
			off += 2
			continue
		case marker == markerSOS:
			// Compressed data follows; no metadata segment exists.
			return segment{}, false, nil
		}

		lb, err := src.Range(off+2, 2)
		if err != nil {
			return segment{}, false, err
		}
		length := int64(binary.BigEndian.Uint16(lb))
		if length < 2 {
			return segment{}, false, newInvalidFormatErrorf("jpeg: segment length %d at %d", length, off)
		}
		segEnd := off + 2 + length
		if segEnd > size {
			return segment{}, false, &TruncatedDataError{Offset: off + 4, Length: length - 2, Size: size}
		}

		if marker == markerAPP1 && length >= 2+int64(len(exifSignature)) {
			sig, err := src.Range(off+4, int64(len(exifSignature)))
			if err != nil {
				return segment{}, false, err
			}
			if bytes.Equal(sig, exifSignature) {
				payload := off + 4 + int64(len(exifSignature))
				return segment{offset: payload, length: segEnd - payload}, true, nil
			}
		}
		off = segEnd
	}
}

// Box types that contain further boxes rather than data.
var bmffContainers = map[string]bool{
	"moov": true,
	"udta": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
}

// locateBMFFSegment walks [size:u32 big-endian][fourCC] boxes in
// [start,end), recursing into container boxes. Size 0 means the box
// extends to end-of-stream and size 1 means a 64-bit size follows; any
// other size below the header length is malformed rather than a loop.
func locateBMFFSegment(src Source, start, end int64, cfg *Config, depth int) (segment, bool, error) {
	if depth > 8 {
		return segment{}, false, nil
	}
	off := start
	for off+8 <= end {
		hdr, err := src.Range(off, 8)
		if err != nil {
			return segment{}, false, err
		}
		boxSize := int64(binary.BigEndian.Uint32(hdr))
		boxType := string(hdr[4:8])
		headerLen := int64(8)
		switch {
		case boxSize == 0:
			boxSize = end - off
		case boxSize == 1:
			ext, err := src.Range(off+8, 8)
			if err != nil {
				return segment{}, false, err
			}
			v := binary.BigEndian.Uint64(ext)
			if v > uint64(math.MaxInt64) || int64(v) < 16 {
				return segment{}, false, newInvalidFormatErrorf("bmff: degenerate 64-bit box size %d at %d", v, off)
			}
			boxSize = int64(v)
			headerLen = 16
		case boxSize < 8:
			return segment{}, false, newInvalidFormatErrorf("bmff: degenerate box size %d at %d", boxSize, off)
		}
		boxEnd := off + boxSize
		if boxEnd > end {
			return segment{}, false, &TruncatedDataError{Offset: off, Length: boxSize, Size: end}
		}
		payload := off + headerLen

		switch {
		case boxType == "Exif":
			seg, ok, err := exifPayloadSegment(src, payload, boxEnd-payload)
			if ok || err != nil {
				return seg, ok, err
			}
		case boxType == "CMT1":
			// Canon CR3 stores a raw TIFF structure here.
			return segment{offset: payload, length: boxEnd - payload}, true, nil
		case boxType == "meta":
			// FullBox: skip version+flags.
			seg, ok, err := locateHEIFExifItem(src, payload+4, boxEnd, cfg)
			if ok || err != nil {
				return seg, ok, err
			}
		case boxType == "uuid" && boxSize >= 24:
			// Canon CR3 wraps its metadata boxes in a uuid container.
			seg, ok, err := locateBMFFSegment(src, payload+16, boxEnd, cfg, depth+1)
			if ok || err != nil {
				return seg, ok, err
			}
		case bmffContainers[boxType]:
			seg, ok, err := locateBMFFSegment(src, payload, boxEnd, cfg, depth+1)
			if ok || err != nil {
				return seg, ok, err
			}
		}
		off = boxEnd
	}
	return segment{}, false, nil
}

// exifPayloadSegment normalizes the payload of an Exif box or item, which
// may be raw TIFF, prefixed with the 6-byte Exif signature, or prefixed
// with a 4-byte big-endian header offset (HEIF).
func exifPayloadSegment(src Source, off, length int64) (segment, bool, error) {
	if length < 8 {
		return segment{}, false, nil
	}
	headLen := int64(16)
	if headLen > length {
		headLen = length
	}
	head, err := src.Range(off, headLen)
	if err != nil {
		return segment{}, false, err
	}
	if isTIFFHeader(head) {
		return segment{offset: off, length: length}, true, nil
	}
	if bytes.HasPrefix(head, exifSignature) {
		return segment{offset: off + 6, length: length - 6}, true, nil
	}
	// 4-byte big-endian offset to the TIFF header.
	hdrOff := int64(binary.BigEndian.Uint32(head))
	if hdrOff <= length-4-8 {
		cand := off + 4 + hdrOff
		b, err := src.Range(cand, 4)
		if err == nil && isTIFFHeader(b) {
			return segment{offset: cand, length: length - 4 - hdrOff}, true, nil
		}
	}
	return segment{}, false, nil
}

func isTIFFHeader(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	switch {
	case b[0] == 'I' && b[1] == 'I':
		return binary.LittleEndian.Uint16(b[2:]) == tiffMagic
	case b[0] == 'M' && b[1] == 'M':
		return binary.BigEndian.Uint16(b[2:]) == tiffMagic
	}
	return false
}

// locateHEIFExifItem resolves the Exif item of a HEIF meta box through
// iinf (which item carries Exif) and iloc (where its bytes live). The two
// boxes may appear in either order, so both are collected before
// resolving. The meta box is read whole; it holds item bookkeeping, not
// media data, and is rejected if implausibly large.
func locateHEIFExifItem(src Source, start, end int64, cfg *Config) (segment, bool, error) {
	if end-start <= 0 || end-start > cfg.MaxSegmentSize {
		return segment{}, false, nil
	}
	meta, err := src.Range(start, end-start)
	if err != nil {
		return segment{}, false, err
	}

	var exifItemID uint32
	type ilocEntry struct {
		offset, length uint64
	}
	ilocEntries := make(map[uint32]ilocEntry)

	be := binary.BigEndian
	off := int64(0)
	for off+8 <= int64(len(meta)) {
		boxSize := int64(be.Uint32(meta[off:]))
		boxType := string(meta[off+4 : off+8])
		if boxSize == 0 {
			boxSize = int64(len(meta)) - off
		}
		if boxSize < 8 || off+boxSize > int64(len(meta)) {
			break
		}
		body := meta[off+8 : off+boxSize]

		switch boxType {
		case "iinf":
			parseIinf(body, &exifItemID)
		case "iloc":
			parseIloc(body, func(itemID uint32, offset, length uint64) {
				ilocEntries[itemID] = ilocEntry{offset: offset, length: length}
			})
		}
		off += boxSize
	}

	if exifItemID == 0 {
		return segment{}, false, nil
	}
	loc, ok := ilocEntries[exifItemID]
	if !ok || loc.length <= 4 {
		return segment{}, false, nil
	}
	return exifPayloadSegment(src, int64(loc.offset), int64(loc.length))
}

// parseIinf scans the item-info box for the infe entry typed Exif.
func parseIinf(b []byte, exifItemID *uint32) {
	be := binary.BigEndian
	if len(b) < 6 {
		return
	}
	version := b[0]
	off := int64(4)
	if version == 0 {
		off += 2
	} else {
		off += 4
	}
	for off+8 <= int64(len(b)) {
		size := int64(be.Uint32(b[off:]))
		typ := string(b[off+4 : off+8])
		if size < 8 || off+size > int64(len(b)) {
			return
		}
		if typ == "infe" {
			body := b[off+8 : off+size]
			if len(body) >= 12 {
				infeVersion := body[0]
				if infeVersion >= 2 {
					var itemID uint32
					var itemType string
					if infeVersion == 2 {
						itemID = uint32(be.Uint16(body[4:]))
						itemType = string(body[8:12])
					} else if len(body) >= 14 {
						itemID = be.Uint32(body[4:])
						itemType = string(body[10:14])
					}
					if itemType == "Exif" {
						*exifItemID = itemID
					}
				}
			}
		}
		off += size
	}
}

// parseIloc reports the first extent of every item that uses file-offset
// construction (method 0). Layout follows ISO 14496-12.
func parseIloc(b []byte, emit func(itemID uint32, offset, length uint64)) {
	be := binary.BigEndian
	if len(b) < 8 {
		return
	}
	version := b[0]
	off := int64(4)

	readVar := func(n int) (uint64, bool) {
		switch n {
		case 0:
			return 0, true
		case 2:
			if off+2 > int64(len(b)) {
				return 0, false
			}
			v := uint64(be.Uint16(b[off:]))
			off += 2
			return v, true
		case 4:
			if off+4 > int64(len(b)) {
				return 0, false
			}
			v := uint64(be.Uint32(b[off:]))
			off += 4
			return v, true
		case 8:
			if off+8 > int64(len(b)) {
				return 0, false
			}
			v := be.Uint64(b[off:])
			off += 8
			return v, true
		}
		return 0, false
	}

	if off+4 > int64(len(b)) {
		return
	}
	offsetSize := int(b[off] >> 4)
	lengthSize := int(b[off] & 0x0f)
	baseOffsetSize := int(b[off+1] >> 4)
	indexSize := int(b[off+1] & 0x0f)
	off += 2

	var count uint32
	if version < 2 {
		v, ok := readVar(2)
		if !ok {
			return
		}
		count = uint32(v)
	} else {
		v, ok := readVar(4)
		if !ok {
			return
		}
		count = uint32(v)
	}

	for i := uint32(0); i < count; i++ {
		var itemID uint32
		if version < 2 {
			v, ok := readVar(2)
			if !ok {
				return
			}
			itemID = uint32(v)
		} else {
			v, ok := readVar(4)
			if !ok {
				return
			}
			itemID = uint32(v)
		}

		var constructionMethod uint64
		if version >= 1 {
			var ok bool
			constructionMethod, ok = readVar(2)
			if !ok {
				return
			}
		}
		if _, ok := readVar(2); !ok { // dataReferenceIndex
			return
		}
		baseOffset, ok := readVar(baseOffsetSize)
		if !ok {
			return
		}
		extentCount, ok := readVar(2)
		if !ok {
			return
		}

		var firstOffset, firstLength uint64
		for j := 0; j < int(extentCount); j++ {
			if version >= 1 && indexSize > 0 {
				if _, ok := readVar(indexSize); !ok {
					return
				}
			}
			extOff, ok := readVar(offsetSize)
			if !ok {
				return
			}
			extLen, ok := readVar(lengthSize)
			if !ok {
				return
			}
			if j == 0 {
				firstOffset = baseOffset + extOff
				firstLength = extLen
			}
		}
		if constructionMethod == 0 {
			emit(itemID, firstOffset, firstLength)
		}
	}
}

// locatePNGSegment walks [length:u32 BE][type][data][crc] chunks looking
// for eXIf, which carries a raw TIFF payload.
func locatePNGSegment(src Source) (segment, bool, error) {
	size := src.Size()
	off := int64(8)
	for off+8 <= size {
		hdr, err := src.Range(off, 8)
		if err != nil {
			return segment{}, false, err
		}
		length := int64(binary.BigEndian.Uint32(hdr))
		typ := string(hdr[4:8])
		chunkEnd := off + 8 + length + 4
		if chunkEnd > size {
			return segment{}, false, &TruncatedDataError{Offset: off + 8, Length: length, Size: size}
		}
		switch typ {
		case "eXIf":
			return segment{offset: off + 8, length: length}, true, nil
		case "IEND":
			return segment{}, false, nil
		}
		off = chunkEnd
	}
	return segment{}, false, nil
}

var fccEXIF = riff.FourCC{'E', 'X', 'I', 'F'}

// locateWebPSegment walks the RIFF chunk list looking for the EXIF chunk.
// The riff reader drives parsing; chunk offsets are tracked alongside so
// the payload can be served through the Source contract.
func locateWebPSegment(src Source) (segment, bool, error) {
	_, r, err := riff.NewReader(&sourceReader{src: src})
	if err != nil {
		return segment{}, false, newInvalidFormatErrorf("webp: %v", err)
	}
	pos := int64(12) // RIFF header + form type
	for {
		chunkID, chunkLen, _, err := r.Next()
		if err == io.EOF {
			return segment{}, false, nil
		}
		if err != nil {
			return segment{}, false, newInvalidFormatErrorf("webp: %v", err)
		}
		payload := pos + 8
		if chunkID == fccEXIF {
			length := int64(chunkLen)
			// The chunk may carry the 6-byte Exif signature before the
			// TIFF header.
			head, err := src.Range(payload, min(length, 8))
			if err != nil {
				return segment{}, false, err
			}
			if bytes.HasPrefix(head, exifSignature) {
				return segment{offset: payload + 6, length: length - 6}, true, nil
			}
			return segment{offset: payload, length: length}, true, nil
		}
		pos = payload + int64(chunkLen) + int64(chunkLen&1)
	}
}

// sourceReader adapts a Source to io.Reader for chunk walkers.
type sourceReader struct {
	src Source
	pos int64
}

func (r *sourceReader) Read(p []byte) (int, error) {
	size := r.src.Size()
	if r.pos >= size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if r.pos+n > size {
		n = size - r.pos
	}
	b, err := r.src.Range(r.pos, n)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	r.pos += n
	return int(n), nil
}
