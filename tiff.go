package fastexif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	textunicode "golang.org/x/text/encoding/unicode"
)

// UnknownPrefix is used as prefix for unknown tag names.
const UnknownPrefix = "UnknownTag_"

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949
	tiffMagic             = 42

	// Vendor-mangled magic values: Olympus "RO"/"RS" and Panasonic
	// "U\x00", read in the header's declared byte order.
	orfMagicRO = 0x4f52
	orfMagicRS = 0x5352
	rw2Magic   = 0x0055

	// maxIFDEntries bounds adversarial or corrupt entry counts.
	maxIFDEntries = 1000
)

// exifType represents the basic TIFF tag data types.
type exifType uint16

const (
	typeUnsignedByte   exifType = 1
	typeASCII          exifType = 2
	typeUnsignedShort  exifType = 3
	typeUnsignedLong   exifType = 4
	typeUnsignedRat    exifType = 5
	typeSignedByte     exifType = 6
	typeUndef          exifType = 7
	typeSignedShort    exifType = 8
	typeSignedLong     exifType = 9
	typeSignedRat      exifType = 10
	typeSignedFloat    exifType = 11
	typeSignedDouble   exifType = 12
)

// Size in bytes of each type.
var exifTypeSize = map[exifType]uint32{
	typeUnsignedByte:  1,
	typeASCII:         1,
	typeUnsignedShort: 2,
	typeUnsignedLong:  4,
	typeUnsignedRat:   8,
	typeSignedByte:    1,
	typeUndef:         1,
	typeSignedShort:   2,
	typeSignedLong:    4,
	typeSignedRat:     8,
	typeSignedFloat:   4,
	typeSignedDouble:  8,
}

// A directory entry is represented in 12 bytes:
//   - 2 bytes for the tag ID
//   - 2 bytes for the data type
//   - 4 bytes for the number of data values of the specified type
//   - 4 bytes for the value itself if it fits, otherwise for an offset,
//     relative to the TIFF header base, to the out-of-line value bytes.
type ifdEntry struct {
	tag   uint16
	typ   exifType
	count uint32
	raw   []byte // the 4 packed value-or-offset bytes
}

// ifdReader decodes directory entries against a single TIFF-structured
// segment. Maker-note vendor decoders construct their own readers over the
// same or an embedded base so that every path shares the identical value
// materialization rules.
type ifdReader struct {
	data  []byte
	order binary.ByteOrder
	warnf func(string, ...any)
}

func (r *ifdReader) entryAt(off int64) ifdEntry {
	return ifdEntry{
		tag:   r.order.Uint16(r.data[off:]),
		typ:   exifType(r.order.Uint16(r.data[off+2:])),
		count: r.order.Uint32(r.data[off+4:]),
		raw:   r.data[off+8 : off+12],
	}
}

// walkIFD decodes the directory at offset into out. Pointer-style entries
// are diverted through special (when it returns true the entry is
// consumed). A failed out-of-line read skips only that tag.
func (r *ifdReader) walkIFD(offset int64, table map[uint16]string, synthesizeUnknown bool, out Result, special func(ifdEntry) bool, visited map[int64]bool) error {
	if visited != nil {
		if visited[offset] {
			return nil
		}
		visited[offset] = true
	}
	size := int64(len(r.data))
	if offset < 0 || offset+2 > size {
		return &TruncatedDataError{Offset: offset, Length: 2, Size: size}
	}
	count := int(r.order.Uint16(r.data[offset:]))
	if count > maxIFDEntries {
		return newInvalidFormatErrorf("tiff: directory entry count %d exceeds %d", count, maxIFDEntries)
	}
	for i := 0; i < count; i++ {
		entryOff := offset + 2 + int64(i)*12
		if entryOff+12 > size {
			return &TruncatedDataError{Offset: entryOff, Length: 12, Size: size}
		}
		e := r.entryAt(entryOff)
		if special != nil && special(e) {
			continue
		}
		name := table[e.tag]
		if name == "" {
			if !synthesizeUnknown {
				continue
			}
			name = fmt.Sprintf("%s%04X", UnknownPrefix, e.tag)
		}
		if val, ok := r.renderValue(e); ok {
			out[name] = val
		}
	}
	return nil
}

// valueBytes resolves the raw value bytes of an entry, inline when the
// total size fits the packed field and out-of-line otherwise.
func (r *ifdReader) valueBytes(e ifdEntry) ([]byte, bool) {
	size, ok := exifTypeSize[e.typ]
	if !ok {
		r.warnf("tiff: tag 0x%04x has unknown type %d", e.tag, e.typ)
		return nil, false
	}
	total := int64(size) * int64(e.count)
	if e.count == 0 {
		return nil, false
	}
	if total <= 4 {
		return e.raw[:total], true
	}
	off := int64(r.order.Uint32(e.raw))
	if off < 0 || off+total > int64(len(r.data)) {
		r.warnf("tiff: tag 0x%04x value (%d bytes at %d) out of bounds", e.tag, total, off)
		return nil, false
	}
	return r.data[off : off+total], true
}

// pointerValue resolves a sub-directory pointer entry.
func (r *ifdReader) pointerValue(e ifdEntry) (int64, bool) {
	if e.count != 1 || (e.typ != typeUnsignedLong && e.typ != typeUnsignedShort) {
		r.warnf("tiff: tag 0x%04x is not a directory pointer (type %d, count %d)", e.tag, e.typ, e.count)
		return 0, false
	}
	if e.typ == typeUnsignedShort {
		return int64(r.order.Uint16(e.raw)), true
	}
	return int64(r.order.Uint32(e.raw)), true
}

// renderValue materializes an entry into its string form.
func (r *ifdReader) renderValue(e ifdEntry) (string, bool) {
	b, ok := r.valueBytes(e)
	if !ok {
		return "", false
	}

	switch e.typ {
	case typeASCII:
		return printableString(string(trimBytesNulls(b))), true

	case typeUndef:
		if e.tag == tagUserComment {
			return decodeUserComment(b, r.order), true
		}
		if s := printableString(string(trimBytesNulls(b))); s != "" && len(b) <= 64 && isMostlyText(b) {
			return s, true
		}
		if len(b) > 64 {
			return fmt.Sprintf("(Binary data %d bytes)", len(b)), true
		}
		return joinBytes(b), true

	case typeUnsignedByte:
		return joinBytes(b), true

	case typeSignedByte:
		var sb strings.Builder
		for i, v := range b {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.Itoa(int(int8(v))))
		}
		return sb.String(), true

	case typeUnsignedShort:
		return r.joinInts(b, 2, func(p []byte) string {
			return strconv.FormatUint(uint64(r.order.Uint16(p)), 10)
		}), true

	case typeSignedShort:
		return r.joinInts(b, 2, func(p []byte) string {
			return strconv.FormatInt(int64(int16(r.order.Uint16(p))), 10)
		}), true

	case typeUnsignedLong:
		return r.joinInts(b, 4, func(p []byte) string {
			return strconv.FormatUint(uint64(r.order.Uint32(p)), 10)
		}), true

	case typeSignedLong:
		return r.joinInts(b, 4, func(p []byte) string {
			return strconv.FormatInt(int64(int32(r.order.Uint32(p))), 10)
		}), true

	case typeUnsignedRat:
		return r.joinInts(b, 8, func(p []byte) string {
			num, den := r.order.Uint32(p), r.order.Uint32(p[4:])
			if den == 0 {
				// Defined fallback for degenerate rationals, not a fault.
				return strconv.FormatUint(uint64(num), 10)
			}
			return fmt.Sprintf("%d/%d", num, den)
		}), true

	case typeSignedRat:
		return r.joinInts(b, 8, func(p []byte) string {
			num, den := int32(r.order.Uint32(p)), int32(r.order.Uint32(p[4:]))
			if den == 0 {
				return strconv.FormatInt(int64(num), 10)
			}
			return fmt.Sprintf("%d/%d", num, den)
		}), true

	case typeSignedFloat:
		return r.joinInts(b, 4, func(p []byte) string {
			f := math.Float32frombits(r.order.Uint32(p))
			return strconv.FormatFloat(float64(f), 'f', -1, 32)
		}), true

	case typeSignedDouble:
		return r.joinInts(b, 8, func(p []byte) string {
			f := math.Float64frombits(r.order.Uint64(p))
			return strconv.FormatFloat(f, 'f', -1, 64)
		}), true
	}

	return "", false
}

func (r *ifdReader) joinInts(b []byte, width int, one func([]byte) string) string {
	if len(b) == width {
		return one(b)
	}
	var sb strings.Builder
	for i := 0; i+width <= len(b); i += width {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(one(b[i : i+width]))
	}
	return sb.String()
}

func joinBytes(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	return sb.String()
}

// subIFDs collects the pointer-tagged sub-directories found during the
// primary walk. They are resolved after the walk in fixed priority order.
type subIFDs struct {
	exif    []int64
	gps     []int64
	interop []int64
	maker   []ifdEntry
}

// decodeTIFF validates the TIFF header of seg, walks the primary
// directory and its pointer-referenced sub-directories, and returns the
// merged tag mapping. Merge order is primary, Exif, GPS, Interop, then
// MakerNote, with later merges winning name collisions.
//
// Only a bad primary header or primary directory is fatal; failures in
// sub-directories are logged through cfg.Warnf and skipped.
func decodeTIFF(seg []byte, makeHint string, cfg *Config) (Result, error) {
	out := Result{}
	err := decodeTIFFInto(seg, makeHint, cfg, out)
	return out, err
}

func decodeTIFFInto(seg []byte, makeHint string, cfg *Config, out Result) error {
	if len(seg) < 8 {
		return newInvalidFormatErrorf("tiff: header too short (%d bytes)", len(seg))
	}
	var order binary.ByteOrder
	switch binary.BigEndian.Uint16(seg) {
	case byteOrderLittleEndian:
		order = binary.LittleEndian
	case byteOrderBigEndian:
		order = binary.BigEndian
	default:
		return newInvalidFormatErrorf("tiff: unknown byte order marker %02x%02x", seg[0], seg[1])
	}
	switch magic := order.Uint16(seg[2:]); magic {
	case tiffMagic, orfMagicRO, orfMagicRS, rw2Magic:
		// Olympus and Panasonic replace the classic magic in their RAW
		// headers; the IFD layout that follows is unchanged.
	default:
		return newInvalidFormatErrorf("tiff: bad magic %d", magic)
	}
	firstIFD := int64(order.Uint32(seg[4:]))

	r := &ifdReader{data: seg, order: order, warnf: cfg.Warnf}

	var subs subIFDs
	collect := func(e ifdEntry) bool {
		switch e.tag {
		case tagExifIFDPointer:
			if ptr, ok := r.pointerValue(e); ok {
				subs.exif = append(subs.exif, ptr)
			}
			return true
		case tagGPSInfoIFDPointer:
			if ptr, ok := r.pointerValue(e); ok {
				subs.gps = append(subs.gps, ptr)
			}
			return true
		case tagInteropIFDPointer:
			if ptr, ok := r.pointerValue(e); ok {
				subs.interop = append(subs.interop, ptr)
			}
			return true
		case tagMakerNote:
			subs.maker = append(subs.maker, e)
			return true
		}
		return false
	}

	visited := map[int64]bool{}
	if err := r.walkIFD(firstIFD, exifFields, true, out, collect, visited); err != nil {
		return err
	}

	// Walks below may append further pointers (Interop lives inside the
	// Exif directory), so iterate by index.
	for i := 0; i < len(subs.exif); i++ {
		if err := r.walkIFD(subs.exif[i], exifFields, true, out, collect, visited); err != nil {
			cfg.Warnf("tiff: exif sub-directory at %d: %v", subs.exif[i], err)
		}
	}
	for i := 0; i < len(subs.gps); i++ {
		if err := r.walkIFD(subs.gps[i], gpsFields, true, out, nil, visited); err != nil {
			cfg.Warnf("tiff: gps sub-directory at %d: %v", subs.gps[i], err)
		}
	}
	for i := 0; i < len(subs.interop); i++ {
		if err := r.walkIFD(subs.interop[i], interopFields, true, out, nil, visited); err != nil {
			cfg.Warnf("tiff: interop sub-directory at %d: %v", subs.interop[i], err)
		}
	}

	// Maker notes merge last. A decoded Make is authoritative over the
	// sniffed vendor hint.
	hint := out["Make"]
	if hint == "" {
		hint = makeHint
	}
	for _, e := range subs.maker {
		decodeMakerNote(r, e, hint, cfg, out)
	}
	return nil
}

// decodeUserComment strips the 8-byte character-set prefix and decodes the
// payload. UNICODE payloads are UTF-16 in the directory's byte order.
func decodeUserComment(b []byte, order binary.ByteOrder) string {
	if len(b) < 8 {
		return printableString(string(trimBytesNulls(b)))
	}
	prefix, payload := b[:8], b[8:]
	switch {
	case bytes.HasPrefix(prefix, []byte("ASCII")):
		return printableString(string(trimBytesNulls(payload)))
	case bytes.HasPrefix(prefix, []byte("UNICODE")):
		endian := textunicode.BigEndian
		if order == binary.LittleEndian {
			endian = textunicode.LittleEndian
		}
		dec := textunicode.UTF16(endian, textunicode.IgnoreBOM).NewDecoder()
		if decoded, err := dec.Bytes(payload); err == nil {
			return printableString(string(decoded))
		}
	}
	return printableString(string(trimBytesNulls(b)))
}

func isMostlyText(b []byte) bool {
	for _, c := range trimBytesNulls(b) {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
		if c > 0x7e {
			return false
		}
	}
	return true
}

func printableString(s string) string {
	ss := strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(ss)
}

func trimBytesNulls(b []byte) []byte {
	var lo, hi int
	for lo = 0; lo < len(b) && b[lo] == 0; lo++ {
	}
	for hi = len(b) - 1; hi >= 0 && b[hi] == 0; hi-- {
	}
	if lo > hi {
		return nil
	}
	return b[lo : hi+1]
}
