package fastexif

import (
	"bytes"
	"strings"
)

// Format is the detected container format.
//
// The RAW vendor subtypes (CR2, NEF, ...) are heuristic: they are derived
// from a bounded signature search and only influence maker-note dispatch
// until the Make tag is decoded, which is then authoritative.
type Format int

const (
	// FormatUnknown means no signature matched.
	FormatUnknown Format = iota
	// FormatJPEG is a marker-framed JPEG image.
	FormatJPEG
	// FormatTIFF is a generic TIFF image.
	FormatTIFF
	// FormatCR2 is a Canon TIFF-based RAW image.
	FormatCR2
	// FormatNEF is a Nikon TIFF-based RAW image.
	FormatNEF
	// FormatORF is an Olympus TIFF-based RAW image.
	FormatORF
	// FormatARW is a Sony TIFF-based RAW image.
	FormatARW
	// FormatRW2 is a Panasonic TIFF-based RAW image.
	FormatRW2
	// FormatSRW is a Samsung TIFF-based RAW image.
	FormatSRW
	// FormatPEF is a Pentax TIFF-based RAW image.
	FormatPEF
	// FormatDNG is an Adobe Digital Negative image.
	FormatDNG
	// FormatPNG is a PNG image (EXIF in the eXIf chunk).
	FormatPNG
	// FormatWebP is a RIFF WebP image (EXIF in the EXIF chunk).
	FormatWebP
	// FormatGIF is a GIF image.
	FormatGIF
	// FormatBMP is a Windows bitmap image.
	FormatBMP
	// FormatHEIF is an ISO-BMFF HEIF/HEIC/AVIF image.
	FormatHEIF
	// FormatCR3 is a Canon ISO-BMFF RAW image.
	FormatCR3
	// FormatMOV is a QuickTime movie.
	FormatMOV
	// FormatMP4 is an ISO-BMFF MP4 movie.
	FormatMP4
	// Format3GP is an ISO-BMFF 3GPP movie.
	Format3GP
	// FormatAVI is a RIFF AVI movie.
	FormatAVI
	// FormatMKV is a Matroska/EBML movie.
	FormatMKV
)

var formatNames = map[Format]string{
	FormatJPEG: "JPEG",
	FormatTIFF: "TIFF",
	FormatCR2:  "CR2",
	FormatNEF:  "NEF",
	FormatORF:  "ORF",
	FormatARW:  "ARW",
	FormatRW2:  "RW2",
	FormatSRW:  "SRW",
	FormatPEF:  "PEF",
	FormatDNG:  "DNG",
	FormatPNG:  "PNG",
	FormatWebP: "WEBP",
	FormatGIF:  "GIF",
	FormatBMP:  "BMP",
	FormatHEIF: "HEIF",
	FormatCR3:  "CR3",
	FormatMOV:  "MOV",
	FormatMP4:  "MP4",
	Format3GP:  "3GP",
	FormatAVI:  "AVI",
	FormatMKV:  "MKV",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "Unknown"
}

var formatMIMETypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatTIFF: "image/tiff",
	FormatCR2:  "image/x-canon-cr2",
	FormatNEF:  "image/x-nikon-nef",
	FormatORF:  "image/x-olympus-orf",
	FormatARW:  "image/x-sony-arw",
	FormatRW2:  "image/x-panasonic-rw2",
	FormatSRW:  "image/x-samsung-srw",
	FormatPEF:  "image/x-pentax-pef",
	FormatDNG:  "image/x-adobe-dng",
	FormatPNG:  "image/png",
	FormatWebP: "image/webp",
	FormatGIF:  "image/gif",
	FormatBMP:  "image/bmp",
	FormatHEIF: "image/heic",
	FormatCR3:  "image/x-canon-cr3",
	FormatMOV:  "video/quicktime",
	FormatMP4:  "video/mp4",
	Format3GP:  "video/3gpp",
	FormatAVI:  "video/x-msvideo",
	FormatMKV:  "video/x-matroska",
}

// MIMEType returns the MIME type for the format, or an empty string.
func (f Format) MIMEType() string {
	return formatMIMETypes[f]
}

var formatExtensions = map[Format]string{
	FormatJPEG: "jpg",
	FormatWebP: "webp",
	FormatHEIF: "heic",
	Format3GP:  "3gp",
}

// Extension returns the conventional lowercase file extension.
func (f Format) Extension() string {
	if ext, ok := formatExtensions[f]; ok {
		return ext
	}
	if s, ok := formatNames[f]; ok {
		return strings.ToLower(s)
	}
	return ""
}

// isTIFFBased reports whether the metadata payload is the file itself,
// starting at offset 0.
func (f Format) isTIFFBased() bool {
	switch f {
	case FormatTIFF, FormatCR2, FormatNEF, FormatORF, FormatARW, FormatRW2, FormatSRW, FormatPEF, FormatDNG:
		return true
	}
	return false
}

// isBMFF reports whether the container is an ISO Base Media File Format
// box tree.
func (f Format) isBMFF() bool {
	switch f {
	case FormatHEIF, FormatCR3, FormatMOV, FormatMP4, Format3GP:
		return true
	}
	return false
}

// vendorSniffLimit bounds the substring search used to pick a RAW vendor
// subtype and the camera make hint.
const vendorSniffLimit = 8 * 1024

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// Detect classifies a byte buffer into a container format. Fixed magic
// prefixes are checked in priority order; the buffer must be long enough
// for each multi-byte field read, so short buffers never read out of
// bounds. Buffers matching no signature return ErrUnsupportedFormat.
func Detect(data []byte) (Format, error) {
	if len(data) < 4 {
		return FormatUnknown, ErrUnsupportedFormat
	}

	if data[0] == 0xff && data[1] == 0xd8 {
		return FormatJPEG, nil
	}

	// TIFF byte-order marker, including the vendor-mangled variants that
	// replace the magic bytes (Olympus ORF, Panasonic RW2).
	switch {
	case bytes.HasPrefix(data, []byte("IIRO")), bytes.HasPrefix(data, []byte("IIRS")), bytes.HasPrefix(data, []byte("MMOR")):
		return FormatORF, nil
	case bytes.HasPrefix(data, []byte{'I', 'I', 'U', 0}):
		return FormatRW2, nil
	case data[0] == 'I' && data[1] == 'I', data[0] == 'M' && data[1] == 'M':
		return detectTIFFSubtype(data), nil
	}

	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		return detectBMFFBrand(data[8:12]), nil
	}
	if len(data) >= 8 {
		atom := data[4:8]
		if bytes.Equal(atom, []byte("moov")) || bytes.Equal(atom, []byte("mdat")) || bytes.Equal(atom, []byte("wide")) {
			return FormatMOV, nil
		}
	}

	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) {
		switch {
		case bytes.Equal(data[8:12], []byte("WEBP")):
			return FormatWebP, nil
		case bytes.Equal(data[8:12], []byte("AVI ")):
			return FormatAVI, nil
		}
		return FormatUnknown, ErrUnsupportedFormat
	}

	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, pngSignature):
		return FormatPNG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF, nil
	case data[0] == 'B' && data[1] == 'M':
		return FormatBMP, nil
	case bytes.HasPrefix(data, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return FormatMKV, nil
	}

	return FormatUnknown, ErrUnsupportedFormat
}

// detectTIFFSubtype narrows a TIFF buffer into a RAW vendor subtype by a
// bounded manufacturer-signature search, falling back to DNG and then
// generic TIFF. The result is a hint only.
func detectTIFFSubtype(data []byte) Format {
	// CR2 has a definitive secondary magic after the TIFF header.
	if len(data) >= 10 && data[8] == 'C' && data[9] == 'R' {
		return FormatCR2
	}

	head := data
	if len(head) > vendorSniffLimit {
		head = head[:vendorSniffLimit]
	}

	switch {
	case bytes.Contains(head, []byte("Canon")):
		return FormatCR2
	case bytes.Contains(head, []byte("NIKON")), bytes.Contains(head, []byte("Nikon")):
		return FormatNEF
	case bytes.Contains(head, []byte("SONY")):
		return FormatARW
	case bytes.Contains(head, []byte("OLYMP")):
		return FormatORF
	case bytes.Contains(head, []byte("PENTAX")):
		return FormatPEF
	case containsFold(head, []byte("samsung")):
		return FormatSRW
	case bytes.Contains(head, []byte("DNG")), bytes.Contains(head, []byte("Adobe")):
		return FormatDNG
	}
	return FormatTIFF
}

func detectBMFFBrand(brand []byte) Format {
	switch string(brand) {
	case "heic", "heix", "mif1", "msf1", "hevc", "avci", "avcs", "avif":
		return FormatHEIF
	case "crx ":
		return FormatCR3
	case "3gp4", "3gp5", "3g2a":
		return Format3GP
	case "qt  ", "CAEP":
		return FormatMOV
	case "mp41", "mp42", "isom", "avc1", "M4V ":
		return FormatMP4
	}
	// Remaining ftyp brands are QuickTime variants.
	return FormatMOV
}

// makeSignatures maps in-file manufacturer markers to the canonical Make
// value reported by those cameras.
var makeSignatures = []struct {
	marker []byte
	make   string
}{
	{[]byte("Canon"), "Canon"},
	{[]byte("NIKON CORPORATION"), "NIKON CORPORATION"},
	{[]byte("Nikon"), "NIKON CORPORATION"},
	{[]byte("SONY"), "SONY"},
	{[]byte("OLYMPUS"), "OLYMPUS OPTICAL CO.,LTD"},
	{[]byte("FUJIFILM"), "FUJIFILM"},
	{[]byte("Panasonic"), "Panasonic"},
	{[]byte("GoPro"), "GoPro"},
	{[]byte("Motorola"), "Motorola"},
	{[]byte("RICOH"), "RICOH"},
}

// DetectMake searches the leading bytes of the input for a manufacturer
// marker and returns the corresponding Make value, or an empty string.
// The result is a hint only; a decoded Make tag supersedes it.
func DetectMake(data []byte) string {
	head := data
	if len(head) > vendorSniffLimit {
		head = head[:vendorSniffLimit]
	}
	for _, sig := range makeSignatures {
		if bytes.Contains(head, sig.marker) {
			return sig.make
		}
	}
	if containsFold(head, []byte("samsung")) {
		return "SAMSUNG"
	}
	return ""
}

// containsFold is a case-insensitive bytes.Contains for ASCII needles.
func containsFold(b, needle []byte) bool {
	if len(needle) == 0 || len(b) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(b); i++ {
		if asciiEqualFold(b[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func asciiEqualFold(a, b []byte) bool {
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
