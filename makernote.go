package fastexif

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// decodeMakerNote decodes the vendor-proprietary block referenced by e and
// merges the result into out. Dispatch precedence: an in-block byte
// signature overrides the vendor hint; with neither, the call is a no-op.
// Maker notes are optional enrichment — nothing here is ever fatal.
func decodeMakerNote(r *ifdReader, e ifdEntry, hint string, cfg *Config, out Result) {
	width, ok := exifTypeSize[e.typ]
	if !ok {
		cfg.Warnf("makernote: tag entry has unknown type %d", e.typ)
		return
	}
	total := int64(width) * int64(e.count)
	if total <= 4 {
		return
	}
	if total > cfg.MaxMakerNoteSize {
		cfg.Warnf("makernote: %d bytes exceeds cap %d, ignoring", total, cfg.MaxMakerNoteSize)
		return
	}
	off := int64(r.order.Uint32(e.raw))
	if off < 0 || off+total > int64(len(r.data)) {
		cfg.Warnf("makernote: block (%d bytes at %d) out of bounds", total, off)
		return
	}
	block := r.data[off : off+total]

	switch {
	case bytes.HasPrefix(block, []byte("Nikon\x00")):
		out["MakerNoteType"] = "Nikon"
		decodeNikonNote(r, block, off, cfg, out)

	case bytes.HasPrefix(block, []byte("OLYMP\x00")):
		// Old-style Olympus header: directory at +8, offsets relative to
		// the TIFF base.
		out["MakerNoteType"] = "Olympus"
		walkVendorIFD(r, off+8, olympusFields, cfg, out)

	case bytes.HasPrefix(block, []byte("OLYMPUS\x00")):
		// New-style header embeds its own directory with offsets relative
		// to the maker-note start.
		out["MakerNoteType"] = "Olympus"
		sub := &ifdReader{data: block, order: r.order, warnf: r.warnf}
		walkVendorIFD(sub, 12, olympusFields, cfg, out)

	case bytes.HasPrefix(block, []byte("SONY DSC ")), bytes.HasPrefix(block, []byte("SONY CAM ")):
		out["MakerNoteType"] = "Sony"
		walkVendorIFD(r, off+12, sonyFields, cfg, out)

	case bytes.HasPrefix(block, []byte("FUJIFILM")):
		// Fujifilm notes are always little-endian with offsets relative to
		// the maker-note start; the directory offset follows the signature.
		out["MakerNoteType"] = "Fujifilm"
		if len(block) >= 12 {
			sub := &ifdReader{data: block, order: binary.LittleEndian, warnf: r.warnf}
			walkVendorIFD(sub, int64(binary.LittleEndian.Uint32(block[8:12])), fujifilmFields, cfg, out)
		}

	case bytes.HasPrefix(block, []byte("Panasonic\x00\x00\x00")):
		out["MakerNoteType"] = "Panasonic"
		walkVendorIFD(r, off+12, panasonicFields, cfg, out)

	default:
		decodeMakerNoteByHint(r, block, off, hint, cfg, out)
	}
}

// decodeMakerNoteByHint handles the vendors whose notes carry no byte
// signature. The hint is the decoded Make tag, falling back to the
// sniffed manufacturer marker.
func decodeMakerNoteByHint(r *ifdReader, block []byte, off int64, hint string, cfg *Config, out Result) {
	switch h := strings.ToLower(hint); {
	case strings.Contains(h, "canon"):
		// Canon notes are a bare directory with offsets relative to the
		// TIFF base.
		out["MakerNoteType"] = "Canon"
		walkVendorIFD(r, off, canonFields, cfg, out)

	case strings.Contains(h, "nikon"):
		out["MakerNoteType"] = "Nikon"
		walkVendorIFD(r, off, nikonFields, cfg, out)

	case strings.Contains(h, "samsung"):
		// Samsung notes are a bare directory with offsets relative to the
		// maker-note start.
		out["MakerNoteType"] = "Samsung"
		sub := &ifdReader{data: block, order: r.order, warnf: r.warnf}
		walkVendorIFD(sub, 0, samsungFields, cfg, out)

	case strings.Contains(h, "pentax"), strings.Contains(h, "ricoh"):
		out["MakerNoteType"] = "Pentax"
		walkVendorIFD(r, off, pentaxFields, cfg, out)
	}
}

// decodeNikonNote handles both Nikon layouts: the modern format embeds a
// complete TIFF structure ten bytes in, the old format is a directory at
// +8 with offsets relative to the outer TIFF base.
func decodeNikonNote(r *ifdReader, block []byte, off int64, cfg *Config, out Result) {
	if len(block) >= 18 && block[6] == 0x02 {
		embedded := block[10:]
		var order binary.ByteOrder
		switch binary.BigEndian.Uint16(embedded) {
		case byteOrderLittleEndian:
			order = binary.LittleEndian
		case byteOrderBigEndian:
			order = binary.BigEndian
		default:
			cfg.Warnf("makernote: nikon embedded header has unknown byte order")
			return
		}
		if order.Uint16(embedded[2:]) != tiffMagic {
			cfg.Warnf("makernote: nikon embedded header has bad magic")
			return
		}
		sub := &ifdReader{data: embedded, order: order, warnf: r.warnf}
		walkVendorIFD(sub, int64(order.Uint32(embedded[4:])), nikonFields, cfg, out)
		return
	}
	walkVendorIFD(r, off+8, nikonFields, cfg, out)
}

// walkVendorIFD walks a vendor directory with the shared materialization
// rules. Unknown vendor tag ids are dropped rather than synthesized; the
// tables are private per vendor.
func walkVendorIFD(r *ifdReader, offset int64, table map[uint16]string, cfg *Config, out Result) {
	if err := r.walkIFD(offset, table, false, out, nil, nil); err != nil {
		cfg.Warnf("makernote: directory at %d: %v", offset, err)
	}
}

var canonFields = map[uint16]string{
	0x0006: "CanonImageType",
	0x0007: "CanonFirmwareVersion",
	0x0008: "FileNumber",
	0x0009: "OwnerName",
	0x000c: "SerialNumber",
	0x0010: "CanonModelID",
	0x0095: "LensModel",
	0x00a0: "ProcessingInfo",
	0x4001: "ColorData",
}

var nikonFields = map[uint16]string{
	0x0001: "MakerNoteVersion",
	0x0002: "ISO",
	0x0004: "Quality",
	0x0005: "WhiteBalance",
	0x0007: "FocusMode",
	0x0008: "FlashSetting",
	0x0084: "Lens",
	0x0087: "FlashMode",
	0x0098: "LensData",
	0x00a7: "ShutterCount",
}

var olympusFields = map[uint16]string{
	0x0200: "SpecialMode",
	0x0201: "Quality",
	0x0202: "Macro",
	0x0203: "BWMode",
	0x0204: "DigitalZoom",
	0x0207: "CameraType",
	0x0208: "PictureInfo",
	0x0209: "CameraID",
}

var sonyFields = map[uint16]string{
	0x0102: "Quality",
	0x0104: "FlashExposureComp",
	0x0105: "Teleconverter",
	0x0112: "WhiteBalanceFineTune",
	0x0115: "WhiteBalance",
	0xb000: "FileFormat",
	0xb001: "SonyModelID",
	0xb020: "CreativeStyle",
	0xb040: "Macro",
	0xb041: "ExposureMode",
	0xb047: "Quality2",
}

var fujifilmFields = map[uint16]string{
	0x0000: "MakerNoteVersion",
	0x0010: "InternalSerialNumber",
	0x1000: "Quality",
	0x1001: "Sharpness",
	0x1002: "WhiteBalance",
	0x1003: "Saturation",
	0x1010: "FujiFlashMode",
	0x1011: "FlashExposureComp",
	0x1020: "Macro",
	0x1021: "FocusMode",
	0x1030: "SlowSync",
	0x1031: "PictureMode",
}

var panasonicFields = map[uint16]string{
	0x0001: "ImageQuality",
	0x0002: "FirmwareVersion",
	0x0003: "WhiteBalance",
	0x0007: "FocusMode",
	0x000f: "AFAreaMode",
	0x001a: "ImageStabilization",
	0x001c: "Macro",
	0x001f: "ShootingMode",
	0x0025: "InternalSerialNumber",
	0x0051: "LensType",
	0x0052: "LensSerialNumber",
}

var samsungFields = map[uint16]string{
	0x0001: "MakerNoteVersion",
	0x0002: "DeviceType",
	0x0003: "SamsungModelID",
	0x0011: "OrientationInfo",
	0x0021: "PictureWizard",
	0x0043: "CameraTemperature",
	0x0100: "FaceDetect",
	0x0120: "FaceRecognition",
	0x0123: "FaceName",
}

var pentaxFields = map[uint16]string{
	0x0000: "PentaxVersion",
	0x0005: "PentaxModelID",
	0x0008: "Quality",
	0x000d: "FocusMode",
	0x0012: "ExposureTime",
	0x0013: "FNumber",
	0x0014: "ISO",
	0x001d: "FocalLength",
	0x0229: "SerialNumber",
}
