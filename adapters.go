package fastexif

import (
	"encoding/binary"
	"io"
	"strconv"

	"golang.org/x/image/riff"
)

// decodeGIF reads the logical screen descriptor that directly follows the
// 6-byte signature.
func decodeGIF(src Source, out Result) error {
	b, err := src.Range(6, 4)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	out["ImageWidth"] = strconv.Itoa(int(le.Uint16(b)))
	out["ImageHeight"] = strconv.Itoa(int(le.Uint16(b[2:])))
	return nil
}

// decodeBMP reads the BITMAPINFOHEADER dimensions. Height is stored
// signed; negative means a top-down bitmap.
func decodeBMP(src Source, out Result) error {
	b, err := src.Range(18, 8)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	width := int32(le.Uint32(b))
	height := int32(le.Uint32(b[4:]))
	if height < 0 {
		height = -height
	}
	out["ImageWidth"] = strconv.Itoa(int(width))
	out["ImageHeight"] = strconv.Itoa(int(height))
	return nil
}

var (
	fccLIST = riff.LIST
	fccHdrl = riff.FourCC{'h', 'd', 'r', 'l'}
	fccAvih = riff.FourCC{'a', 'v', 'i', 'h'}
)

// decodeAVI walks the RIFF chunk list to the hdrl LIST and reads the avih
// main header for frame geometry.
func decodeAVI(src Source, out Result) error {
	_, r, err := riff.NewReader(&sourceReader{src: src})
	if err != nil {
		return newInvalidFormatErrorf("avi: %v", err)
	}
	for {
		chunkID, chunkLen, chunkData, err := r.Next()
		if err != nil {
			// No header list found; not fatal for metadata purposes.
			return nil
		}
		if chunkID != fccLIST {
			continue
		}
		listType, list, err := riff.NewListReader(chunkLen, chunkData)
		if err != nil || listType != fccHdrl {
			continue
		}
		for {
			id, n, data, err := list.Next()
			if err != nil {
				return nil
			}
			if id != fccAvih || n < 40 {
				continue
			}
			b := make([]byte, 40)
			if _, err := io.ReadFull(data, b); err != nil {
				return nil
			}
			le := binary.LittleEndian
			out["FrameCount"] = strconv.Itoa(int(le.Uint32(b[16:])))
			out["ImageWidth"] = strconv.Itoa(int(le.Uint32(b[32:])))
			out["ImageHeight"] = strconv.Itoa(int(le.Uint32(b[36:])))
			us := le.Uint32(b)
			if us > 0 {
				out["FrameRate"] = strconv.FormatFloat(1e6/float64(us), 'f', 2, 64)
			}
			return nil
		}
	}
}

// decodeMKV extracts the EBML DocType from the file header. Full EBML
// element parsing is out of proportion for one string; the DocType value
// sits within the first kilobyte behind element ID 0x4282.
func decodeMKV(src Source, out Result) error {
	length := min(src.Size(), 1024)
	b, err := src.Range(0, length)
	if err != nil {
		return err
	}
	for i := 0; i+2 < len(b); i++ {
		if b[i] != 0x42 || b[i+1] != 0x82 {
			continue
		}
		// Size is a VINT; doc types in practice fit one byte.
		size := int(b[i+2] & 0x7f)
		if b[i+2]&0x80 == 0 || i+3+size > len(b) {
			continue
		}
		out["DocType"] = string(b[i+3 : i+3+size])
		return nil
	}
	return nil
}
