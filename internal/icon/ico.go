package icon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/bmp"
)

var (
	ErrNotICO         = errors.New("icon: not an ICO container")
	ErrUnsupportedICO = errors.New("icon: unsupported ICO entry")
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

const (
	icoHeaderLen   = 6
	icoEntryLen    = 16
	bmpFileHdrLen  = 14
	bmpInfoHdrLen  = 40
	maxICOEntries  = 64
	biRGB          = 0
	bitsRGBA       = 32
	pngEntryMinLen = 8
)

type icoEntry struct {
	width, height int
	bitCount      int
	size, offset  uint32
}

// ICOToPNG picks the largest image of an ICO container and returns it
// encoded as PNG. PNG-compressed entries are returned unchanged.
func ICOToPNG(data []byte) ([]byte, error) {
	entries, err := readDirectory(data)
	if err != nil {
		return nil, err
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.width*e.height > best.width*best.height ||
			(e.width*e.height == best.width*best.height && e.bitCount > best.bitCount) {
			best = e
		}
	}
	end := uint64(best.offset) + uint64(best.size)
	if end > uint64(len(data)) || best.size < pngEntryMinLen {
		return nil, fmt.Errorf("%w: entry out of bounds", ErrNotICO)
	}
	img := data[best.offset:end]
	if bytes.HasPrefix(img, pngMagic) {
		return img, nil
	}
	return bmpEntryToPNG(img)
}

func readDirectory(data []byte) ([]icoEntry, error) {
	if len(data) < icoHeaderLen {
		return nil, ErrNotICO
	}
	reserved := binary.LittleEndian.Uint16(data[0:2])
	kind := binary.LittleEndian.Uint16(data[2:4])
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if reserved != 0 || kind != 1 || count == 0 || count > maxICOEntries {
		return nil, ErrNotICO
	}
	if len(data) < icoHeaderLen+count*icoEntryLen {
		return nil, fmt.Errorf("%w: truncated directory", ErrNotICO)
	}
	entries := make([]icoEntry, 0, count)
	for i := 0; i < count; i++ {
		b := data[icoHeaderLen+i*icoEntryLen:]
		e := icoEntry{
			width:    int(b[0]),
			height:   int(b[1]),
			bitCount: int(binary.LittleEndian.Uint16(b[6:8])),
			size:     binary.LittleEndian.Uint32(b[8:12]),
			offset:   binary.LittleEndian.Uint32(b[12:16]),
		}
		// A stored dimension of 0 means 256.
		if e.width == 0 {
			e.width = 256
		}
		if e.height == 0 {
			e.height = 256
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// bmpEntryToPNG decodes a headerless DIB as stored in ICO files. The stored
// height covers both the color bitmap and the AND mask, so it is halved
// before the bitmap is handed to the BMP decoder.
func bmpEntryToPNG(dib []byte) ([]byte, error) {
	if len(dib) < bmpInfoHdrLen {
		return nil, fmt.Errorf("%w: short bitmap header", ErrUnsupportedICO)
	}
	infoLen := binary.LittleEndian.Uint32(dib[0:4])
	if infoLen != bmpInfoHdrLen {
		return nil, fmt.Errorf("%w: header size %d", ErrUnsupportedICO, infoLen)
	}
	width := int(int32(binary.LittleEndian.Uint32(dib[4:8])))
	height := int(int32(binary.LittleEndian.Uint32(dib[8:12]))) / 2
	bitCount := int(binary.LittleEndian.Uint16(dib[14:16]))
	compression := binary.LittleEndian.Uint32(dib[16:20])
	if width <= 0 || height <= 0 || compression != biRGB {
		return nil, fmt.Errorf("%w: %dx%d compression %d", ErrUnsupportedICO, width, height, compression)
	}

	paletteLen := 0
	if bitCount <= 8 {
		colors := int(binary.LittleEndian.Uint32(dib[32:36]))
		if colors == 0 {
			colors = 1 << bitCount
		}
		paletteLen = colors * 4
	}

	hdr := make([]byte, bmpFileHdrLen, bmpFileHdrLen+len(dib))
	hdr[0], hdr[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(bmpFileHdrLen+len(dib)))
	binary.LittleEndian.PutUint32(hdr[10:14], uint32(bmpFileHdrLen+bmpInfoHdrLen+paletteLen))
	file := append(hdr, dib...)
	binary.LittleEndian.PutUint32(file[bmpFileHdrLen+8:bmpFileHdrLen+12], uint32(int32(height)))

	img, err := bmp.Decode(bytes.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedICO, err)
	}
	if bitCount == bitsRGBA {
		img = withAlpha(img, dib[bmpInfoHdrLen:], width, height)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// withAlpha restores the alpha channel of a bottom-up 32-bit bitmap, which
// the BMP decoder drops for 40-byte headers. Bitmaps with an all-zero alpha
// channel are left opaque.
func withAlpha(img image.Image, pixels []byte, width, height int) image.Image {
	stride := width * 4
	if len(pixels) < stride*height {
		return img
	}
	hasAlpha := false
	for i := 3; i < stride*height; i += 4 {
		if pixels[i] != 0 {
			hasAlpha = true
			break
		}
	}
	if !hasAlpha {
		return img
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := pixels[(height-1-y)*stride:]
		for x := 0; x < width; x++ {
			p := row[x*4 : x*4+4]
			out.SetNRGBA(x, y, color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]})
		}
	}
	return out
}
