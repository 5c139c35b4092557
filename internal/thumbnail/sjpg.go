// Package thumbnail converts source images into the split-JPEG (SJPG)
// thumbnails the MPMDv2 display firmware can render. A plain JPEG needs the
// whole decompressed image to fit in device RAM; SJPG works around that by
// bundling independently decodable horizontal JPEG fragments behind a small
// index header, so the firmware can stream the image a few rows at a time.
package thumbnail

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

const (
	// DefaultWidth and DefaultHeight are the thumbnail dimensions the MPMDv2
	// display expects.
	DefaultWidth  = 140
	DefaultHeight = 140

	// FormatVersion is the SJPG container version emitted in the header.
	FormatVersion = "V1.00"

	// DefaultQuality is the JPEG quality used for each fragment.
	DefaultQuality = 30

	// DefaultFragmentHeight is the maximum fragment height in pixel rows.
	DefaultFragmentHeight = 16

	signature = "_SJPG__"
)

// EncodeSJPG re-encodes img as an SJPG container: horizontal fragments of
// at most fragmentHeight rows, each compressed as an independent JPEG at
// the given quality, preceded by a header declaring the image geometry and
// the byte length of every fragment.
func EncodeSJPG(img image.Image, quality, fragmentHeight int) ([]byte, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 1 || height < 1 {
		return nil, errors.New("empty source image")
	}
	if fragmentHeight < 1 {
		fragmentHeight = DefaultFragmentHeight
	}

	parts := (height + fragmentHeight - 1) / fragmentHeight
	lengths := make([]int, 0, parts)

	var payload bytes.Buffer
	for i := 0; i < parts; i++ {
		top := bounds.Min.Y + i*fragmentHeight
		bottom := min(top+fragmentHeight, bounds.Max.Y)
		frag := cropRows(img, image.Rect(bounds.Min.X, top, bounds.Max.X, bottom))

		before := payload.Len()
		if err := jpeg.Encode(&payload, frag, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding fragment %d: %w", i, err)
		}
		lengths = append(lengths, payload.Len()-before)
	}

	header := make([]byte, 0, 22+2*parts)
	header = append(header, signature...)
	header = append(header, 0)
	header = append(header, FormatVersion...)
	header = append(header, 0)
	header = binary.LittleEndian.AppendUint16(header, uint16(width))
	header = binary.LittleEndian.AppendUint16(header, uint16(height))
	header = binary.LittleEndian.AppendUint16(header, uint16(parts))
	header = binary.LittleEndian.AppendUint16(header, uint16(fragmentHeight))
	for _, n := range lengths {
		header = binary.LittleEndian.AppendUint16(header, uint16(n))
	}

	return append(header, payload.Bytes()...), nil
}

// cropRows copies the given region into a fresh image anchored at the
// origin, so every fragment encodes as a standalone JPEG.
func cropRows(img image.Image, region image.Rectangle) image.Image {
	frag := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(frag, frag.Bounds(), img, region.Min, draw.Src)
	return frag
}
