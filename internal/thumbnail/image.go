package thumbnail

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
)

// Load reads a thumbnail source image from disk. PNG, JPEG and SVG files
// are supported; SVG sources are rasterized at their view box size onto a
// white background.
func Load(filePath string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	switch ext {
	case ".svg":
		return loadSVG(data)
	case ".png":
		return png.Decode(bytes.NewReader(data))
	case ".jpg", ".jpeg":
		return jpeg.Decode(bytes.NewReader(data))
	default:
		return nil, errors.New("unsupported image format: " + ext)
	}
}

func loadSVG(data []byte) (image.Image, error) {
	svgIcon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	viewBoxW := float64(svgIcon.ViewBox.W)
	viewBoxH := float64(svgIcon.ViewBox.H)
	if viewBoxW < 1 || viewBoxH < 1 {
		return nil, errors.New("svg has an empty view box")
	}

	svgIcon.SetTarget(0, 0, viewBoxW, viewBoxH)
	width := int(viewBoxW)
	height := int(viewBoxH)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	scanner.SetClip(img.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)

	svgIcon.Draw(raster, 1.0)
	return img, nil
}

// Fit rescales img to exactly width x height using Catmull-Rom resampling.
// Images already at the target size are returned unchanged.
func Fit(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
