package imaging

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/halapix/imgpipe/internal/fault"
)

// jpegQuality is the encoder quality for resized JPEG output.
const jpegQuality = 80

// TargetDimensions returns floor-scaled dimensions, clamped so neither
// axis collapses below one pixel. Ratios of 1 or more return the source
// dimensions unchanged: scaling never enlarges.
func TargetDimensions(width, height int, ratio float64) (int, int) {
	if ratio >= 1 {
		return width, height
	}
	w := int(float64(width) * ratio)
	h := int(float64(height) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Resize decodes srcPath, scales both axes by ratio, and writes the
// result to dstPath in the source encoding. maxPixels caps the decoded
// area (0 means no cap). Callers measure the written file themselves;
// nothing about the output is reported arithmetically.
func Resize(srcPath, dstPath string, ratio float64, maxPixels int64) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fault.Wrap(fault.KindResource, fmt.Errorf("open %s: %w", filepath.Base(srcPath), err))
	}
	defer f.Close()

	// Check the pixel budget from the header before allocating buffers.
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return fault.New(fault.KindDecode, "decode %s: %w", filepath.Base(srcPath), err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fault.New(fault.KindResource,
			"image %dx%d exceeds the %d pixel budget", cfg.Width, cfg.Height, maxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fault.Wrap(fault.KindResource, fmt.Errorf("rewind %s: %w", filepath.Base(srcPath), err))
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return fault.New(fault.KindDecode, "decode %s: %w", filepath.Base(srcPath), err)
	}

	bounds := img.Bounds()
	width, height := TargetDimensions(bounds.Dx(), bounds.Dy(), ratio)

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	return encode(dstPath, format, resized)
}

// encode writes img to path in the named format. The output format
// always matches the source format; webp has no Go encoder and fails.
func encode(path, format string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fault.Wrap(fault.KindResource, fmt.Errorf("create %s: %w", filepath.Base(path), err))
	}

	switch format {
	case "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		err = png.Encode(f, img)
	case "gif":
		err = gif.Encode(f, img, nil)
	case "bmp":
		err = bmp.Encode(f, img)
	case "tiff":
		err = tiff.Encode(f, img, nil)
	default:
		f.Close()
		os.Remove(path)
		return fault.New(fault.KindEncode, "no encoder for %s output", format)
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return fault.New(fault.KindEncode, "encode %s: %w", format, err)
	}
	if err := f.Close(); err != nil {
		return fault.Wrap(fault.KindResource, fmt.Errorf("close %s: %w", filepath.Base(path), err))
	}
	return nil
}
