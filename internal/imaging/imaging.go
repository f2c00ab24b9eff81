// Package imaging measures and resizes raster images on local disk.
//
// Decoding supports jpeg, png, gif, bmp, tiff, and webp. Encoding
// covers the same set minus webp, which has no Go encoder; a webp
// source therefore measures fine but cannot be written back.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	_ "golang.org/x/image/webp" // register webp for decoding only

	"github.com/halapix/imgpipe/internal/fault"
)

// Properties describes a decoded image file.
type Properties struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Format is the registered decoder name: jpeg, png, gif, bmp, tiff, webp.
	Format string `json:"format"`
	// Mode names the color model of the encoded pixels: rgba, ycbcr,
	// gray, cmyk, paletted.
	Mode string `json:"mode"`
	// FileSize is the on-disk size in bytes.
	FileSize int64 `json:"fileSize"`
}

// formatMIME maps registered decoder names to MIME types.
var formatMIME = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// MIMEType returns the MIME type for a decoder format name.
func MIMEType(format string) string {
	if mt, ok := formatMIME[format]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ReadProperties decodes just enough of the file at path to report its
// dimensions, format, and color mode. maxPixels caps the pixel area
// (0 means no cap); oversized images are rejected before any pixel
// buffer is allocated.
func ReadProperties(path string, maxPixels int64) (Properties, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Properties{}, fault.Wrap(fault.KindResource, fmt.Errorf("stat %s: %w", filepath.Base(path), err))
	}

	f, err := os.Open(path)
	if err != nil {
		return Properties{}, fault.Wrap(fault.KindResource, fmt.Errorf("open %s: %w", filepath.Base(path), err))
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Properties{}, fault.New(fault.KindDecode, "decode %s: %w", filepath.Base(path), err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return Properties{}, fault.New(fault.KindResource,
			"image %dx%d exceeds the %d pixel budget", cfg.Width, cfg.Height, maxPixels)
	}

	return Properties{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		Mode:     colorMode(cfg.ColorModel),
		FileSize: info.Size(),
	}, nil
}

// colorMode names a color model the way downstream consumers expect
// from classic imaging tools.
func colorMode(m color.Model) string {
	switch m {
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "rgba"
	case color.AlphaModel, color.Alpha16Model:
		return "alpha"
	}
	if _, ok := m.(color.Palette); ok {
		return "paletted"
	}
	return "unknown"
}
