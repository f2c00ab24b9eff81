package imaging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CameraInfo carries the EXIF fields worth persisting alongside a
// resize record.
type CameraInfo struct {
	Make       string
	Model      string
	CapturedAt time.Time
}

// ReadCameraInfo extracts camera EXIF data from the image at path.
// Missing or unparsable EXIF is normal (screenshots, synthetic images,
// stripped uploads) and yields nil rather than an error; the pipeline
// must never fail an event over metadata.
func ReadCameraInfo(path string) *CameraInfo {
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("EXIF read skipped")
		return nil
	}
	defer f.Close()

	exifData, err := imagemeta.Decode(f)
	if err != nil {
		log.Debug().Err(err).Str("file", filepath.Base(path)).Msg("No EXIF metadata")
		return nil
	}

	info := &CameraInfo{
		Make:  strings.TrimSpace(exifData.Make),
		Model: strings.TrimSpace(exifData.Model),
	}

	// Capture time fallback chain: DateTimeOriginal, then CreateDate.
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.CapturedAt = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		info.CapturedAt = exifData.CreateDate()
	}

	if info.Make == "" && info.Model == "" && info.CapturedAt.IsZero() {
		return nil
	}

	log.Debug().
		Str("file", filepath.Base(path)).
		Str("make", info.Make).
		Str("model", info.Model).
		Msg("EXIF metadata extracted")
	return info
}
