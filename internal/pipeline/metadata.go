package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/halapix/imgpipe/internal/imaging"
)

// objectMetadata builds the destination object's user metadata from
// both measured property sets plus the source placement. S3 lowercases
// metadata keys, so they are written lowercase to begin with.
func objectMetadata(n Notification, src, resized imaging.Properties, processedAt time.Time) map[string]string {
	return map[string]string{
		"original-bucket": n.SourceBucket,
		"original-key":    n.Key,
		"processed-at":    processedAt.UTC().Format(time.RFC3339),

		"source-width":  strconv.Itoa(src.Width),
		"source-height": strconv.Itoa(src.Height),
		"source-format": src.Format,
		"source-mode":   src.Mode,
		"source-bytes":  strconv.FormatInt(src.FileSize, 10),

		"resized-width":  strconv.Itoa(resized.Width),
		"resized-height": strconv.Itoa(resized.Height),
		"resized-format": resized.Format,
		"resized-mode":   resized.Mode,
		"resized-bytes":  strconv.FormatInt(resized.FileSize, 10),
	}
}

// PropertiesFromMetadata reads one property set back out of object
// metadata written by this pipeline. prefix is "source" or "resized".
func PropertiesFromMetadata(meta map[string]string, prefix string) (imaging.Properties, error) {
	width, err := metaInt(meta, prefix+"-width")
	if err != nil {
		return imaging.Properties{}, err
	}
	height, err := metaInt(meta, prefix+"-height")
	if err != nil {
		return imaging.Properties{}, err
	}
	size, err := metaInt64(meta, prefix+"-bytes")
	if err != nil {
		return imaging.Properties{}, err
	}
	return imaging.Properties{
		Width:    width,
		Height:   height,
		Format:   meta[prefix+"-format"],
		Mode:     meta[prefix+"-mode"],
		FileSize: size,
	}, nil
}

func metaInt(meta map[string]string, key string) (int, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, fmt.Errorf("object metadata missing %q", key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("object metadata %q = %q is not a number", key, raw)
	}
	return v, nil
}

func metaInt64(meta map[string]string, key string) (int64, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, fmt.Errorf("object metadata missing %q", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("object metadata %q = %q is not a number", key, raw)
	}
	return v, nil
}
