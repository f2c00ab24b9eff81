// Package record builds and persists the audit record written after
// each image transformation.
package record

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/halapix/imgpipe/internal/imaging"
)

// ReductionUnknown is stored as the reduction percentage when the
// source byte size is zero or unreported and the ratio cannot be
// computed.
const ReductionUnknown = -1

// Record is one persisted transformation. Attribute names follow the
// existing table schema, with resource-id as the partition key.
type Record struct {
	ID           string `dynamodbav:"resource-id"`
	EventTime    string `dynamodbav:"EventTime"`
	EventType    string `dynamodbav:"EventType"`
	EventSource  string `dynamodbav:"EventSource"`
	AWSRegion    string `dynamodbav:"AWSRegion"`
	EventVersion string `dynamodbav:"EventVersion"`

	OriginalBucket    string `dynamodbav:"OriginalBucket"`
	OriginalObjectKey string `dynamodbav:"OriginalObjectKey"`
	OriginalSize      int64  `dynamodbav:"OriginalSize"`
	OriginalWidth     int    `dynamodbav:"OriginalWidth"`
	OriginalHeight    int    `dynamodbav:"OriginalHeight"`
	OriginalFormat    string `dynamodbav:"OriginalFormat"`
	OriginalMode      string `dynamodbav:"OriginalMode"`
	OriginalFileSize  int64  `dynamodbav:"OriginalFileSize"`

	ResizedBucket    string `dynamodbav:"ResizedBucket"`
	ResizedObjectKey string `dynamodbav:"ResizedObjectKey"`
	ResizedWidth     int    `dynamodbav:"ResizedWidth"`
	ResizedHeight    int    `dynamodbav:"ResizedHeight"`
	ResizedFormat    string `dynamodbav:"ResizedFormat"`
	ResizedMode      string `dynamodbav:"ResizedMode"`
	ResizedFileSize  int64  `dynamodbav:"ResizedFileSize"`

	ProcessingTime      string  `dynamodbav:"ProcessingTime"`
	ReductionPercentage float64 `dynamodbav:"ReductionPercentage"`
	DimensionReduction  string  `dynamodbav:"DimensionReduction"`

	CameraMake  string `dynamodbav:"CameraMake,omitempty"`
	CameraModel string `dynamodbav:"CameraModel,omitempty"`
	CapturedAt  string `dynamodbav:"CapturedAt,omitempty"`
}

// BuildInput carries everything Build needs: the normalized event
// context, both measured property sets, and the destination placement.
type BuildInput struct {
	EventTime    time.Time
	EventType    string
	EventSource  string
	AWSRegion    string
	EventVersion string

	SourceBucket string
	SourceKey    string

	// EventSize is the object size as reported by the notification,
	// or a negative value when the notification did not carry one.
	EventSize int64

	DestBucket string
	DestKey    string

	Source  imaging.Properties
	Resized imaging.Properties
	Camera  *imaging.CameraInfo
}

// Build assembles a Record from in. Every call generates a fresh
// identifier, so reprocessing the same key appends to history instead
// of overwriting it.
func Build(in BuildInput, now time.Time) *Record {
	rec := &Record{
		ID:           uuid.NewString(),
		EventType:    in.EventType,
		EventSource:  in.EventSource,
		AWSRegion:    in.AWSRegion,
		EventVersion: in.EventVersion,

		OriginalBucket:    in.SourceBucket,
		OriginalObjectKey: in.SourceKey,
		OriginalSize:      in.EventSize,
		OriginalWidth:     in.Source.Width,
		OriginalHeight:    in.Source.Height,
		OriginalFormat:    in.Source.Format,
		OriginalMode:      in.Source.Mode,
		OriginalFileSize:  in.Source.FileSize,

		ResizedBucket:    in.DestBucket,
		ResizedObjectKey: in.DestKey,
		ResizedWidth:     in.Resized.Width,
		ResizedHeight:    in.Resized.Height,
		ResizedFormat:    in.Resized.Format,
		ResizedMode:      in.Resized.Mode,
		ResizedFileSize:  in.Resized.FileSize,

		ProcessingTime:      now.UTC().Format(time.RFC3339),
		ReductionPercentage: ReductionPercent(in.Source.FileSize, in.Resized.FileSize),
		DimensionReduction: fmt.Sprintf("%dx%d → %dx%d",
			in.Source.Width, in.Source.Height, in.Resized.Width, in.Resized.Height),
	}
	if !in.EventTime.IsZero() {
		rec.EventTime = in.EventTime.UTC().Format(time.RFC3339)
	}
	if in.Camera != nil {
		rec.CameraMake = in.Camera.Make
		rec.CameraModel = in.Camera.Model
		if !in.Camera.CapturedAt.IsZero() {
			rec.CapturedAt = in.Camera.CapturedAt.UTC().Format(time.RFC3339)
		}
	}
	return rec
}

// ReductionPercent reports how much smaller the resized file is as a
// percentage of the source size, rounded to two decimals. A source
// size of zero or below yields ReductionUnknown.
func ReductionPercent(sourceBytes, resizedBytes int64) float64 {
	if sourceBytes <= 0 {
		return ReductionUnknown
	}
	pct := 100 * (1 - float64(resizedBytes)/float64(sourceBytes))
	return math.Round(pct*100) / 100
}

// Store persists transformation records.
type Store interface {
	// Persist writes rec keyed by its identifier. Records are
	// append-only; there is no update or delete path.
	Persist(ctx context.Context, rec *Record) error
}
