// Package pipeline drives object-created notifications through the
// resize workflow: stage, fetch, measure, resize, upload, persist.
// Each notification is processed independently so one bad object never
// blocks the rest of its batch.
package pipeline

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/config"
	"github.com/halapix/imgpipe/internal/fault"
	"github.com/halapix/imgpipe/internal/imaging"
	"github.com/halapix/imgpipe/internal/metrics"
	"github.com/halapix/imgpipe/internal/objectstore"
	"github.com/halapix/imgpipe/internal/record"
	"github.com/halapix/imgpipe/internal/staging"
)

const metricsNamespace = "ImagePipeline"

// Processor wires the pipeline collaborators together. The object and
// record stores are interfaces so tests can run the whole pipeline
// against in-memory fakes.
type Processor struct {
	cfg     config.Config
	staging *staging.Area
	objects objectstore.Store
	records record.Store
}

// New creates a Processor from its collaborators.
func New(cfg config.Config, stagingArea *staging.Area, objects objectstore.Store, records record.Store) *Processor {
	return &Processor{
		cfg:     cfg,
		staging: stagingArea,
		objects: objects,
		records: records,
	}
}

// Process handles every record in the batch sequentially and
// independently. A malformed or failing record is reported in its own
// outcome and never stops its siblings.
func (p *Processor) Process(ctx context.Context, s3Event events.S3Event) BatchResult {
	var batch BatchResult
	for _, rec := range s3Event.Records {
		n, err := FromRecord(rec)
		if err != nil {
			log.Error().Err(err).Msg("Skipping malformed event record")
			batch.add(Outcome{
				Bucket:      rec.S3.Bucket.Name,
				Key:         rec.S3.Object.Key,
				Status:      StatusFailed,
				Stage:       StageReceived,
				FailureKind: fault.KindMalformedEvent,
				Err:         err,
				Error:       err.Error(),
			})
			continue
		}
		batch.add(p.ProcessOne(ctx, n))
	}

	metrics.New(metricsNamespace).
		Dimension("Operation", "resizeBatch").
		Metric("EventsSucceeded", float64(batch.Succeeded), metrics.UnitCount).
		Metric("EventsPartial", float64(batch.Partial), metrics.UnitCount).
		Metric("EventsFailed", float64(batch.Failed), metrics.UnitCount).
		Flush()

	return batch
}

// ProcessOne runs the full workflow for a single notification. It
// never returns an error; every failure is classified into the
// outcome so the caller can aggregate per-event results.
func (p *Processor) ProcessOne(ctx context.Context, n Notification) Outcome {
	start := time.Now()
	logger := log.With().
		Str("bucket", n.SourceBucket).
		Str("key", n.Key).
		Logger()

	out := Outcome{Bucket: n.SourceBucket, Key: n.Key, Stage: StageReceived}

	// Destination naming is deterministic: fixed prefix plus the key's
	// basename. Reprocessing a key overwrites the destination object
	// (last write wins) while each run appends a fresh record.
	destKey := p.cfg.DestinationPrefix + path.Base(n.Key)
	if strings.Contains(n.Key, "/") {
		logger.Warn().Str("destKey", destKey).Msg("Nested key flattened to its basename for the destination")
	}

	paths, err := p.staging.Acquire(n.Key)
	if err != nil {
		return p.fail(logger, out, start, fault.Wrap(fault.KindResource, err))
	}
	// Release runs on every exit path so no staged file outlives its
	// event, even when a step below fails.
	defer p.staging.Release(n.Key)
	out.Stage = StageStaged

	if err := p.withRetry(ctx, logger, "fetch", func() error {
		return p.objects.Fetch(ctx, n.SourceBucket, n.Key, paths.Download)
	}); err != nil {
		return p.fail(logger, out, start, err)
	}
	out.Stage = StageDownloaded

	src, err := imaging.ReadProperties(paths.Download, p.cfg.MaxPixels)
	if err != nil {
		return p.fail(logger, out, start, err)
	}
	out.Stage = StageSourceMeasured

	camera := imaging.ReadCameraInfo(paths.Download)

	if err := imaging.Resize(paths.Download, paths.Upload, p.cfg.ResizeRatio, p.cfg.MaxPixels); err != nil {
		return p.fail(logger, out, start, err)
	}
	out.Stage = StageResized

	// Measured from the written file, not derived arithmetically, so
	// encoder effects show up in the recorded properties.
	resized, err := imaging.ReadProperties(paths.Upload, 0)
	if err != nil {
		return p.fail(logger, out, start, err)
	}
	out.Stage = StageResizedMeasured

	processedAt := time.Now()
	if err := p.withRetry(ctx, logger, "upload", func() error {
		return p.objects.Put(ctx, objectstore.PutRequest{
			Bucket:      p.cfg.DestinationBucket,
			Key:         destKey,
			LocalPath:   paths.Upload,
			ContentType: imaging.MIMEType(resized.Format),
			Metadata:    objectMetadata(n, src, resized, processedAt),
		})
	}); err != nil {
		return p.fail(logger, out, start, err)
	}
	out.Stage = StageUploaded
	out.DestBucket = p.cfg.DestinationBucket
	out.DestKey = destKey

	rec := record.Build(record.BuildInput{
		EventTime:    n.EventTime,
		EventType:    n.EventName,
		EventSource:  n.EventSource,
		AWSRegion:    n.Region,
		EventVersion: n.EventVersion,
		SourceBucket: n.SourceBucket,
		SourceKey:    n.Key,
		EventSize:    n.ObjectSize,
		DestBucket:   p.cfg.DestinationBucket,
		DestKey:      destKey,
		Source:       src,
		Resized:      resized,
		Camera:       camera,
	}, processedAt)

	if err := p.withRetry(ctx, logger, "persist", func() error {
		return p.records.Persist(ctx, rec)
	}); err != nil {
		// The destination object already exists. Partial keeps the
		// orphan visible to operators instead of folding it into
		// either success or plain failure.
		kind, _ := fault.KindOf(err)
		out.Status = StatusPartial
		out.FailureKind = kind
		out.Err = err
		out.Error = err.Error()
		out.ElapsedMs = time.Since(start).Milliseconds()
		logger.Error().Err(err).Str("destKey", destKey).Msg("Object uploaded but record not persisted")
		p.emitEventMetrics(out, n, src, resized)
		return out
	}
	out.Stage = StageRecordPersisted
	out.RecordID = rec.ID
	out.Status = StatusSucceeded
	out.ElapsedMs = time.Since(start).Milliseconds()

	logger.Info().
		Str("destKey", destKey).
		Str("recordId", rec.ID).
		Int64("sourceBytes", src.FileSize).
		Int64("resizedBytes", resized.FileSize).
		Int64("elapsedMs", out.ElapsedMs).
		Msg("Image processed")

	p.emitEventMetrics(out, n, src, resized)
	return out
}

// fail finalizes out as a failure, classifying err by its fault kind.
// Failures that slipped through unclassified count as transform
// failures, the only step that can error without its own kind.
func (p *Processor) fail(logger zerolog.Logger, out Outcome, start time.Time, err error) Outcome {
	kind, ok := fault.KindOf(err)
	if !ok {
		kind = fault.KindTransform
	}
	out.Status = StatusFailed
	out.FailureKind = kind
	out.Err = err
	out.Error = err.Error()
	out.ElapsedMs = time.Since(start).Milliseconds()

	logger.Error().
		Err(err).
		Str("stage", string(out.Stage)).
		Str("kind", string(kind)).
		Msg("Image processing failed")
	return out
}

func (p *Processor) emitEventMetrics(out Outcome, n Notification, src, resized imaging.Properties) {
	rec := metrics.New(metricsNamespace).
		Dimension("Operation", "resize").
		Metric("ProcessingMs", float64(out.ElapsedMs), metrics.UnitMilliseconds).
		Metric("SourceBytes", float64(src.FileSize), metrics.UnitBytes).
		Metric("ResizedBytes", float64(resized.FileSize), metrics.UnitBytes).
		Property("key", n.Key).
		Property("status", string(out.Status))
	if pct := record.ReductionPercent(src.FileSize, resized.FileSize); pct != record.ReductionUnknown {
		rec.Metric("ReductionPercent", pct, metrics.UnitPercent)
	}
	rec.Flush()
}
