// Package main provides the Lambda entry point for event-driven image
// resizing.
//
// This Lambda is triggered by S3 ObjectCreated events on the source
// bucket. For each uploaded image, it:
//
//  1. Downloads the object into invocation-local staging
//  2. Measures the source image (dimensions, format, color mode)
//  3. Resizes to the configured ratio (default 50%)
//  4. Uploads the result to the destination bucket, with both measured
//     property sets attached as object metadata
//  5. Persists an audit record to the DynamoDB record table
//  6. Reports one outcome per event in the batch
//
// Memory: 512 MB
// Timeout: 1 minute
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/config"
	"github.com/halapix/imgpipe/internal/lambdaboot"
	"github.com/halapix/imgpipe/internal/logging"
	"github.com/halapix/imgpipe/internal/objectstore"
	"github.com/halapix/imgpipe/internal/pipeline"
	"github.com/halapix/imgpipe/internal/staging"
)

var coldStart = true

// Pipeline processor initialized at cold start.
var processor *pipeline.Processor

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	awsClients := lambdaboot.InitAWS()
	destParam := logging.EnvOrDefault("DEST_BUCKET_PARAM", "/imgpipe/prod/dest-bucket")
	tableParam := logging.EnvOrDefault("RECORD_TABLE_PARAM", "/imgpipe/prod/record-table")
	cfg.DestinationBucket = lambdaboot.ResolveParam(awsClients.SSM, cfg.DestinationBucket, destParam)
	cfg.RecordTable = lambdaboot.ResolveParam(awsClients.SSM, cfg.RecordTable, tableParam)

	s3c := lambdaboot.InitS3(awsClients.Config)
	records := lambdaboot.InitRecordStore(awsClients.Config, cfg.RecordTable)
	processor = pipeline.New(*cfg, staging.New(cfg.StagingRoot), objectstore.NewS3(s3c.Client), records)

	lambdaboot.StartupLog("resize-lambda", initStart).
		S3Bucket("destination", cfg.DestinationBucket).
		DynamoTable("records", cfg.RecordTable).
		SSMParam("destBucket", destParam).
		SSMParam("recordTable", tableParam).
		Config("resizeRatio", fmt.Sprintf("%g", cfg.ResizeRatio)).
		Config("destKeyPrefix", cfg.DestinationPrefix).
		Log()
}

func main() {
	lambda.Start(handler)
}

// handler processes one S3 event batch. It returns an error only when
// an event failed on the execution environment itself, where a
// redelivery might land on a healthy instance. Per-object failures
// (corrupt images, missing objects) are reported in the batch result
// instead, because redelivering those would fail identically forever.
func handler(ctx context.Context, s3Event events.S3Event) (pipeline.BatchResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "resize-lambda").Msg("Cold start — first invocation")
	}

	log.Info().Int("records", len(s3Event.Records)).Msg("Processing event batch")
	batch := processor.Process(ctx, s3Event)

	log.Info().
		Int("succeeded", batch.Succeeded).
		Int("partial", batch.Partial).
		Int("failed", batch.Failed).
		Msg("Event batch complete")

	if rf := batch.ResourceFailure(); rf != nil {
		return batch, fmt.Errorf("processing %s/%s hit an environment failure: %w", rf.Bucket, rf.Key, rf.Err)
	}
	return batch, nil
}
