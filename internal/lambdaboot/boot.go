// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3,
// DynamoDB, SSM parameter resolution, and startup logging. This package
// extracts the common init patterns so each Lambda's init() is a short
// composition of helpers.
package lambdaboot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/logging"
	"github.com/halapix/imgpipe/internal/record"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds the S3 client and its presigner.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and presigner. Bucket names are resolved
// separately because each Lambda sources them differently.
func InitS3(cfg aws.Config) S3Clients {
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
	}
}

// InitRecordStore creates a DynamoDB record store on the given table.
// Fatals if the table name is empty.
func InitRecordStore(cfg aws.Config, table string) *record.DynamoStore {
	if table == "" {
		log.Fatal().Msg("Record table name is required")
	}
	return record.NewDynamo(dynamodb.NewFromConfig(cfg), table)
}

// ResolveParam returns value if non-empty, otherwise fetches the named
// SSM parameter. Fatals if the SSM read fails, since a half-configured
// Lambda should not start.
func ResolveParam(ssmClient *ssm.Client, value, paramName string) string {
	if value != "" {
		return value
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read parameter from SSM")
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Parameter loaded from SSM")
	return *result.Parameter.Value
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
