// Package main provides the Lambda entry point for the image upload API.
//
// It is the HTTP front door of the resize pipeline: images land in the
// source bucket, whose ObjectCreated notifications trigger the resize
// Lambda. Uploads never touch the pipeline directly.
//
// Security:
//   - Origin-verify middleware blocks direct API Gateway access (CloudFront-only)
//   - Filename validation against a safe character set, no path components
//   - Content-type allowlist restricted to formats the pipeline can re-encode
//   - Presigned URLs carry a content-length constraint to cap upload size
//
// Endpoints:
//
//	GET  /api/health      — health check (no auth required)
//	GET  /api/upload-url  — presigned S3 PUT URL for browser upload
//	POST /api/upload      — direct upload relayed through the Lambda (small files)
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/lambdaboot"
	"github.com/halapix/imgpipe/internal/logging"
	"github.com/halapix/imgpipe/internal/objectstore"
)

// --- Input Validation ---

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces, and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("filename contains invalid characters")
	}
	if !safeFilenameRegex.MatchString(name) {
		return fmt.Errorf("filename contains invalid characters; only alphanumeric, dots, hyphens, underscores, spaces, and parentheses allowed")
	}
	return nil
}

// allowedContentTypes is the upload allowlist. Only formats the resize
// pipeline can decode AND re-encode are accepted; webp is rejected here
// because the pipeline reads it but cannot write it back.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// maxUploadBytes caps both presigned uploads (via the content-length
// constraint) and direct uploads relayed through this Lambda.
const maxUploadBytes int64 = 10 * 1024 * 1024 // 10 MB

// AWS clients initialized at cold start.
var (
	s3Client           *s3.Client
	presigner          *s3.PresignClient
	sourceBucket       string
	originVerifySecret string
)

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	s3c := lambdaboot.InitS3(awsClients.Config)
	s3Client = s3c.Client
	presigner = s3c.Presigner

	srcParam := logging.EnvOrDefault("SOURCE_BUCKET_PARAM", "/imgpipe/prod/source-bucket")
	sourceBucket = lambdaboot.ResolveParam(awsClients.SSM, os.Getenv("SOURCE_BUCKET_NAME"), srcParam)

	originVerifySecret = os.Getenv("ORIGIN_VERIFY_SECRET")
	if originVerifySecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set — origin verification disabled")
	}

	lambdaboot.StartupLog("upload-lambda", initStart).
		S3Bucket("source", sourceBucket).
		SSMParam("sourceBucket", srcParam).
		Feature("originVerify", originVerifySecret != "").
		Log()
}

// withOriginVerify is middleware that rejects requests lacking the correct
// x-origin-verify header. CloudFront injects this header via a custom origin
// header, so direct API Gateway access is blocked.
func withOriginVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if originVerifySecret == "" {
			// Secret not configured — allow through (dev/initial deploy)
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-origin-verify") != originVerifySecret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/upload-url", handleUploadURL)
	mux.HandleFunc("/api/upload", handleDirectUpload)

	handler := withOriginVerify(mux)

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

// --- Health ---

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "imgpipe-upload",
	})
}

// --- Presigned Upload URL ---

// GET /api/upload-url?filename=...&contentType=...
// Returns a presigned S3 PUT URL so the browser can upload directly to
// the source bucket. The resulting ObjectCreated event triggers the
// resize pipeline without this Lambda touching the bytes.
func handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := r.URL.Query().Get("filename")
	contentType := r.URL.Query().Get("contentType")
	if filename == "" || contentType == "" {
		httpError(w, http.StatusBadRequest, "filename and contentType are required")
		return
	}

	filename = filepath.Base(filename) // strip directory components
	if err := validateFilename(filename); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !allowedContentTypes[contentType] {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type: %s", contentType))
		return
	}

	uploadURL, err := objectstore.PresignPut(r.Context(), presigner, sourceBucket, filename, contentType, maxUploadBytes, 15*time.Minute)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to generate upload URL", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"uploadUrl": uploadURL,
		"key":       filename,
	})
}

// --- Direct Upload ---

// POST /api/upload?filename=...
// Body: raw image bytes, Content-Type header set to the image type.
// For clients that cannot do a two-step presigned upload. Capped at
// maxUploadBytes since the whole body passes through Lambda memory.
func handleDirectUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		httpError(w, http.StatusBadRequest, "filename is required")
		return
	}
	filename = filepath.Base(filename)
	if err := validateFilename(filename); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !allowedContentTypes[contentType] {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type: %s", contentType))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes))
		return
	}
	if len(body) == 0 {
		httpError(w, http.StatusBadRequest, "empty upload body")
		return
	}

	_, err = s3Client.PutObject(r.Context(), &s3.PutObjectInput{
		Bucket:      &sourceBucket,
		Key:         &filename,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "upload failed", err.Error())
		return
	}

	log.Info().
		Str("key", filename).
		Str("contentType", contentType).
		Int("bytes", len(body)).
		Msg("Image uploaded to source bucket")

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"key":   filename,
		"bytes": len(body),
	})
}
