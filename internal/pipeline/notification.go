package pipeline

import (
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/halapix/imgpipe/internal/fault"
)

// Notification is one normalized object-created event, decoded and
// validated before any processing starts.
type Notification struct {
	SourceBucket string
	Key          string
	EventName    string
	EventSource  string
	Region       string
	EventVersion string
	EventTime    time.Time

	// ObjectSize is the size the notification reported, or negative
	// when the trigger did not carry one.
	ObjectSize int64
}

// FromRecord normalizes a raw S3 event record. Object keys arrive
// URL-encoded with spaces as plus signs, so the key is decoded here
// exactly once. A record without a bucket or key is rejected outright.
func FromRecord(rec events.S3EventRecord) (Notification, error) {
	bucket := rec.S3.Bucket.Name
	rawKey := rec.S3.Object.Key
	if bucket == "" || rawKey == "" {
		return Notification{}, fault.New(fault.KindMalformedEvent,
			"record missing bucket or key (bucket=%q, key=%q)", bucket, rawKey)
	}

	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		return Notification{}, fault.New(fault.KindMalformedEvent, "decode object key %q: %w", rawKey, err)
	}

	return Notification{
		SourceBucket: bucket,
		Key:          key,
		EventName:    rec.EventName,
		EventSource:  rec.EventSource,
		Region:       rec.AWSRegion,
		EventVersion: rec.EventVersion,
		EventTime:    rec.EventTime,
		ObjectSize:   rec.S3.Object.Size,
	}, nil
}
