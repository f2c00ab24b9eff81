package pipeline

import "github.com/halapix/imgpipe/internal/fault"

// Status classifies the final result of one notification.
type Status string

const (
	StatusSucceeded Status = "succeeded"

	// StatusPartial means the destination object was uploaded but the
	// record was not persisted. The orphaned object stays visible to
	// operators instead of being reported as a full success.
	StatusPartial Status = "partial"

	StatusFailed Status = "failed"
)

// Stage names the furthest pipeline step a notification completed.
type Stage string

const (
	StageReceived        Stage = "received"
	StageStaged          Stage = "staged"
	StageDownloaded      Stage = "downloaded"
	StageSourceMeasured  Stage = "source_measured"
	StageResized         Stage = "resized"
	StageResizedMeasured Stage = "resized_measured"
	StageUploaded        Stage = "uploaded"
	StageRecordPersisted Stage = "record_persisted"
)

// Outcome reports how far one notification got and how it ended.
type Outcome struct {
	Bucket      string     `json:"bucket"`
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	Stage       Stage      `json:"stage"`
	FailureKind fault.Kind `json:"failureKind,omitempty"`
	DestBucket  string     `json:"destBucket,omitempty"`
	DestKey     string     `json:"destKey,omitempty"`
	RecordID    string     `json:"recordId,omitempty"`
	ElapsedMs   int64      `json:"elapsedMs"`

	// Err carries the underlying failure for callers; Error is its
	// string form for serialized output.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// BatchResult aggregates one Outcome per record in an invocation.
type BatchResult struct {
	Outcomes  []Outcome `json:"outcomes"`
	Succeeded int       `json:"succeeded"`
	Partial   int       `json:"partial"`
	Failed    int       `json:"failed"`
}

func (b *BatchResult) add(o Outcome) {
	b.Outcomes = append(b.Outcomes, o)
	switch o.Status {
	case StatusSucceeded:
		b.Succeeded++
	case StatusPartial:
		b.Partial++
	default:
		b.Failed++
	}
}

// ResourceFailure returns the first outcome that failed on the
// execution environment itself (staging disk, memory budget), or nil
// when none did. These are the only failures worth surfacing to the
// invoker, since redelivering the batch may land on a healthy
// environment.
func (b *BatchResult) ResourceFailure() *Outcome {
	for i := range b.Outcomes {
		if b.Outcomes[i].Status == StatusFailed && b.Outcomes[i].FailureKind == fault.KindResource {
			return &b.Outcomes[i]
		}
	}
	return nil
}
