// Package fault classifies pipeline errors by the kind of failure that
// produced them. The classification drives three decisions downstream:
// whether a step is worth retrying, whether an event can fail on its own
// without touching the rest of the batch, and whether the whole
// invocation must be surfaced to the runtime as failed.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of a pipeline error.
type Kind string

// Failure classes, in rough pipeline order.
const (
	// KindMalformedEvent marks notifications that cannot identify an object.
	KindMalformedEvent Kind = "MalformedEventError"
	// KindFetch marks failures downloading the source object.
	KindFetch Kind = "FetchError"
	// KindDecode marks unreadable or corrupt image content.
	KindDecode Kind = "DecodeError"
	// KindTransform marks failures applying the resize itself.
	KindTransform Kind = "TransformError"
	// KindEncode marks failures writing the output encoding.
	KindEncode Kind = "EncodeError"
	// KindUpload marks failures storing the resized object.
	KindUpload Kind = "UploadError"
	// KindPersist marks failures writing the metadata record.
	KindPersist Kind = "PersistError"
	// KindResource marks local exhaustion: disk, memory, pixel budget.
	KindResource Kind = "ResourceError"
)

// Retryable reports whether failures of this kind are transient enough
// to try again. Only the remote I/O kinds qualify: a decode or encode
// failure is deterministic and a retry would just reproduce it.
func (k Kind) Retryable() bool {
	switch k {
	case KindFetch, KindUpload, KindPersist:
		return true
	}
	return false
}

// Error pairs an underlying error with its failure Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a format string.
// The format accepts %w like fmt.Errorf.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err, returning nil when err is nil. An error that
// already carries a Kind keeps it: the classification closest to the
// failure wins.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the Kind carried by err, searching the wrap chain.
// The second return is false for unclassified errors.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
