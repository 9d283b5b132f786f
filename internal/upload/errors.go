package upload

import (
	"context"
	"errors"
	"net"
	"net/http"

	"relay/internal/apiclient"
	"relay/internal/services"
)

var (
	// ErrUnknownUpload reports an id that is not in the collection.
	ErrUnknownUpload = errors.New("unknown upload")
	// ErrNotCancellable reports a cancel of a finished or already cancelled upload.
	ErrNotCancellable = errors.New("upload is not cancellable")
	// ErrNotRetriable reports a retry of an upload that did not fail transiently.
	ErrNotRetriable = errors.New("upload is not retriable")
	// ErrStillActive reports a remove of an upload that is still running.
	ErrStillActive = errors.New("upload is still active")
)

// ErrorKind separates failures worth retrying from the rest.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
)

// UploadError is the classified failure shown to the user.
type UploadError struct {
	Kind      ErrorKind
	Message   string
	Retriable bool
}

func (e UploadError) Error() string { return e.Message }

// Classify maps a pipeline failure onto an UploadError. Network failures,
// timeouts, throttling and server errors are transient; validation, quota,
// conflict and other client errors are fatal.
func Classify(err error) UploadError {
	if err == nil {
		return UploadError{}
	}
	out := UploadError{Kind: KindFatal, Message: err.Error()}
	if transient(err) {
		out.Kind = KindTransient
		out.Retriable = true
	}
	return out
}

func transient(err error) bool {
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, services.ErrCancelled), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, services.ErrFatal), errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return false
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
