package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidImage      = errors.New("invalid image")
	ErrMissingInput      = errors.New("missing input image")
	ErrInvalidSeed       = errors.New("invalid seed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUpload            = errors.New("engine upload failed")
	ErrSubmission        = errors.New("workflow submission failed")
	ErrRetrieval         = errors.New("result retrieval failed")
	ErrExecution         = errors.New("workflow execution failed")
	ErrTimeout           = errors.New("generation timed out")
	ErrPublication       = errors.New("publication failed")
	ErrEngineUnavailable = errors.New("engine unavailable")
)

// UpstreamError carries the status and body returned by a collaborator so the
// caller can surface them for diagnostics. Kind is one of the sentinel errors
// above and is matched by errors.Is.
type UpstreamError struct {
	Kind   error
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("upstream error")
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Upstream builds an UpstreamError for a non-success response.
func Upstream(kind error, status int, body []byte) *UpstreamError {
	return &UpstreamError{Kind: kind, Status: status, Body: TruncateBody(body)}
}

const maxBodyDetail = 2048

// TruncateBody trims an upstream body for inclusion in errors and logs.
func TruncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyDetail {
		return s[:maxBodyDetail] + "..."
	}
	return s
}
