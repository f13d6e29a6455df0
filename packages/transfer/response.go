package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

// Backend names the engine that served a response.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendFallback Backend = "fallback"
)

// Response is the result of a completed transfer. Exactly one of Body and
// BodyFile carries the payload: BodyFile is set when the body crossed the
// memory threshold and was spilled to disk. The caller owns the spill file
// and should call Remove when done with it.
type Response struct {
	StatusCode int
	Status     string
	// Headers holds each header name as received, with repeated headers
	// joined by ", ". Both backends read headers through net/http, which
	// canonicalizes names, so a server's x-request-ID arrives as
	// X-Request-Id.
	Headers    map[string]string
	Body       []byte
	BodyFile   string
	Duration   time.Duration
	Size       int64
	Timing     timing.Breakdown
	Backend    Backend
}

// IsSpilled reports whether the body lives in BodyFile.
func (r *Response) IsSpilled() bool {
	return r.BodyFile != ""
}

// ReadBody returns the body regardless of where it is stored.
func (r *Response) ReadBody() ([]byte, error) {
	if !r.IsSpilled() {
		return r.Body, nil
	}
	return os.ReadFile(r.BodyFile)
}

// Open returns a reader over the body.
func (r *Response) Open() (io.ReadCloser, error) {
	if !r.IsSpilled() {
		return io.NopCloser(bytes.NewReader(r.Body)), nil
	}
	return os.Open(r.BodyFile)
}

// Remove deletes the spill file, if any. It is safe to call more than once.
func (r *Response) Remove() error {
	if !r.IsSpilled() {
		return nil
	}
	if err := os.Remove(r.BodyFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (r *Response) BodyString() string {
	body, err := r.ReadBody()
	if err != nil {
		return ""
	}
	return string(body)
}

func (r *Response) BodyJSON() (any, error) {
	body, err := r.ReadBody()
	if err != nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Query evaluates a gjson path against the body.
func (r *Response) Query(path string) (gjson.Result, error) {
	body, err := r.ReadBody()
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("response body is not valid JSON")
	}
	return gjson.GetBytes(body, path), nil
}

func (r *Response) Header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	ct := r.ContentType()
	return strings.Contains(ct, "application/json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

func (r *Response) DurationSeconds() float64 {
	return r.Duration.Seconds()
}
