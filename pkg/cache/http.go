package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ValidatorTTL is how long a captured validator is kept when the response
// carries no usable Cache-Control/Expires hint.
const ValidatorTTL = 24 * time.Hour

// Validator holds what is needed to revalidate an upstream resource: its
// validators and the body they describe.
type Validator struct {
	ETag         string
	LastModified time.Time
	Body         []byte
	CapturedAt   time.Time
}

// ValidatorFromResponse captures the validators and body of a 200 response.
// The response body is restored so the caller can still read it.
func ValidatorFromResponse(resp *http.Response) (*Validator, error) {
	if resp == nil {
		return nil, errors.New("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	v := &Validator{
		ETag:       resp.Header.Get("ETag"),
		Body:       body,
		CapturedAt: time.Now(),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			v.LastModified = t
		}
	}
	return v, nil
}

// CanRevalidate reports whether the validator carries an ETag or Last-Modified.
func (v *Validator) CanRevalidate() bool {
	if v == nil {
		return false
	}
	return v.ETag != "" || !v.LastModified.IsZero()
}

// Apply adds If-None-Match (preferred) or If-Modified-Since to req.
func (v *Validator) Apply(req *http.Request) {
	if v == nil || req == nil {
		return
	}
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	} else if !v.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", v.LastModified.UTC().Format(http.TimeFormat))
	}
}
