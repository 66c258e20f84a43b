package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestValidatorFromResponse(t *testing.T) {
	lastMod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Etag":          []string{`W/"abc123"`},
			"Last-Modified": []string{lastMod.Format(http.TimeFormat)},
		},
		Body: io.NopCloser(bytes.NewReader([]byte(`{"login":"octocat"}`))),
	}

	v, err := ValidatorFromResponse(resp)
	if err != nil {
		t.Fatalf("ValidatorFromResponse() error = %v", err)
	}
	if v.ETag != `W/"abc123"` {
		t.Errorf("ETag = %q", v.ETag)
	}
	if !v.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", v.LastModified, lastMod)
	}
	if string(v.Body) != `{"login":"octocat"}` {
		t.Errorf("Body = %q", v.Body)
	}

	restored, _ := io.ReadAll(resp.Body)
	if string(restored) != `{"login":"octocat"}` {
		t.Errorf("response body not restored, got %q", restored)
	}
}

func TestValidatorFromResponse_Nil(t *testing.T) {
	if _, err := ValidatorFromResponse(nil); err == nil {
		t.Error("expected error for nil response")
	}
}

func TestValidator_Apply(t *testing.T) {
	lastMod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		v             *Validator
		wantRevalid   bool
		wantNoneMatch string
		wantModSince  string
	}{
		{
			name:          "etag preferred",
			v:             &Validator{ETag: `"e1"`, LastModified: lastMod},
			wantRevalid:   true,
			wantNoneMatch: `"e1"`,
		},
		{
			name:         "last-modified only",
			v:            &Validator{LastModified: lastMod},
			wantRevalid:  true,
			wantModSince: lastMod.Format(http.TimeFormat),
		},
		{
			name: "no validators",
			v:    &Validator{Body: []byte("x")},
		},
		{
			name: "nil validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.CanRevalidate(); got != tt.wantRevalid {
				t.Errorf("CanRevalidate() = %v, want %v", got, tt.wantRevalid)
			}

			req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/users/octocat", nil)
			tt.v.Apply(req)

			if got := req.Header.Get("If-None-Match"); got != tt.wantNoneMatch {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantNoneMatch)
			}
			if got := req.Header.Get("If-Modified-Since"); got != tt.wantModSince {
				t.Errorf("If-Modified-Since = %q, want %q", got, tt.wantModSince)
			}
		})
	}
}
