package cluster

import (
	"net/http"
	"strings"
	"testing"
)

var testCreds = Credentials{AccessKey: "test-access-key", SecretKey: "test-secret-key"}

func newSignableRequest(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-Project-Id", "project-123")
	req.Header.Set(DateHeader, "20240102T150405Z")
	return req
}

func TestSignRequestMatchesKnownVector(t *testing.T) {
	t.Parallel()

	req := newSignableRequest(t, http.MethodGet,
		"https://cci.example.com/apis/batch/v1/namespaces/default/jobs/gifconv-demo")

	if err := SignRequest(req, nil, testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	want := "SDK-HMAC-SHA256 Access=test-access-key, " +
		"SignedHeaders=host;x-project-id;x-sdk-date, " +
		"Signature=380503f1da2a1f3d3c94c9497f6b146870d4cc57b2e4b54512ab58a34fc3beb3"
	if got := req.Header.Get("Authorization"); got != want {
		t.Fatalf("authorization mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSignRequestWithBodyAndQueryMatchesKnownVector(t *testing.T) {
	t.Parallel()

	// Query parameters arrive unsorted; canonicalization must sort them.
	req := newSignableRequest(t, http.MethodPost,
		"https://cci.example.com/apis/batch/v1/namespaces/default/jobs/gifconv-demo?pretty=true&fieldManager=gifconv")
	req.Header.Set("Content-Type", "application/json")

	if err := SignRequest(req, []byte(`{"kind":"Job"}`), testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	want := "SDK-HMAC-SHA256 Access=test-access-key, " +
		"SignedHeaders=content-type;host;x-project-id;x-sdk-date, " +
		"Signature=72a458162c2dd1caeff67e720afde77cee4adcc1f55e73a178185adc23febcc4"
	if got := req.Header.Get("Authorization"); got != want {
		t.Fatalf("authorization mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSignRequestIsDeterministic(t *testing.T) {
	t.Parallel()

	first := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/team%20a/jobs")
	second := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/team%20a/jobs")

	if err := SignRequest(first, nil, testCreds); err != nil {
		t.Fatalf("first signing failed: %v", err)
	}
	if err := SignRequest(second, nil, testCreds); err != nil {
		t.Fatalf("second signing failed: %v", err)
	}

	if first.Header.Get("Authorization") != second.Header.Get("Authorization") {
		t.Fatal("identical inputs produced different authorizations")
	}
}

func TestSignRequestIsSensitiveToHeaderValues(t *testing.T) {
	t.Parallel()

	base := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs")
	changed := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs")
	changed.Header.Set("X-Project-Id", "project-456")

	if err := SignRequest(base, nil, testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if err := SignRequest(changed, nil, testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	if base.Header.Get("Authorization") == changed.Header.Get("Authorization") {
		t.Fatal("changing a signed header value did not change the signature")
	}
}

func TestSignRequestCollapsesHeaderWhitespace(t *testing.T) {
	t.Parallel()

	messy := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs")
	messy.Header.Set("X-Project-Id", "  project   123  ")
	clean := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs")
	clean.Header.Set("X-Project-Id", "project 123")

	if err := SignRequest(messy, nil, testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if err := SignRequest(clean, nil, testCreds); err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	if messy.Header.Get("Authorization") != clean.Header.Get("Authorization") {
		t.Fatal("whitespace collapsing changed the signature")
	}
}

func TestSignRequestRequiresDateHeader(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	if err := SignRequest(req, nil, testCreds); err != ErrMissingDateHeader {
		t.Fatalf("expected ErrMissingDateHeader, got %v", err)
	}
}

func TestSignRequestRequiresCredentials(t *testing.T) {
	t.Parallel()

	req := newSignableRequest(t, http.MethodGet, "https://cci.example.com/apis/batch/v1/namespaces/default/jobs")
	if err := SignRequest(req, nil, Credentials{AccessKey: "only-access"}); err != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestCanonicalPathEscapesSegmentsIndividually(t *testing.T) {
	t.Parallel()

	got := canonicalPath("/apis/batch/v1/namespaces/team a/jobs/job*1")
	want := "/apis/batch/v1/namespaces/team%20a/jobs/job%2A1"
	if got != want {
		t.Fatalf("canonical path mismatch: got %s want %s", got, want)
	}
	if strings.Contains(got, "%2F") {
		t.Fatal("path separators must not be encoded")
	}
}
