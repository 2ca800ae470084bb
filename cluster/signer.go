package cluster

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	signAlgorithm = "SDK-HMAC-SHA256"

	// DateHeader carries the signing timestamp. It is part of the signed
	// header set; a request without it cannot be signed.
	DateHeader = "X-Sdk-Date"

	// DateFormat is the compact UTC layout of DateHeader values.
	DateFormat = "20060102T150405Z"
)

var (
	// ErrMissingCredentials indicates the access or secret key is empty at
	// signing time. This is a programming/configuration error, never
	// skipped silently.
	ErrMissingCredentials = errors.New("signing credentials are not configured")

	// ErrMissingDateHeader indicates the request lacks the mandatory
	// X-Sdk-Date header.
	ErrMissingDateHeader = errors.New("x-sdk-date header is required for signing")
)

// Credentials holds the access/secret key pair used to sign cluster API
// requests.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// SignRequest computes the SDK-HMAC-SHA256 authorization for req and sets
// its Authorization header. payload must be the exact request body bytes
// (nil for bodyless requests). The result is deterministic given the
// method, URL, headers, payload, and credentials, so signatures can be
// verified without a network.
//
// Every header already present on the request (plus Host) becomes part of
// the signed set; callers must set X-Sdk-Date before signing.
func SignRequest(req *http.Request, payload []byte, creds Credentials) error {
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return ErrMissingCredentials
	}

	date := req.Header.Get(DateHeader)
	if date == "" {
		return ErrMissingDateHeader
	}

	headers := make(map[string]string, len(req.Header)+1)
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		canonical := make([]string, len(values))
		for i, value := range values {
			canonical[i] = collapseSpace(value)
		}
		headers[lower] = strings.Join(canonical, ",")
	}

	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	if _, ok := headers["host"]; !ok && host != "" {
		headers["host"] = collapseSpace(host)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = name + ":" + headers[name]
	}
	canonicalHeaders := strings.Join(lines, "\n")
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(req.Method),
		canonicalPath(req.URL.Path),
		canonicalQuery(req.URL.Query()),
		canonicalHeaders + "\n",
		signedHeaders,
		hexSHA256(payload),
	}, "\n")

	stringToSign := signAlgorithm + "\n" + date + "\n" + hexSHA256([]byte(canonicalRequest))
	signature := hexHMACSHA256([]byte(creds.SecretKey), stringToSign)

	req.Header.Set("Authorization", fmt.Sprintf("%s Access=%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, creds.AccessKey, signedHeaders, signature))
	return nil
}

// canonicalPath percent-encodes each path segment per RFC 3986,
// preserving the / separators.
func canonicalPath(path string) string {
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = escapeRFC3986(segment)
	}
	return strings.Join(segments, "/")
}

// canonicalQuery sorts the query parameters and percent-encodes both keys
// and values.
func canonicalQuery(query map[string][]string) string {
	type pair struct{ key, value string }

	var pairs []pair
	for key, values := range query {
		for _, value := range values {
			pairs = append(pairs, pair{key, value})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = escapeRFC3986(p.key) + "=" + escapeRFC3986(p.value)
	}
	return strings.Join(parts, "&")
}

// escapeRFC3986 percent-encodes every byte outside the RFC 3986
// unreserved set, using upper-case hex digits.
func escapeRFC3986(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// collapseSpace trims a header value and collapses internal whitespace
// runs to a single space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexHMACSHA256(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
