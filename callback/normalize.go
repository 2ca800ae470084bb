// Package callback resolves inbound status notifications of unconstrained
// shape into a canonical (job id, status) pair. Worker and cluster
// configurations nest these fields differently, so resolution is a
// breadth-first walk over the payload tree rather than a fixed schema.
package callback

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	"gifconv/models"
)

// ErrMalformedCallback indicates the payload's job id or status could not
// be resolved. The store is never touched for such payloads.
var ErrMalformedCallback = errors.New("callback payload lacks a resolvable job id or status")

// Notification is a resolved status callback.
type Notification struct {
	JobID  string
	Status models.Status

	// Optional companions, read from the payload's top level only.
	DownloadURL  string
	ErrorMessage string
	TargetKey    string
}

// wrapperKeys are envelope key names worth descending into when hunting
// for the job id or status.
var wrapperKeys = stringSet(
	"body", "data", "detail", "event", "message", "payload",
	"record", "records", "request", "response", "result",
)

// jobContextKeys mark subtrees that describe the job itself; a bare "id"
// inside one of these counts as the job id.
var jobContextKeys = stringSet(
	"job", "jobdata", "jobdetails", "jobinfo",
	"jobpayload", "jobrequest", "jobresponse",
)

var jobIDKeys = stringSet("jobid", "jobidentifier", "jobkey", "jobguid")

var statusKeys = stringSet(
	"status", "state", "phase",
	"jobstatus", "jobstate", "jobphase",
	"statuscode", "statusname",
	"jobresult", "resultstatus", "resultstate",
	"joboutcome", "outcome",
)

// statusSynonyms maps normalized status vocabulary onto the canonical
// statuses.
var statusSynonyms = map[string]models.Status{
	"pending":    models.StatusPending,
	"queue":      models.StatusPending,
	"queued":     models.StatusPending,
	"waiting":    models.StatusPending,
	"accepted":   models.StatusPending,
	"scheduling": models.StatusPending,

	"initializing": models.StatusRunning,
	"starting":     models.StatusRunning,
	"started":      models.StatusRunning,
	"running":      models.StatusRunning,
	"processing":   models.StatusRunning,
	"inprogress":   models.StatusRunning,
	"executing":    models.StatusRunning,
	"active":       models.StatusRunning,
	"jobrunning":   models.StatusRunning,
	"jobstarted":   models.StatusRunning,

	"failed":    models.StatusFailed,
	"failure":   models.StatusFailed,
	"error":     models.StatusFailed,
	"errored":   models.StatusFailed,
	"jobfailed": models.StatusFailed,
	"joberror":  models.StatusFailed,
	"timeout":   models.StatusFailed,
	"timedout":  models.StatusFailed,
	"cancelled": models.StatusFailed,
	"canceled":  models.StatusFailed,
	"aborted":   models.StatusFailed,

	"completed":    models.StatusCompleted,
	"complete":     models.StatusCompleted,
	"succeeded":    models.StatusCompleted,
	"success":      models.StatusCompleted,
	"successful":   models.StatusCompleted,
	"done":         models.StatusCompleted,
	"finished":     models.StatusCompleted,
	"jobsucceeded": models.StatusCompleted,
	"jobsuccess":   models.StatusCompleted,
	"jobcompleted": models.StatusCompleted,
	"jobfinished":  models.StatusCompleted,
}

// Resolve extracts the job id and canonical status from a decoded JSON
// payload of arbitrary shape, along with any top-level companion fields.
func Resolve(payload any) (Notification, error) {
	body, ok := payload.(map[string]any)
	if !ok {
		return Notification{}, ErrMalformedCallback
	}

	jobID, ok := resolveJobID(body)
	if !ok {
		return Notification{}, ErrMalformedCallback
	}

	status, ok := resolveStatus(body)
	if !ok {
		return Notification{}, ErrMalformedCallback
	}

	note := Notification{JobID: jobID, Status: status}
	if s, ok := body["downloadUrl"].(string); ok {
		note.DownloadURL = s
	}
	if s, ok := body["errorMessage"].(string); ok {
		note.ErrorMessage = s
	}
	if s, ok := body["targetKey"].(string); ok {
		note.TargetKey = s
	}

	return note, nil
}

// node is one traversal step: a value and the normalized key path that
// reached it.
type node struct {
	value any
	path  []string
}

// visit is called for every key/value entry encountered. match collects
// the value as a candidate; recurse allows descending into it.
type visit func(normalizedKey string, value any, parentPath []string) (match, recurse bool)

// traverse walks the payload breadth-first so shallow matches win,
// collecting candidate values. It only descends where the predicate
// allows, guards against cycles with an identity-based visited set, and
// never descends into scalars. Array elements are traversed without
// extending the path.
func traverse(source any, predicate visit) []any {
	var matches []any
	queue := []node{{value: source}}
	visited := make(map[uintptr]bool)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		switch value := current.value.(type) {
		case []any:
			if id, ok := identity(value); ok {
				if visited[id] {
					continue
				}
				visited[id] = true
			}
			for _, item := range value {
				queue = append(queue, node{value: item, path: current.path})
			}

		case map[string]any:
			if id, ok := identity(value); ok {
				if visited[id] {
					continue
				}
				visited[id] = true
			}
			for rawKey, child := range value {
				normalized := normalizeKey(rawKey)
				match, recurse := predicate(normalized, child, current.path)
				if match {
					matches = append(matches, child)
				}
				if recurse {
					childPath := append(append([]string(nil), current.path...), normalized)
					queue = append(queue, node{value: child, path: childPath})
				}
			}
		}
	}

	return matches
}

// identity returns a stable identity for maps and slices so cyclic
// payloads terminate.
func identity(value any) (uintptr, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

// normalizeKey lower-cases a key and strips everything but letters, so
// "Job_Status", "jobstatus", and "JOB-STATUS" compare equal.
func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func resolveJobID(body map[string]any) (string, bool) {
	candidates := traverse(body, func(key string, value any, parentPath []string) (bool, bool) {
		if jobIDKeys[key] {
			return true, false
		}

		if key == "id" && (len(parentPath) == 0 || anyJobContext(parentPath)) {
			return true, false
		}

		return false, wrapperKeys[key] || jobContextKeys[key] || strings.Contains(key, "job")
	})

	for _, candidate := range candidates {
		switch v := candidate.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v, true
			}
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}

	return "", false
}

func anyJobContext(path []string) bool {
	for _, segment := range path {
		if jobContextKeys[segment] || strings.Contains(segment, "job") {
			return true
		}
	}
	return false
}

func resolveStatus(body map[string]any) (models.Status, bool) {
	candidates := traverse(body, func(key string, value any, parentPath []string) (bool, bool) {
		if statusKeys[key] {
			return true, false
		}
		return false, wrapperKeys[key] || strings.Contains(key, "job")
	})

	for _, candidate := range candidates {
		if status, ok := normalizeStatus(candidate); ok {
			return status, true
		}
	}

	return "", false
}

// normalizeStatus coerces a candidate value to a canonical status. An
// object candidate is resolved through its own status/state/phase fields
// first.
func normalizeStatus(value any) (models.Status, bool) {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range []string{"status", "state", "phase"} {
			if nested, ok := v[key]; ok {
				if status, ok := normalizeStatus(nested); ok {
					return status, true
				}
			}
		}
		return "", false

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return normalizeStatus(strconv.FormatFloat(v, 'f', -1, 64))

	case string:
		collapsed := normalizeKey(v)
		if collapsed == "" {
			return "", false
		}
		status, ok := statusSynonyms[collapsed]
		return status, ok

	default:
		return "", false
	}
}

func stringSet(keys ...string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set
}
