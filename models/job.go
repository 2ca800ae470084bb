package models

import "time"

// Status is the canonical lifecycle state of a conversion job. These are
// the only values the job store understands; cluster-native and
// callback-native vocabularies are mapped onto them before any write.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// statusRank orders statuses for the monotonicity check. The two terminal
// states share a rank; ties never advance because terminal states are
// checked first.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusFailed:    2,
	StatusCompleted: 2,
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s is a final state. Terminal statuses are
// immutable: the first channel (poll or callback) to record one wins.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// CanAdvanceTo reports whether a transition from s to next is allowed.
// Status only ever moves forward (pending -> running -> failed/completed);
// a terminal status never changes.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

// JobRecord is the authoritative record of a single conversion job.
type JobRecord struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	SourceKey      string    `json:"sourceKey"`
	TargetKey      string    `json:"targetKey"`
	SourceSHA256   string    `json:"sourceSha256,omitempty"`
	ClusterJobName string    `json:"clusterJobName,omitempty"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
