package store

import (
	"context"
	"errors"

	"gifconv/models"
)

// ErrDuplicateJob is returned by Create when the id is already present.
// Callers generate ids; a collision indicates a caller bug.
var ErrDuplicateJob = errors.New("job id already exists")

// ErrUnknownJob is returned by Update for an id that was never created.
var ErrUnknownJob = errors.New("job not found")

// Update is a partial merge against an existing record. Nil fields are
// left untouched.
type Update struct {
	Status         *models.Status
	ClusterJobName *string
	DownloadURL    *string
	ErrorMessage   *string
}

// Store is the shared job record store. It is written concurrently by the
// dispatcher, the poll-channel syncer, and the callback handler; every
// implementation must apply Update atomically per record.
type Store interface {
	Create(ctx context.Context, record models.JobRecord) error
	Update(ctx context.Context, id string, upd Update) (models.JobRecord, error)
	List(ctx context.Context) ([]models.JobRecord, error)
}

// merge applies upd to current under the store invariants:
//
//   - status is monotone and terminal states are immutable; a write that
//     would move status backwards (or off a terminal state) is dropped,
//     not rejected, so a late duplicate from the other channel is harmless
//   - downloadUrl is only set on a completed record, and only once
//   - errorMessage is only set on a failed record, and only once
//   - clusterJobName is bookkeeping and always merges
//
// Both store implementations share this so their semantics cannot drift.
func merge(current models.JobRecord, upd Update) models.JobRecord {
	next := current

	if upd.ClusterJobName != nil {
		next.ClusterJobName = *upd.ClusterJobName
	}

	if upd.Status != nil && current.Status.CanAdvanceTo(*upd.Status) {
		next.Status = *upd.Status
	}

	if upd.DownloadURL != nil && next.Status == models.StatusCompleted && current.DownloadURL == "" {
		next.DownloadURL = *upd.DownloadURL
	}

	if upd.ErrorMessage != nil && next.Status == models.StatusFailed && current.ErrorMessage == "" {
		next.ErrorMessage = *upd.ErrorMessage
	}

	return next
}
