package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gifconv/cluster"
	"gifconv/models"
	"gifconv/services"
	"gifconv/store"
)

// maxErrorMessageLen bounds the failure detail recorded from cluster
// conditions.
const maxErrorMessageLen = 500

// jobSyncTimeout bounds the work done for a single job in one cycle, so
// a hung cluster query or store write cannot stall the poll loop.
const jobSyncTimeout = 30 * time.Second

// ClusterAPI is the slice of the cluster client the syncer needs.
type ClusterAPI interface {
	FetchJobStatus(ctx context.Context, jobName string) (cluster.JobStatus, error)
}

// URLIssuer produces a time-boxed download URL for a completed job's
// output object.
type URLIssuer interface {
	SignedURL(key string) (string, error)
}

// Syncer is the poll channel: it queries the cluster job API for every
// live job and writes derived canonical statuses into the store. It races
// benignly with the callback channel; the store's terminal-state rule
// decides the winner.
type Syncer struct {
	store    store.Store
	cluster  ClusterAPI
	issuer   URLIssuer
	cache    *services.StatusCache
	interval time.Duration
}

func NewSyncer(jobStore store.Store, clusterAPI ClusterAPI, issuer URLIssuer, cache *services.StatusCache, interval time.Duration) *Syncer {
	return &Syncer{
		store:    jobStore,
		cluster:  clusterAPI,
		issuer:   issuer,
		cache:    cache,
		interval: interval,
	}
}

// Run polls on a fixed cadence until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("status synchronizer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("status synchronizer stopped")
			return
		case <-ticker.C:
			jobs, err := s.store.List(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to list jobs for reconciliation")
				continue
			}
			s.Reconcile(ctx, jobs)
		}
	}
}

// Reconcile queries the cluster for every unsettled job with a cluster
// handle, concurrently, and applies the derived updates. One job's
// failure never blocks the others; a partially reconciled batch is
// normal.
func (s *Syncer) Reconcile(ctx context.Context, jobs []models.JobRecord) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.ClusterJobName == "" || !needsReconcile(job) {
			continue
		}

		wg.Add(1)
		go func(job models.JobRecord) {
			defer wg.Done()
			s.reconcileJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

// needsReconcile reports whether a job still has poll-channel work left.
// Terminal jobs are settled, except a completed job whose download URL
// issuance failed earlier; that URL is retried until it sticks.
func needsReconcile(job models.JobRecord) bool {
	if !job.Status.Terminal() {
		return true
	}
	return job.Status == models.StatusCompleted && job.DownloadURL == ""
}

func (s *Syncer) reconcileJob(ctx context.Context, job models.JobRecord) {
	ctx, cancel := context.WithTimeout(ctx, jobSyncTimeout)
	defer cancel()

	// Already completed, only the download URL is outstanding; no need to
	// ask the cluster again.
	if job.Status == models.StatusCompleted {
		s.issueDownloadURL(ctx, job)
		return
	}

	clusterStatus, err := s.cluster.FetchJobStatus(ctx, job.ClusterJobName)
	if err != nil {
		log.Warn().Err(err).
			Str("job_id", job.ID).
			Str("cluster_job", job.ClusterJobName).
			Msg("failed to fetch cluster job status")
		return
	}

	status, errorMessage, changed := deriveStatus(job, clusterStatus)
	if !changed {
		return
	}

	upd := store.Update{Status: &status}
	if errorMessage != "" {
		upd.ErrorMessage = &errorMessage
	}

	if status == models.StatusCompleted && job.DownloadURL == "" {
		if url, err := s.issuer.SignedURL(job.TargetKey); err != nil {
			// Transient: the completion is still recorded and the URL is
			// retried on the next cycle.
			log.Error().Err(err).
				Str("job_id", job.ID).
				Str("target_key", job.TargetKey).
				Msg("failed to issue download url")
		} else {
			upd.DownloadURL = &url
		}
	}

	updated, err := s.store.Update(ctx, job.ID, upd)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to store reconciled status")
		return
	}

	s.cache.Record(ctx, job.ID, updated.Status, updated.ErrorMessage)

	log.Info().
		Str("job_id", job.ID).
		Str("cluster_job", job.ClusterJobName).
		Str("status", string(updated.Status)).
		Msg("job reconciled with cluster")
}

// issueDownloadURL issues and records the download URL for a completed
// job that does not have one yet.
func (s *Syncer) issueDownloadURL(ctx context.Context, job models.JobRecord) {
	url, err := s.issuer.SignedURL(job.TargetKey)
	if err != nil {
		log.Error().Err(err).
			Str("job_id", job.ID).
			Str("target_key", job.TargetKey).
			Msg("failed to issue download url")
		return
	}

	if _, err := s.store.Update(ctx, job.ID, store.Update{DownloadURL: &url}); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to store download url")
		return
	}

	log.Info().Str("job_id", job.ID).Msg("download url issued")
}

// deriveStatus maps cluster-native counters and conditions onto the
// canonical status. Success signals take precedence over failure signals,
// which take precedence over activity. A report with no signal leaves the
// record as is.
func deriveStatus(job models.JobRecord, clusterStatus cluster.JobStatus) (models.Status, string, bool) {
	_, complete := clusterStatus.Condition("Complete")
	if clusterStatus.Succeeded > 0 || complete {
		return models.StatusCompleted, "", true
	}

	if failedCond, failed := clusterStatus.Condition("Failed"); clusterStatus.Failed > 0 || failed {
		return models.StatusFailed, failureMessage(failedCond), true
	}

	if clusterStatus.Active > 0 {
		if job.Status == models.StatusRunning {
			return "", "", false
		}
		return models.StatusRunning, "", true
	}

	return "", "", false
}

// failureMessage joins a failed condition's reason and message, bounded
// to a fixed length.
func failureMessage(cond cluster.JobCondition) string {
	var parts []string
	if cond.Reason != "" {
		parts = append(parts, cond.Reason)
	}
	if cond.Message != "" {
		parts = append(parts, cond.Message)
	}
	if len(parts) == 0 {
		return ""
	}

	combined := parts[0]
	if len(parts) == 2 {
		combined = parts[0] + ": " + parts[1]
	}

	runes := []rune(combined)
	if len(runes) > maxErrorMessageLen {
		return string(runes[:maxErrorMessageLen-3]) + "..."
	}
	return combined
}
