package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"gifconv/cluster"
	"gifconv/config"
	"gifconv/models"
	"gifconv/store"
)

// callbackPath is appended to the public base URL to form the status
// callback address handed to the worker.
const callbackPath = "/api/job-status"

// ConfigurationError reports required dispatch settings that are absent.
// It is raised before any network call and is never retried
// automatically; operators must fix the deployment.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "conversion service is not fully configured, missing: " + strings.Join(e.Missing, ", ")
}

// DispatchError reports that the cluster API rejected the job creation or
// was unreachable. The job record is left untouched; the caller decides
// whether to mark it failed and may submit a fresh job.
type DispatchError struct {
	JobID string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch job %s: %v", e.JobID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// JobCreator submits a job to the cluster. Implemented by
// *cluster.Client.
type JobCreator interface {
	CreateJob(ctx context.Context, params cluster.CreateJobParams) (string, error)
}

// Dispatcher submits conversion jobs to the cluster and records the
// resulting handle. It performs exactly one blocking creation request per
// job; retry and backoff are the caller's concern.
type Dispatcher struct {
	store   store.Store
	cluster JobCreator
	cfg     *config.Config
}

func NewDispatcher(jobStore store.Store, jobCreator JobCreator, cfg *config.Config) *Dispatcher {
	return &Dispatcher{store: jobStore, cluster: jobCreator, cfg: cfg}
}

// Dispatch submits the job to the cluster and, on success, marks the
// record running with the cluster job name. On failure the store is left
// untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID, sourceKey, targetKey, sourceSHA256 string) (string, error) {
	if missing := d.cfg.MissingDispatchSettings(); len(missing) > 0 {
		return "", &ConfigurationError{Missing: missing}
	}

	callbackURL := strings.TrimRight(d.cfg.PublicBaseURL, "/") + callbackPath

	log.Info().
		Str("job_id", jobID).
		Str("source_key", sourceKey).
		Str("target_key", targetKey).
		Str("callback_url", callbackURL).
		Msg("dispatching conversion job")

	jobName, err := d.cluster.CreateJob(ctx, cluster.CreateJobParams{
		JobID:           jobID,
		SourceKey:       sourceKey,
		TargetKey:       targetKey,
		SourceSHA256:    sourceSHA256,
		CallbackURL:     callbackURL,
		Image:           d.cfg.JobImage,
		ImagePullPolicy: d.cfg.JobImagePullPolicy,
		CPU:             d.cfg.JobCPU,
		Memory:          d.cfg.JobMemory,
		BackoffLimit:    d.cfg.JobBackoffLimit,
		TTLSeconds:      d.cfg.JobTTLSeconds,
		ServiceAccount:  d.cfg.ServiceAccount,
		ImagePullSecret: d.cfg.ImagePullSecret,
		ExtraEnv:        d.cfg.WorkerEnv(),
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("cluster job creation failed")
		return "", &DispatchError{JobID: jobID, Err: err}
	}

	running := models.StatusRunning
	if _, err := d.store.Update(ctx, jobID, store.Update{
		Status:         &running,
		ClusterJobName: &jobName,
	}); err != nil {
		// The cluster job exists but the record could not be marked
		// running. The poll channel will pick the job up once the record
		// is reachable again, so surface the store error as-is.
		return jobName, fmt.Errorf("job %s dispatched as %s but store update failed: %w", jobID, jobName, err)
	}

	log.Info().Str("job_id", jobID).Str("cluster_job", jobName).Msg("job running on cluster")
	return jobName, nil
}
