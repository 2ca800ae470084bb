package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const jobNamePrefix = "gifconv-"

// maxJobNameSuffix bounds the sanitized job id portion of a cluster job
// name so the full name stays within cluster naming limits.
const maxJobNameSuffix = 50

// Config identifies the cluster job API and the credentials used to sign
// every request to it.
type Config struct {
	// Endpoint is the API base URL, e.g. https://cci.region.example.com.
	Endpoint  string
	ProjectID string
	Namespace string
	UserAgent string

	Credentials Credentials
}

// Client talks to the cluster's batch job API. All requests are signed;
// the HTTP transport is injectable for tests.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: 0, // Use context timeout instead
		},
		now: time.Now,
	}
}

// CreateJobParams describes a single conversion job submission.
type CreateJobParams struct {
	JobID        string
	SourceKey    string
	TargetKey    string
	SourceSHA256 string
	CallbackURL  string

	Image           string
	ImagePullPolicy string
	CPU             string
	Memory          string
	BackoffLimit    int
	TTLSeconds      int
	ServiceAccount  string
	ImagePullSecret string

	// ExtraEnv is passed to the worker container verbatim, typically
	// object-store credentials so it can read and write artifacts.
	ExtraEnv map[string]string
}

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resourceList struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

type container struct {
	Name            string   `json:"name"`
	Image           string   `json:"image"`
	ImagePullPolicy string   `json:"imagePullPolicy"`
	Env             []envVar `json:"env"`
	Resources       struct {
		Requests resourceList `json:"requests"`
		Limits   resourceList `json:"limits"`
	} `json:"resources"`
}

type nameRef struct {
	Name string `json:"name"`
}

type podSpec struct {
	RestartPolicy      string      `json:"restartPolicy"`
	ServiceAccountName string      `json:"serviceAccountName,omitempty"`
	ImagePullSecrets   []nameRef   `json:"imagePullSecrets,omitempty"`
	Containers         []container `json:"containers"`
}

type objectMeta struct {
	Name   string            `json:"name,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

type jobManifest struct {
	APIVersion string     `json:"apiVersion"`
	Kind       string     `json:"kind"`
	Metadata   objectMeta `json:"metadata"`
	Spec       struct {
		BackoffLimit            int  `json:"backoffLimit"`
		TTLSecondsAfterFinished *int `json:"ttlSecondsAfterFinished,omitempty"`
		Template                struct {
			Metadata objectMeta `json:"metadata"`
			Spec     podSpec    `json:"spec"`
		} `json:"template"`
	} `json:"spec"`
}

// JobName derives the deterministic cluster job name for a job id:
// lower-cased, anything outside [a-z0-9-] replaced with a hyphen,
// truncated, and namespaced with a fixed prefix so unrelated systems
// cannot collide.
func JobName(jobID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.ToLower(jobID))

	if len(sanitized) > maxJobNameSuffix {
		sanitized = sanitized[:maxJobNameSuffix]
	}
	return jobNamePrefix + sanitized
}

// CreateJob submits a conversion job to the cluster and returns the
// cluster-side job name. Jobs are never restarted by the cluster;
// failure handling belongs to this service.
func (c *Client) CreateJob(ctx context.Context, params CreateJobParams) (string, error) {
	jobName := JobName(params.JobID)

	manifest := jobManifest{
		APIVersion: "batch/v1",
		Kind:       "Job",
		Metadata: objectMeta{
			Name: jobName,
			Labels: map[string]string{
				"app.kubernetes.io/name":      "gifconv-converter",
				"app.kubernetes.io/component": "converter-job",
				"gifconv/job-id":              params.JobID,
			},
		},
	}
	manifest.Spec.BackoffLimit = params.BackoffLimit
	if params.TTLSeconds > 0 {
		ttl := params.TTLSeconds
		manifest.Spec.TTLSecondsAfterFinished = &ttl
	}
	manifest.Spec.Template.Metadata = objectMeta{
		Labels: map[string]string{
			"app.kubernetes.io/name": "gifconv-converter",
			"gifconv/job-id":         params.JobID,
		},
	}

	pullPolicy := params.ImagePullPolicy
	if pullPolicy == "" {
		pullPolicy = "Always"
	}

	worker := container{
		Name:            "converter",
		Image:           params.Image,
		ImagePullPolicy: pullPolicy,
		Env:             buildEnv(params),
	}
	worker.Resources.Requests = resourceList{CPU: params.CPU, Memory: params.Memory}
	worker.Resources.Limits = resourceList{CPU: params.CPU, Memory: params.Memory}

	manifest.Spec.Template.Spec = podSpec{
		RestartPolicy:      "Never",
		ServiceAccountName: params.ServiceAccount,
		Containers:         []container{worker},
	}
	if params.ImagePullSecret != "" {
		manifest.Spec.Template.Spec.ImagePullSecrets = []nameRef{{Name: params.ImagePullSecret}}
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to encode job manifest: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.jobsPath(), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cluster job creation failed: %d %s - %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), string(text))
	}
	io.Copy(io.Discard, resp.Body)

	return jobName, nil
}

// JobStatus is the cluster-native status of a job: counters plus
// conditions, as reported by the batch API.
type JobStatus struct {
	Active     int            `json:"active"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Conditions []JobCondition `json:"conditions"`
}

type JobCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Condition returns the condition of the given type if it is currently
// true.
func (s JobStatus) Condition(condType string) (JobCondition, bool) {
	for _, cond := range s.Conditions {
		if cond.Type == condType && cond.Status == "True" {
			return cond, true
		}
	}
	return JobCondition{}, false
}

// FetchJobStatus queries the cluster for the named job's status.
func (c *Client) FetchJobStatus(ctx context.Context, jobName string) (JobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.jobsPath()+"/"+url.PathEscape(jobName), nil)
	if err != nil {
		return JobStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		return JobStatus{}, fmt.Errorf("cluster job status query failed: %d %s - %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), string(text))
	}

	var decoded struct {
		Status JobStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return JobStatus{}, fmt.Errorf("failed to decode job status: %w", err)
	}

	return decoded.Status, nil
}

func (c *Client) jobsPath() string {
	return "/apis/batch/v1/namespaces/" + url.PathEscape(c.cfg.Namespace) + "/jobs"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Project-Id", c.cfg.ProjectID)
	req.Header.Set(DateHeader, c.now().UTC().Format(DateFormat))
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	if err := SignRequest(req, body, c.cfg.Credentials); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cluster request failed: %w", err)
	}
	return resp, nil
}

// buildEnv assembles the worker container environment: job identity and
// artifact keys first, then any object-store passthrough in a stable
// order so manifests are deterministic.
func buildEnv(params CreateJobParams) []envVar {
	env := []envVar{
		{Name: "JOB_ID", Value: params.JobID},
		{Name: "SOURCE_OBJECT_KEY", Value: params.SourceKey},
		{Name: "TARGET_OBJECT_KEY", Value: params.TargetKey},
		{Name: "CALLBACK_URL", Value: params.CallbackURL},
	}
	if params.SourceSHA256 != "" {
		env = append(env, envVar{Name: "SOURCE_SHA256", Value: params.SourceSHA256})
	}

	names := make([]string, 0, len(params.ExtraEnv))
	for name := range params.ExtraEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if value := params.ExtraEnv[name]; value != "" {
			env = append(env, envVar{Name: name, Value: value})
		}
	}

	return env
}
