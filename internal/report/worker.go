// Package report renders diagnostic datasets over a finished build and
// archives them as immutable blob artifacts. Jobs run on a single
// background worker and stay queryable until the worker stops.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"foodcore/internal/blob"
)

// Status is the lifecycle stage of a report job.
type Status string

// Job statuses in transition order.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Artifact points at one stored rendering of a finished job.
type Artifact struct {
	Key         string `json:"key"`
	Format      Format `json:"format"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Rows        int    `json:"rows"`
}

// Job tracks one report request through the worker.
type Job struct {
	ID          string            `json:"id"`
	Template    string            `json:"template"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Formats     []Format          `json:"formats"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Artifacts   []Artifact        `json:"artifacts,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (j Job) copy() Job {
	dup := j
	dup.Parameters = cloneParams(j.Parameters)
	dup.Formats = append([]Format(nil), j.Formats...)
	if len(j.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), j.Artifacts...)
	}
	return dup
}

// Input is an enqueue request. Empty Formats means JSON plus CSV.
type Input struct {
	Template   string
	Parameters map[string]string
	Formats    []Format
}

// AuditEntry records one job status transition.
type AuditEntry struct {
	JobID      string    `json:"job_id"`
	Template   string    `json:"template"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger receives one entry per job status transition.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// SlogAudit writes audit entries to a structured logger.
type SlogAudit struct {
	Logger *slog.Logger
}

// Record implements AuditLogger.
func (a SlogAudit) Record(ctx context.Context, entry AuditEntry) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "report job",
		slog.String("job_id", entry.JobID),
		slog.String("template", entry.Template),
		slog.String("status", string(entry.Status)),
		slog.String("detail", entry.Detail),
	)
}

// Worker renders report jobs in the background over one build's results.
type Worker struct {
	source Source
	store  blob.Store
	audit  AuditLogger

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a report worker. The store may be nil, in which
// case artifacts are rendered but not archived.
func NewWorker(src Source, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: src,
		store:  store,
		audit:  audit,
		queue:  make(chan string, 16),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the loop to exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue registers a pending job and schedules it. The returned snapshot
// carries the job ID used by Job and Wait.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Job, error) {
	name := strings.TrimSpace(input.Template)
	if name == "" {
		return Job{}, fmt.Errorf("report: template name required")
	}
	if _, ok := Lookup(name); !ok {
		return Job{}, fmt.Errorf("report: unknown template %q", name)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if !format.Valid() {
			return Job{}, fmt.Errorf("report: unsupported format %q", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	job := Job{
		ID:         id,
		Template:   name,
		Parameters: cloneParams(input.Parameters),
		Formats:    uniq,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	w.mu.Lock()
	w.jobs[id] = &job
	snapshot := job.copy()
	w.mu.Unlock()
	w.record(ctx, id, StatusPending, "")

	select {
	case w.queue <- id:
	default:
		w.fail(id, "report queue full")
		return Job{}, fmt.Errorf("report: queue full")
	}
	return snapshot, nil
}

// Job returns a snapshot of one job.
func (w *Worker) Job(id string) (Job, bool) {
	w.mu.RLock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return Job{}, false
	}
	snapshot := job.copy()
	w.mu.RUnlock()
	return snapshot, true
}

// Jobs returns snapshots of every job, oldest first.
func (w *Worker) Jobs() []Job {
	w.mu.RLock()
	out := make([]Job, 0, len(w.jobs))
	for _, job := range w.jobs {
		out = append(out, job.copy())
	}
	w.mu.RUnlock()
	sortJobs(out)
	return out
}

// Wait blocks until the job reaches a terminal status or the context ends.
func (w *Worker) Wait(ctx context.Context, id string) (Job, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, ok := w.Job(id)
		if !ok {
			return Job{}, fmt.Errorf("report: job %s not found", id)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(id string) {
	job, ok := w.Job(id)
	if !ok {
		return
	}
	template, ok := Lookup(job.Template)
	if !ok {
		w.fail(id, fmt.Sprintf("template %s missing", job.Template))
		return
	}

	w.updateStatus(id, StatusRunning, "")

	artifacts, err := Run(w.ctx, w.store, w.source, id, template, job.Parameters, job.Formats)
	if err != nil {
		w.fail(id, err.Error())
		return
	}
	w.complete(id, artifacts)
}

// Run renders one template to completion, storing one artifact per format
// under the job's key prefix. It is the synchronous path behind the worker
// and the export command.
func Run(ctx context.Context, store blob.Store, src Source, jobID string, template Template, params map[string]string, formats []Format) ([]Artifact, error) {
	if err := template.validateParams(params); err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		payload, rows, err := template.Render(src, params, format)
		if err != nil {
			return nil, err
		}
		artifact := Artifact{
			Key:         blob.ReportKey(jobID, template.Name, string(format)),
			Format:      format,
			ContentType: format.contentType(),
			SizeBytes:   int64(len(payload)),
			Rows:        rows,
		}
		if store != nil {
			opts := blob.PutOptions{
				ContentType: artifact.ContentType,
				Metadata: map[string]string{
					"template": template.Name,
					"rows":     strconv.Itoa(rows),
				},
			}
			if _, err := store.Put(ctx, artifact.Key, bytes.NewReader(payload), opts); err != nil {
				return nil, fmt.Errorf("store %s: %w", artifact.Key, err)
			}
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (w *Worker) updateStatus(id string, status Status, detail string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = status
		job.Error = detail
		job.UpdatedAt = now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, status, detail)
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusSucceeded
		job.Error = ""
		job.Artifacts = artifacts
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, StatusSucceeded, "")
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusFailed
		job.Error = reason
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, StatusFailed, reason)
}

func (w *Worker) record(ctx context.Context, id string, status Status, detail string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	template := ""
	if job, ok := w.jobs[id]; ok {
		template = job.Template
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		JobID:      id,
		Template:   template,
		Status:     status,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func cloneParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
