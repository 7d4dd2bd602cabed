// Package jobs owns the lifecycle of transcoding jobs: the in-memory
// registry, the per-job state machine and the status and deletion queries
// built on top of it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"hlspackager/internal/catalog"
	"hlspackager/internal/metrics"
	"hlspackager/internal/models"
	"hlspackager/internal/planner"
	"hlspackager/internal/progress"
	"hlspackager/internal/transcoder"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobActive         = errors.New("job is still being processed")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrShuttingDown      = errors.New("orchestrator is shutting down")
)

const (
	hlsMimeType   = "application/x-mpegURL"
	hlsFormat     = "HLS"
	defaultPrefix = "/output"
)

// Engine is the media toolchain a job runs against.
type Engine interface {
	Probe(ctx context.Context, inputPath string) (*transcoder.Metadata, error)
	Transcode(ctx context.Context, inputPath string, spec transcoder.OutputSpec) <-chan transcoder.Event
	Thumbnail(ctx context.Context, inputPath, outputPath string, meta *transcoder.Metadata) error
}

// Publisher receives one message per applied transition.
type Publisher interface {
	Publish(msg models.PushMessage)
}

// Catalog is the durable record of terminal jobs.
type Catalog interface {
	Upsert(entry models.CatalogEntry) error
	Get(id string) (models.CatalogEntry, bool, error)
	Delete(id string, removeArtifacts func(models.CatalogEntry) error) error
}

// Config holds orchestrator settings. PublicPrefix is the URL path
// OutputsDir is served under. A zero Timeout disables the per-job deadline.
type Config struct {
	OutputsDir   string
	PublicPrefix string
	Profile      transcoder.Profile
	Timeout      time.Duration
}

// Orchestrator drives every job through
// queued → analyzing → processing → finalizing → completed, with error
// reachable from any non-terminal state.
type Orchestrator struct {
	logger    *slog.Logger
	engine    Engine
	catalog   Catalog
	publisher Publisher
	registry  *Registry
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewOrchestrator(logger *slog.Logger, engine Engine, store Catalog, publisher Publisher, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = defaultPrefix
	}
	if cfg.Profile.BaselineEdge == 0 {
		cfg.Profile = transcoder.DefaultProfile()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:    logger.With("component", "jobs"),
		engine:    engine,
		catalog:   store,
		publisher: publisher,
		registry:  NewRegistry(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit registers a job for the file at sourcePath and starts it in the
// background. It returns as soon as the job is queued.
func (o *Orchestrator) Submit(sourcePath, originalName string) (string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return "", fmt.Errorf("source file: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	id, err := o.newJobID()
	if err != nil {
		o.wg.Done()
		return "", err
	}

	now := o.now()
	job := models.TranscodeJob{
		ID:           id,
		OriginalName: originalName,
		SourcePath:   sourcePath,
		Status:       models.StatusQueued,
		Stage:        "Queued",
		StartTime:    now,
		LastUpdated:  now,
	}
	if err := o.registry.Add(job); err != nil {
		o.wg.Done()
		return "", err
	}
	metrics.JobsActive.Inc()
	o.publish(job)
	o.logger.Info("job queued", "job_id", id, "file", originalName)

	go o.run(id, sourcePath)
	return id, nil
}

func (o *Orchestrator) newJobID() (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		id := uuid.NewString()
		if _, ok := o.registry.Get(id); ok {
			continue
		}
		_, ok, err := o.catalog.Get(id)
		if err != nil {
			o.logger.Warn("catalog lookup failed while allocating job id", "error", err)
			lastErr = err
			continue
		}
		if ok {
			continue
		}
		return id, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("allocate job id: %w", lastErr)
	}
	return "", errors.New("could not allocate a unique job id")
}

func (o *Orchestrator) run(id, sourcePath string) {
	defer o.wg.Done()
	started := time.Now()
	logger := o.logger.With("job_id", id)

	ctx, cancel := o.jobContext()
	defer cancel()

	if err := o.pipeline(ctx, id, sourcePath, logger); err != nil {
		o.fail(id, err, logger)
	}

	final, _ := o.registry.Get(id)
	metrics.JobsActive.Dec()
	metrics.JobsFinished.WithLabelValues(string(final.Status)).Inc()
	metrics.TranscodeDuration.Observe(time.Since(started).Seconds())

	if err := os.Remove(sourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove source upload", "path", sourcePath, "error", err)
	}
}

func (o *Orchestrator) jobContext() (context.Context, context.CancelFunc) {
	if o.cfg.Timeout > 0 {
		return context.WithTimeout(o.ctx, o.cfg.Timeout)
	}
	return context.WithCancel(o.ctx)
}

func (o *Orchestrator) pipeline(ctx context.Context, id, sourcePath string, logger *slog.Logger) error {
	if _, err := o.transition(id, models.StatusAnalyzing, progress.Analyzing, "Analyzing source", nil); err != nil {
		return err
	}

	meta, err := o.engine.Probe(ctx, sourcePath)
	if err != nil {
		return err
	}
	stream, ok := meta.VideoStream()
	if !ok {
		return &transcoder.ProbeError{Path: sourcePath, Message: "no video stream found in the input file"}
	}
	res, err := planner.Plan(stream.Width, stream.Height, o.cfg.Profile.BaselineEdge)
	if err != nil {
		return err
	}
	logger.Info("output planned",
		"source_width", stream.Width, "source_height", stream.Height,
		"width", res.Width, "height", res.Height, "duration", meta.Duration)

	if _, err := o.transition(id, models.StatusAnalyzing, progress.Planned, "Planning output", func(j *models.TranscodeJob) {
		j.Resolution = &models.Resolution{Width: res.Width, Height: res.Height}
	}); err != nil {
		return err
	}

	outDir := filepath.Join(o.cfg.OutputsDir, id)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	thumbURL := ""
	if err := o.engine.Thumbnail(ctx, sourcePath, filepath.Join(outDir, transcoder.ThumbnailName), meta); err != nil {
		logger.Warn("thumbnail generation failed", "error", err)
	} else {
		thumbURL = o.publicPath(id, transcoder.ThumbnailName)
	}
	if _, err := o.transition(id, models.StatusAnalyzing, progress.Thumbnail, "Preparing encoder", func(j *models.TranscodeJob) {
		j.ThumbnailPath = thumbURL
	}); err != nil {
		return err
	}

	if _, err := o.transition(id, models.StatusProcessing, progress.EngineStart, "Transcoding", nil); err != nil {
		return err
	}

	spec := transcoder.OutputSpec{
		Dir:            outDir,
		Resolution:     res,
		SourceDuration: meta.Duration,
		Profile:        o.cfg.Profile,
	}
	if err := o.consume(id, o.engine.Transcode(ctx, sourcePath, spec), logger); err != nil {
		return err
	}

	if _, err := o.transition(id, models.StatusFinalizing, progress.EngineEnd, "Finalizing", nil); err != nil {
		return err
	}
	size, err := dirSize(outDir)
	if err != nil {
		return fmt.Errorf("measure output: %w", err)
	}
	if _, err := o.transition(id, models.StatusFinalizing, progress.SizeComputed, "Writing catalog", nil); err != nil {
		return err
	}

	// Size and playlist are only published together with completed.
	if _, err := o.transition(id, models.StatusCompleted, progress.Complete, "Completed", func(j *models.TranscodeJob) {
		j.OutputPath = o.publicPath(id, transcoder.PlaylistName)
		j.SizeBytes = size
		j.SizeMB = bytesToMB(size)
	}); err != nil {
		return err
	}
	metrics.OutputBytes.Observe(float64(size))
	return nil
}

// consume drains the engine's event stream, forwarding banded progress. The
// stream is always read to the end so the engine never blocks on a send.
func (o *Orchestrator) consume(id string, events <-chan transcoder.Event, logger *slog.Logger) error {
	var (
		result    error
		completed bool
		last      = progress.EngineStart
	)
	for ev := range events {
		switch ev.Kind {
		case transcoder.EventStarted:
			logger.Debug("engine started", "command", ev.Command)
		case transcoder.EventProgress:
			pct := progress.Map(ev.Percent)
			if pct <= last || result != nil {
				continue
			}
			if _, err := o.transition(id, models.StatusProcessing, pct, "Transcoding", nil); err != nil {
				result = err
				continue
			}
			last = pct
		case transcoder.EventFailed:
			if result == nil {
				result = ev.Err
			}
		case transcoder.EventCompleted:
			completed = true
		}
	}
	if result != nil {
		return result
	}
	if !completed {
		return errors.New("transcode ended without a result")
	}
	return nil
}

func (o *Orchestrator) fail(id string, cause error, logger *slog.Logger) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	logger.Error("job failed", "error", cause)
	if _, err := o.transition(id, models.StatusError, 0, "Failed", func(j *models.TranscodeJob) {
		j.Error = cause.Error()
		// The output directory is removed below.
		j.ThumbnailPath = ""
		j.OutputPath = ""
		j.SizeBytes = 0
		j.SizeMB = 0
	}); err != nil {
		logger.Warn("could not record job failure", "error", err)
	}
	if err := os.RemoveAll(filepath.Join(o.cfg.OutputsDir, id)); err != nil {
		logger.Warn("failed to remove partial output", "error", err)
	}
}

// transition applies one state change as a single critical section for the
// job: validate, record, publish and, for terminal states, persist.
// progressPct is ignored for the error state, which keeps the last value.
func (o *Orchestrator) transition(id string, next models.JobStatus, progressPct int, stage string, mutate func(*models.TranscodeJob)) (models.TranscodeJob, error) {
	unlock, ok := o.registry.lockTransition(id)
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	defer unlock()

	job, err := o.registry.update(id, func(j *models.TranscodeJob) error {
		if err := checkTransition(j.Status, next, j.Progress, progressPct); err != nil {
			return err
		}
		prev := j.Status
		j.Status = next
		if next != models.StatusError {
			j.Progress = progressPct
		}
		j.Stage = stage
		if mutate != nil {
			mutate(j)
		}
		j.LastUpdated = o.now()
		if prev != next {
			o.logger.Info("job transition", "job_id", id, "from", prev, "to", next, "progress", j.Progress)
		}
		return nil
	})
	if err != nil {
		return models.TranscodeJob{}, err
	}

	o.publish(job)
	if next.IsTerminal() {
		o.persist(job)
	}
	return job, nil
}

var allowedTransitions = map[models.JobStatus][]models.JobStatus{
	models.StatusQueued:     {models.StatusAnalyzing},
	models.StatusAnalyzing:  {models.StatusAnalyzing, models.StatusProcessing},
	models.StatusProcessing: {models.StatusProcessing, models.StatusFinalizing},
	models.StatusFinalizing: {models.StatusFinalizing, models.StatusCompleted},
}

func checkTransition(from, to models.JobStatus, fromPct, toPct int) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == models.StatusError {
		return nil
	}
	allowed := false
	for _, s := range allowedTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if toPct < fromPct {
		return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, fromPct, toPct)
	}
	return nil
}

func (o *Orchestrator) publish(job models.TranscodeJob) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(models.PushMessage{Type: models.MessageJob, Job: &job})
}

func (o *Orchestrator) persist(job models.TranscodeJob) {
	if err := o.catalog.Upsert(catalogEntry(job)); err != nil {
		// The in-memory state stays terminal; only durability is lost.
		o.logger.Error("catalog write failed", "job_id", job.ID, "error", err)
	}
}

func catalogEntry(job models.TranscodeJob) models.CatalogEntry {
	return models.CatalogEntry{
		ID:                 job.ID,
		OriginalName:       job.OriginalName,
		HLSPath:            job.OutputPath,
		ThumbnailPath:      job.ThumbnailPath,
		Size:               job.SizeBytes,
		SizeMB:             job.SizeMB,
		MimeType:           hlsMimeType,
		UploadedAt:         job.StartTime,
		Status:             job.Status,
		Format:             hlsFormat,
		SegmentDuration:    transcoder.SegmentDuration,
		Resolution:         job.Resolution,
		ProcessingProgress: job.Progress,
		ProcessingStage:    job.Stage,
		Error:              job.Error,
		LastUpdated:        job.LastUpdated,
	}
}

// Get returns the live job with id.
func (o *Orchestrator) Get(id string) (models.TranscodeJob, bool) {
	return o.registry.Get(id)
}

// Active lists jobs that have not reached a terminal state, newest first.
func (o *Orchestrator) Active() []models.TranscodeJob {
	return o.registry.Active()
}

// Jobs lists every job still held in memory, newest first.
func (o *Orchestrator) Jobs() []models.TranscodeJob {
	return o.registry.List()
}

// Status returns the live snapshot of a job, falling back to the catalog
// once it has left the registry.
func (o *Orchestrator) Status(id string) (models.StatusView, error) {
	if job, ok := o.registry.Get(id); ok {
		return job.View(), nil
	}
	entry, ok, err := o.catalog.Get(id)
	if err != nil {
		return models.StatusView{}, err
	}
	if !ok {
		return models.StatusView{}, ErrJobNotFound
	}
	return entry.View(), nil
}

// Delete removes a terminal job's output directory and catalog entry.
// Jobs still in flight are rejected with ErrJobActive.
func (o *Orchestrator) Delete(id string) error {
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." {
		return ErrJobNotFound
	}

	live := false
	if unlock, ok := o.registry.lockTransition(id); ok {
		defer unlock()
		job, ok := o.registry.Get(id)
		if ok && !job.Status.IsTerminal() {
			return ErrJobActive
		}
		live = ok
	}

	dir := filepath.Join(o.cfg.OutputsDir, id)
	err := o.catalog.Delete(id, func(models.CatalogEntry) error {
		return os.RemoveAll(dir)
	})
	switch {
	case errors.Is(err, catalog.ErrNotFound) && live:
		// Terminal job whose catalog write was lost.
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove output for %s: %w", id, err)
		}
	case errors.Is(err, catalog.ErrNotFound):
		return ErrJobNotFound
	case err != nil:
		return err
	}

	o.registry.Remove(id)
	o.logger.Info("job deleted", "job_id", id)
	return nil
}

// StartCleanupLoop periodically evicts terminal jobs older than ttl from the
// registry. Their state stays available through the catalog.
func (o *Orchestrator) StartCleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.prune(ttl)
			}
		}
	}()
}

func (o *Orchestrator) prune(ttl time.Duration) []string {
	removed := o.registry.PruneTerminal(o.now().Add(-ttl))
	if len(removed) > 0 {
		o.logger.Info("cleanup completed", "removed_jobs", len(removed))
	}
	return removed
}

// Shutdown stops accepting jobs, cancels in-flight engine work and waits
// for every job goroutine to record its terminal state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (o *Orchestrator) publicPath(id, name string) string {
	return path.Join(o.cfg.PublicPrefix, id, name)
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func bytesToMB(n int64) float64 {
	mb := float64(n) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}
