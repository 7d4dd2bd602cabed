package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// EventKind classifies engine lifecycle events.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is emitted while ffmpeg runs. Percent is ffmpeg's own completion of
// the encode in [0,100]; it is not rescaled here.
type Event struct {
	Kind    EventKind
	Percent float64
	Command string
	Err     error
}

// Config selects the engine binaries.
type Config struct {
	FFmpegPath  string
	FFprobePath string
}

// Service wraps ffmpeg/ffprobe operations.
type Service struct {
	logger      *slog.Logger
	ffmpegPath  string
	ffprobePath string
}

func NewService(logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Service{
		logger:      logger.With("component", "transcoder"),
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
	}
}

// Probe reads stream and container metadata from inputPath.
func (s *Service) Probe(ctx context.Context, inputPath string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx,
		s.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ProbeError{Path: inputPath, Message: lastLine(stderr.String()), Err: err}
	}

	meta, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return nil, &ProbeError{Path: inputPath, Err: err}
	}
	return meta, nil
}

// Transcode runs ffmpeg for spec and streams its lifecycle. The channel
// always ends with exactly one EventCompleted or EventFailed and is then
// closed; callers must drain it.
func (s *Service) Transcode(ctx context.Context, inputPath string, spec OutputSpec) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		if err := s.run(ctx, inputPath, spec, events); err != nil {
			events <- Event{Kind: EventFailed, Err: err}
			return
		}
		events <- Event{Kind: EventCompleted, Percent: 100}
	}()
	return events
}

func (s *Service) run(ctx context.Context, inputPath string, spec OutputSpec, events chan<- Event) error {
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	args := buildHLSArgs(inputPath, spec)
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &EngineFailure{Message: "could not start ffmpeg", ExitCode: -1, Err: err}
	}
	commandLine := s.ffmpegPath + " " + strings.Join(args, " ")
	s.logger.Debug("ffmpeg started", "command", commandLine)
	events <- Event{Kind: EventStarted, Command: commandLine}

	stderrDone := make(chan string, 1)
	go func() {
		stderrDone <- drainLastLine(stderr, s.logger)
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		percent, ok := parseProgressLine(scanner.Text(), spec.SourceDuration)
		if ok {
			events <- Event{Kind: EventProgress, Percent: percent}
		}
	}
	scanErr := scanner.Err()
	lastErrLine := <-stderrDone

	if err := cmd.Wait(); err != nil {
		failure := &EngineFailure{Message: lastErrLine, ExitCode: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			failure.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			failure.Message = "transcode interrupted: " + ctxErr.Error()
			failure.Err = ctxErr
		}
		return failure
	}
	if scanErr != nil {
		return fmt.Errorf("failed while reading ffmpeg output: %w", scanErr)
	}

	if _, err := os.Stat(spec.PlaylistPath()); err != nil {
		return &EngineFailure{Message: "ffmpeg completed but playlist is missing", Err: err}
	}
	return nil
}

// parseProgressLine interprets one key=value line of `-progress pipe:1`.
// out_time_ms is in microseconds despite its name.
func parseProgressLine(line string, duration float64) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "progress=end" {
		return 100, true
	}

	key, value, found := strings.Cut(line, "=")
	if !found || duration <= 0 {
		return 0, false
	}
	if key != "out_time_us" && key != "out_time_ms" {
		return 0, false
	}

	micros, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	ratio := micros / 1_000_000.0 / duration
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio * 100, true
}

func drainLastLine(r io.Reader, logger *slog.Logger) string {
	var last string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("ffmpeg stderr", "line", line)
		last = line
	}
	return last
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
