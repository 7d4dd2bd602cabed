package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// PosterEdge bounds the constrained edge of generated thumbnails.
const PosterEdge = 480

// Thumbnail grabs a frame at 10% of the source duration and stores it as a
// JPEG poster at outputPath.
func (s *Service) Thumbnail(ctx context.Context, inputPath, outputPath string, meta *Metadata) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	frame, err := os.CreateTemp(filepath.Dir(outputPath), "frame-*.png")
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	framePath := frame.Name()
	_ = frame.Close()
	defer os.Remove(framePath)

	var at float64
	if meta != nil {
		at = meta.Duration * 0.1
	}
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", inputPath,
		"-frames:v", "1",
		framePath,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &EngineFailure{Message: lastLine(stderr.String()), ExitCode: -1, Err: err}
	}

	img, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	if err := imaging.Save(FitPoster(img, PosterEdge), outputPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	return nil
}

// FitPoster scales img so portrait frames are edge pixels tall and the rest
// are edge pixels wide, keeping the aspect ratio.
func FitPoster(img image.Image, edge int) image.Image {
	b := img.Bounds()
	if b.Dx() < b.Dy() {
		return imaging.Resize(img, 0, edge, imaging.Lanczos)
	}
	return imaging.Resize(img, edge, 0, imaging.Lanczos)
}
