package templates

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"hlspackager/internal/models"
)

func render(t *testing.T, entries []models.CatalogEntry, active []models.TranscodeJob) string {
	t.Helper()
	var buf bytes.Buffer
	if err := IndexPage(entries, active).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return buf.String()
}

func TestIndexPageEmpty(t *testing.T) {
	html := render(t, nil, nil)
	for _, want := range []string{"No jobs in progress.", "No videos yet.", `action="/upload"`, `name="video"`} {
		if !strings.Contains(html, want) {
			t.Fatalf("page missing %q", want)
		}
	}
}

func TestIndexPageListsJobsAndVideos(t *testing.T) {
	entries := []models.CatalogEntry{
		{
			ID:            "done",
			OriginalName:  "holiday.mp4",
			Status:        models.StatusCompleted,
			HLSPath:       "/output/done/playlist.m3u8",
			ThumbnailPath: "/output/done/thumbnail.jpg",
			SizeMB:        12.5,
			Resolution:    &models.Resolution{Width: 854, Height: 480},
		},
		{ID: "bad", OriginalName: "broken.mov", Status: models.StatusError, Error: "ffmpeg failed: boom"},
	}
	active := []models.TranscodeJob{{ID: "run", OriginalName: "talk.mkv", Stage: "Transcoding", Progress: 42}}

	html := render(t, entries, active)
	for _, want := range []string{
		`data-src="/output/done/playlist.m3u8"`,
		`poster="/output/done/thumbnail.jpg"`,
		"854x480",
		"12.50 MB",
		"ffmpeg failed: boom",
		`data-job-id="run"`,
		`value="42"`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	if strings.Contains(html, "No videos yet.") {
		t.Fatal("empty-library notice shown with entries present")
	}
}

func TestIndexPageEscapesNames(t *testing.T) {
	active := []models.TranscodeJob{{ID: "x", OriginalName: `<script>alert("x")</script>.mp4`}}
	html := render(t, nil, active)
	if strings.Contains(html, `<script>alert`) {
		t.Fatal("file name was not escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatal("escaped name not rendered")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestIndexPageReportsWriteErrors(t *testing.T) {
	if err := IndexPage(nil, nil).Render(context.Background(), failingWriter{}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestIndexPageStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := IndexPage(nil, []models.TranscodeJob{{ID: "run"}}).Render(ctx, &buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Render() error = %v, want context.Canceled", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rendered %d bytes after cancellation", buf.Len())
	}
}
