package transcoder

import (
	"fmt"
	"path/filepath"
	"strconv"

	"hlspackager/internal/models"
)

const (
	PlaylistName   = "playlist.m3u8"
	SegmentPattern = "segment_%03d.ts"
	ThumbnailName  = "thumbnail.jpg"

	// SegmentDuration is the HLS target duration in seconds. Short segments
	// start playback sooner at the cost of more playlist entries.
	SegmentDuration = 2

	// GOP of 48 frames keeps a keyframe at every segment boundary at 24fps.
	GOPSize   = 48
	KeyintMin = 24
)

// Profile is the fixed quality tier every job is encoded with.
type Profile struct {
	Name         string
	BaselineEdge int
	VideoCodec   string
	AudioCodec   string
	Preset       string
	PixelFormat  string
	H264Profile  string
	Level        string
	Tune         string
	VideoBitrate string
	AudioBitrate string
	MaxRate      string
	BufSize      string
	Bandwidth    int
	CRF          int
}

// DefaultProfile returns the single 480p rendition.
func DefaultProfile() Profile {
	return Profile{
		Name:         "480p",
		BaselineEdge: 480,
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		Preset:       "veryfast",
		PixelFormat:  "yuv420p",
		H264Profile:  "main",
		Level:        "4.0",
		Tune:         "fastdecode",
		VideoBitrate: "800k",
		AudioBitrate: "96k",
		MaxRate:      "1000k",
		BufSize:      "2000k",
		Bandwidth:    1_000_000,
		CRF:          28,
	}
}

// OutputSpec describes where and how one job's rendition is written.
type OutputSpec struct {
	Dir            string
	Resolution     models.Resolution
	SourceDuration float64
	Profile        Profile
}

// PlaylistPath is the filesystem location of the produced playlist.
func (o OutputSpec) PlaylistPath() string {
	return filepath.Join(o.Dir, PlaylistName)
}

func buildHLSArgs(inputPath string, spec OutputSpec) []string {
	p := spec.Profile
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-analyzeduration", "10M",
		"-probesize", "10M",
		"-threads", "0",
		"-i", inputPath,
		"-c:v", p.VideoCodec,
		"-c:a", p.AudioCodec,
		"-preset", p.Preset,
		"-profile:v", p.H264Profile,
		"-level", p.Level,
		"-tune", p.Tune,
		"-pix_fmt", p.PixelFormat,
		"-s", fmt.Sprintf("%dx%d", spec.Resolution.Width, spec.Resolution.Height),
		"-b:v", p.VideoBitrate,
		"-b:a", p.AudioBitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-crf", strconv.Itoa(p.CRF),
		"-sc_threshold", "0",
		"-g", strconv.Itoa(GOPSize),
		"-keyint_min", strconv.Itoa(KeyintMin),
		"-hls_time", strconv.Itoa(SegmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(spec.Dir, SegmentPattern),
		"-f", "hls",
		"-progress", "pipe:1",
		"-nostats",
		spec.PlaylistPath(),
	}
}
