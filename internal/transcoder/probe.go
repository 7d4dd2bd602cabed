package transcoder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stream is one elementary stream reported by ffprobe.
type Stream struct {
	Index       int
	CodecType   string
	CodecName   string
	Width       int
	Height      int
	AttachedPic bool
}

// Metadata is the subset of ffprobe output the pipeline relies on.
type Metadata struct {
	Duration   float64
	FormatName string
	Streams    []Stream
}

// VideoStream returns the first real video stream, skipping cover art.
func (m *Metadata) VideoStream() (Stream, bool) {
	if m == nil {
		return Stream{}, false
	}
	for _, s := range m.Streams {
		if s.CodecType == "video" && !s.AttachedPic {
			return s, true
		}
	}
	return Stream{}, false
}

type ffprobeOutput struct {
	Streams []struct {
		Index       int    `json:"index"`
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		Duration    string `json:"duration"`
		Disposition struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (*Metadata, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}

	meta := &Metadata{
		Duration:   parseSeconds(out.Format.Duration),
		FormatName: out.Format.FormatName,
		Streams:    make([]Stream, 0, len(out.Streams)),
	}
	for _, s := range out.Streams {
		meta.Streams = append(meta.Streams, Stream{
			Index:       s.Index,
			CodecType:   s.CodecType,
			CodecName:   s.CodecName,
			Width:       s.Width,
			Height:      s.Height,
			AttachedPic: s.Disposition.AttachedPic == 1,
		})
		if meta.Duration <= 0 && s.CodecType == "video" {
			meta.Duration = parseSeconds(s.Duration)
		}
	}
	return meta, nil
}

func parseSeconds(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" || v == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
