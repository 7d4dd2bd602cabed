package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a transcoding job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusAnalyzing  JobStatus = "analyzing"
	StatusProcessing JobStatus = "processing"
	StatusFinalizing JobStatus = "finalizing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Resolution is the output frame size chosen for a job.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TranscodeJob stores metadata and runtime state for one conversion.
type TranscodeJob struct {
	ID            string      `json:"id"`
	OriginalName  string      `json:"originalName"`
	SourcePath    string      `json:"-"`
	Status        JobStatus   `json:"status"`
	Progress      int         `json:"progress"`
	Stage         string      `json:"stage"`
	Resolution    *Resolution `json:"resolution,omitempty"`
	SizeBytes     int64       `json:"sizeBytes,omitempty"`
	SizeMB        float64     `json:"sizeMB,omitempty"`
	OutputPath    string      `json:"outputPath,omitempty"`
	ThumbnailPath string      `json:"thumbnailPath,omitempty"`
	Error         string      `json:"error,omitempty"`
	StartTime     time.Time   `json:"startTime"`
	LastUpdated   time.Time   `json:"lastUpdated"`
}

// CatalogEntry is the durable record of a job that reached a terminal state.
type CatalogEntry struct {
	ID                 string      `json:"id"`
	OriginalName       string      `json:"originalName"`
	HLSPath            string      `json:"hlsPath,omitempty"`
	ThumbnailPath      string      `json:"thumbnailPath,omitempty"`
	Size               int64       `json:"size"`
	SizeMB             float64     `json:"sizeMB"`
	MimeType           string      `json:"mimeType"`
	UploadedAt         time.Time   `json:"uploadedAt"`
	Status             JobStatus   `json:"status"`
	Format             string      `json:"format"`
	SegmentDuration    int         `json:"segmentDuration"`
	Resolution         *Resolution `json:"resolution,omitempty"`
	ProcessingProgress int         `json:"processingProgress"`
	ProcessingStage    string      `json:"processingStage"`
	Error              string      `json:"error,omitempty"`
	LastUpdated        time.Time   `json:"lastUpdated"`
}

// StatusView is the point-lookup projection of a job.
type StatusView struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Stage    string    `json:"stage"`
	Error    string    `json:"error,omitempty"`
}

// View projects a live job onto its status view.
func (j TranscodeJob) View() StatusView {
	return StatusView{ID: j.ID, Status: j.Status, Progress: j.Progress, Stage: j.Stage, Error: j.Error}
}

// View projects a catalog entry onto its status view.
func (e CatalogEntry) View() StatusView {
	return StatusView{ID: e.ID, Status: e.Status, Progress: e.ProcessingProgress, Stage: e.ProcessingStage, Error: e.Error}
}

// MessageType classifies push channel messages.
type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageJob      MessageType = "job"
	MessageStatus   MessageType = "status"
	MessageError    MessageType = "error"
)

// PushMessage is sent to observers over the push channel.
type PushMessage struct {
	Type   MessageType    `json:"type"`
	Job    *TranscodeJob  `json:"job,omitempty"`
	Jobs   []TranscodeJob `json:"jobs,omitempty"`
	Status *StatusView    `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// MarshalJSON always emits the jobs array on snapshots, even when empty.
func (m PushMessage) MarshalJSON() ([]byte, error) {
	type plain PushMessage
	if m.Type != MessageSnapshot {
		return json.Marshal(plain(m))
	}
	jobs := m.Jobs
	if jobs == nil {
		jobs = []TranscodeJob{}
	}
	return json.Marshal(struct {
		Type MessageType    `json:"type"`
		Jobs []TranscodeJob `json:"jobs"`
	}{Type: m.Type, Jobs: jobs})
}

// ClientRequest is what observers may send over the push channel.
type ClientRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
