package model

import (
	"encoding/json"
	"time"

	"stemwatch/internal/progress"
)

// Default separation settings used by the server when a request omits them.
const (
	DefaultModel = "htdemucs"
)

// DefaultStems is the four-stem split every model supports.
var DefaultStems = []string{"vocals", "drums", "bass", "other"}

// SeparateRequest holds the arguments of the separate_audio tool.
type SeparateRequest struct {
	FilePath       string   // Path of the audio file as seen by the server.
	Model          string   // Empty uses the server default.
	Stems          []string // Empty uses the server default.
	StreamProgress bool     // Ask the server to publish a progress stream.
}

// Arguments renders the request as tool-call arguments.
func (r SeparateRequest) Arguments() map[string]any {
	args := map[string]any{
		"file_path":       r.FilePath,
		"stream_progress": r.StreamProgress,
	}
	if r.Model != "" {
		args["model"] = r.Model
	}
	if len(r.Stems) > 0 {
		args["stems"] = r.Stems
	}
	return args
}

// JobTicket is the server's answer to a separation request.
type JobTicket struct {
	JobID     string   `json:"job_id"`
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	StreamURL string   `json:"stream_url,omitempty"` // Relative to the server base; empty when streaming was not requested.
	Model     string   `json:"model,omitempty"`
	Stems     []string `json:"stems,omitempty"`
}

// Job is the server-side record of a separation job.
type Job struct {
	JobID       string   `json:"job_id"`
	Status      string   `json:"status"`
	FilePath    string   `json:"file_path,omitempty"`
	Model       string   `json:"model,omitempty"`
	Stems       []string `json:"stems,omitempty"`
	Progress    float64  `json:"progress"`
	Message     string   `json:"message,omitempty"`
	StreamURL   string   `json:"stream_url,omitempty"`
	OutputFiles []string `json:"output_files,omitempty"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   float64  `json:"created_at,omitempty"`   // Unix seconds.
	CompletedAt float64  `json:"completed_at,omitempty"` // Unix seconds.
}

// Created returns CreatedAt as a time, zero when unknown.
func (j Job) Created() time.Time {
	return unixSeconds(j.CreatedAt)
}

// Completed returns CompletedAt as a time, zero when unknown.
func (j Job) Completed() time.Time {
	return unixSeconds(j.CompletedAt)
}

func unixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9))
}

// Health is the body of the health endpoint.
type Health struct {
	Status        string `json:"status"`
	Service       string `json:"service,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Server        string `json:"server,omitempty"`
	Version       string `json:"version,omitempty"`
	ActiveStreams int    `json:"active_streams"`
	ActiveJobs    int    `json:"active_jobs"`
	Endpoint      string `json:"endpoint,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Healthy reports whether the server declared itself healthy.
func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// ModelInfo describes one separation model offered by the server.
type ModelInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Stems       []string `json:"stems,omitempty"`
}

// Envelope wraps the REST side-channel responses.
// Status "error" means Message explains the failure.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Outcome is how watching one job ended.
type Outcome struct {
	JobID       string
	Kind        progress.Kind // Completed, Error, End, or Unknown when the stream was lost.
	Message     string
	OutputFiles []string
	Err         error  // Reconnection exhaustion, if any.
	Status      string // Last status reported by the status endpoint, when it was asked.
	Resolved    bool   // Kind came from the status endpoint, not the stream.
	Frames      int
	Bytes       int64
	Elapsed     time.Duration
}

// Succeeded reports whether the job completed.
func (o Outcome) Succeeded() bool {
	return o.Kind == progress.KindCompleted
}

// Lost reports whether the stream ended without a terminal outcome.
func (o Outcome) Lost() bool {
	return !o.Kind.Terminal()
}
