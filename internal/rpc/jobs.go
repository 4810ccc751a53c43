package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"stemwatch/internal/model"
)

// Tool names exposed by the separation server.
const (
	ToolSeparate  = "separate_audio"
	ToolModels    = "get_models"
	ToolJobStatus = "get_job_status"
)

func checkJobID(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", errors.WithHint(ErrNoJobID, "pass the job id printed by `stemwatch separate`")
	}
	return jobID, nil
}

// LooksLikeJobID reports whether id has the UUID shape the server assigns.
func LooksLikeJobID(id string) bool {
	return uuid.Validate(strings.TrimSpace(id)) == nil
}

// Health fetches the server health document. An unhealthy server is
// reported as an error together with whatever the server returned.
func (c *Client) Health(ctx context.Context) (model.Health, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.base+"/mcp/health", nil)
	if err != nil {
		return model.Health{}, err
	}
	var h model.Health
	if err := json.Unmarshal(data, &h); err != nil {
		return model.Health{}, errors.Wrapf(err, "health: HTTP %d: undecodable response %q", status, snippet(data))
	}
	if status/100 != 2 || !h.Healthy() {
		reason := h.Error
		if reason == "" {
			reason = h.Status
		}
		return h, errors.Newf("server unhealthy (HTTP %d): %s", status, reason)
	}
	return h, nil
}

// Separate submits an audio file for separation.
func (c *Client) Separate(ctx context.Context, req model.SeparateRequest) (model.JobTicket, error) {
	if strings.TrimSpace(req.FilePath) == "" {
		return model.JobTicket{}, errors.New("file path is required")
	}
	var ticket model.JobTicket
	if err := c.callToolJSON(ctx, ToolSeparate, req.Arguments(), &ticket); err != nil {
		return model.JobTicket{}, err
	}
	if ticket.JobID == "" {
		return model.JobTicket{}, errors.Wrapf(ErrToolFailed, "%s: response carried no job id", ToolSeparate)
	}
	c.logger.Infow("Separation job submitted",
		"job_id", ticket.JobID,
		"model", ticket.Model,
		"stems", ticket.Stems,
		"stream_url", ticket.StreamURL,
	)
	return ticket, nil
}

// Models lists the separation models the server offers.
func (c *Client) Models(ctx context.Context) ([]model.ModelInfo, error) {
	var out struct {
		Models []model.ModelInfo `json:"models"`
	}
	if err := c.callToolJSON(ctx, ToolModels, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// JobStatus fetches the last known state of a job from the status endpoint.
// Servers without that endpoint are asked through the get_job_status tool.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.Job, error) {
	jobID, err := checkJobID(jobID)
	if err != nil {
		return model.Job{}, err
	}

	status, env, err := c.getEnvelope(ctx, http.MethodGet, c.base+"/mcp/status/"+url.PathEscape(jobID))
	switch {
	case err == nil:
		var job model.Job
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &job); err != nil {
				return model.Job{}, errors.Wrap(err, "decode job status")
			}
		}
		if job.JobID == "" {
			job.JobID = jobID
		}
		return job, nil
	case errors.Is(err, ErrServer):
		return model.Job{}, err
	case status != http.StatusNotFound && status != http.StatusMethodNotAllowed:
		return model.Job{}, err
	}

	c.logger.Debugw("Status endpoint unavailable, asking the tool", "job_id", jobID, "status", status)
	var job model.Job
	if err := c.callToolJSON(ctx, ToolJobStatus, map[string]any{"job_id": jobID}, &job); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

// Cleanup asks the server to delete a job's files and returns its message.
func (c *Client) Cleanup(ctx context.Context, jobID string) (string, error) {
	jobID, err := checkJobID(jobID)
	if err != nil {
		return "", err
	}
	_, env, err := c.getEnvelope(ctx, http.MethodDelete, c.base+"/mcp/cleanup/"+url.PathEscape(jobID))
	if err != nil {
		return "", err
	}
	c.logger.Infow("Job cleaned up", "job_id", jobID, "message", env.Message)
	return env.Message, nil
}
