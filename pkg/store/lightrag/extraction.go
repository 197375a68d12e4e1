package lightrag

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"
)

var _ store.ExtractionService = (*Client)(nil)

type insertTextsRequest struct {
	Texts       []string `json:"texts"`
	FileSources []string `json:"file_sources"`
}

type insertResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TrackID string `json:"track_id"`
}

type trackStatusResponse struct {
	TrackID   string `json:"track_id"`
	Documents []struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		ErrorMsg string `json:"error_msg"`
	} `json:"documents"`
	TotalCount int `json:"total_count"`
}

type pipelineStatusResponse struct {
	Busy          bool   `json:"busy"`
	JobName       string `json:"job_name"`
	CurBatch      int    `json:"cur_batch"`
	Batchs        int    `json:"batchs"`
	LatestMessage string `json:"latest_message"`
}

// SubmitBatch posts the texts in one /documents/texts call, which keeps the
// chunk boundaries intact. The returned handle is the server's track id.
func (c *Client) SubmitBatch(ctx context.Context, documentID string, r common.ChunkRange, texts []store.SubmittedText) (string, error) {
	if len(texts) == 0 {
		return "", store.Validation("batch %s of %q has no texts", r, documentID)
	}
	req := insertTextsRequest{
		Texts:       make([]string, len(texts)),
		FileSources: make([]string, len(texts)),
	}
	for i, t := range texts {
		req.Texts[i] = t.Text
		req.FileSources[i] = t.FileSource
	}

	var resp insertResponse
	if err := c.do(ctx, http.MethodPost, "/documents/texts", nil, req, &resp); err != nil {
		return "", classify(fmt.Sprintf("submit %s range %s", documentID, r), err)
	}
	if resp.Status == "failure" {
		return "", store.Validation("submit %s range %s: %s", documentID, r, resp.Message)
	}
	handle := resp.TrackID
	if handle == "" {
		// Servers without tracking only expose the global pipeline state.
		handle = fmt.Sprintf("%s_%d_%d", documentID, r.Start, r.End)
	}
	logger.Debug("[Store] Batch submitted to LightRAG", "document", documentID, "range", r.String(), "track_id", resp.TrackID)
	return handle, nil
}

// PollStatus reads the per-track document states, falling back to the
// global pipeline flag when the server has no record of the handle.
func (c *Client) PollStatus(ctx context.Context, handle string) (store.BatchStatusReport, error) {
	var track trackStatusResponse
	err := c.do(ctx, http.MethodGet, "/documents/track_status/"+url.PathEscape(handle), nil, nil, &track)
	if err == nil && len(track.Documents) > 0 {
		return summarizeTrack(track), nil
	}
	if err != nil && !store.IsNotFound(classify("track status", err)) {
		return store.BatchStatusReport{}, classify("track status", err)
	}

	var pipeline pipelineStatusResponse
	if err := c.do(ctx, http.MethodGet, "/documents/pipeline_status", nil, nil, &pipeline); err != nil {
		return store.BatchStatusReport{}, classify("pipeline status", err)
	}
	if pipeline.Busy {
		return store.BatchStatusReport{Status: store.ExtractionProcessing}, nil
	}
	return store.BatchStatusReport{Status: store.ExtractionCompleted}, nil
}

// summarizeTrack reports processing until every document of the track is
// terminal, then failed if any of them failed.
func summarizeTrack(track trackStatusResponse) store.BatchStatusReport {
	var report store.BatchStatusReport
	pending, failed := 0, 0
	for _, d := range track.Documents {
		switch d.Status {
		case "processed":
		case "failed":
			failed++
			if report.Error == "" {
				report.Error = d.ErrorMsg
			}
		default:
			pending++
		}
	}
	switch {
	case pending > 0:
		report.Status = store.ExtractionProcessing
	case failed > 0:
		report.Status = store.ExtractionFailed
	default:
		report.Status = store.ExtractionCompleted
	}
	return report
}
