package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/agora-chat/agora/internal/artifact"
)

// Export job statuses as reported by the backend.
const (
	ExportQueued     = "queued"
	ExportProcessing = "processing"
	ExportDone       = "done"
	ExportError      = "error"
)

// ErrExportFailed is reported when the backend marks a job failed. It
// wraps artifact.ErrPermanent so the watch stops immediately instead of
// re-polling a job the backend has already given up on.
var ErrExportFailed = fmt.Errorf("api: export job failed: %w", artifact.ErrPermanent)

type ExportJob struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	FileURL string `json:"file_url,omitempty"`
}

func (c *Client) GetExportJob(ctx context.Context, jobID string) (ExportJob, error) {
	var job ExportJob
	if err := c.getJSON(ctx, "/export/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return ExportJob{}, err
	}
	return job, nil
}

// WatchExportJob polls a job until it resolves, reusing the artifact
// poller's bounded constant-interval retry shape. onDone receives the file
// URL; onFailed fires on a backend-reported failure or an exhausted budget.
// The returned stop func cancels the watch.
func (c *Client) WatchExportJob(ctx context.Context, jobID string, onDone func(fileURL string), onFailed func(err error)) (stop func()) {
	poller := artifact.NewPoller(func(ctx context.Context) (string, bool, error) {
		job, err := c.GetExportJob(ctx, jobID)
		if err != nil {
			return "", false, err
		}
		switch job.Status {
		case ExportDone:
			return job.FileURL, true, nil
		case ExportError:
			return "", false, ErrExportFailed
		default:
			return "", false, nil
		}
	})
	poller.OnReady(onDone)
	poller.OnFailed(onFailed)
	poller.Start(ctx)
	return poller.Stop
}
