package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/agora-chat/agora/internal/artifact"
)

// Review is the lifecycle view of one multi-panelist review.
type Review struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Topic       string `json:"topic"`
	FinalReport string `json:"final_report,omitempty"`
}

// GetReview fetches review status and topic. FinalReport is empty until the
// review reaches a terminal status and the report has propagated.
func (c *Client) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var review Review
	if err := c.getJSON(ctx, "/reviews/"+url.PathEscape(reviewID), &review); err != nil {
		return Review{}, err
	}
	return review, nil
}

// GetReviewReport fetches the terminal artifact body. A 404 means the
// report has not propagated yet, not that the review is unknown.
func (c *Client) GetReviewReport(ctx context.Context, reviewID string) (string, error) {
	path := "/reviews/" + url.PathEscape(reviewID) + "/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	copyHeader(req.Header, c.header)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get report: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(body), nil
}

// ReportCheck adapts the report fetch into a poll step: a 404 counts as
// not-ready rather than a failure, since the report is only waiting on
// write propagation.
func (c *Client) ReportCheck(reviewID string) artifact.CheckFunc {
	return func(ctx context.Context) (string, bool, error) {
		report, err := c.GetReviewReport(ctx, reviewID)
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return report, true, nil
	}
}
