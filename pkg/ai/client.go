// Package ai is an optional dispatch advisor: before a worker commits
// to handling a job, it may ask this service whether the job looks
// likely to fail given its history. The advisor is consulted on a
// best-effort, fail-open basis — any error, timeout, or non-OK status
// is treated as "no opinion," never as a reason to block dispatch.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the dispatch advisor over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// AdviceRequest carries the job id and whatever features the caller
// wants scored (attempt count, payload size, recent failure rate...).
type AdviceRequest struct {
	JobID    string                 `json:"job_id"`
	Features map[string]interface{} `json:"features"`
}

// AdviceResponse is the advisor's opinion. Decision is one of
// "dispatch", "defer", or "skip"; callers treat anything else (or an
// error reaching the service) as "dispatch".
type AdviceResponse struct {
	JobID              string  `json:"job_id"`
	FailureProbability float64 `json:"failure_probability"`
	Confidence         float64 `json:"confidence"`
	Decision           string  `json:"decision"`
}

// NewClient builds a Client. An empty baseURL is valid; callers
// should check for it and skip advisory calls entirely in that case.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Advise asks the dispatch advisor for an opinion on jobID. Callers
// should fail open: on any error, proceed as if Decision == "dispatch".
func (c *Client) Advise(ctx context.Context, jobID string, features map[string]interface{}) (*AdviceResponse, error) {
	reqBody := AdviceRequest{JobID: jobID, Features: features}

	jsonValue, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/advise/dispatch", c.BaseURL), bytes.NewBuffer(jsonValue))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatch advisor returned status: %d", resp.StatusCode)
	}

	var advice AdviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&advice); err != nil {
		return nil, err
	}
	return &advice, nil
}

// ShouldDispatch applies the fail-open policy: any error from Advise,
// or any decision other than "skip", dispatches the job.
func ShouldDispatch(ctx context.Context, c *Client, jobID string, features map[string]interface{}) bool {
	if c == nil || c.BaseURL == "" {
		return true
	}
	advice, err := c.Advise(ctx, jobID, features)
	if err != nil {
		return true
	}
	return advice.Decision != "skip"
}
