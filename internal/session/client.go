package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// ManifestEntry correlates one audio part with its question. The manifest
// order and the order of the audio parts must match exactly; the server
// pairs them positionally.
type ManifestEntry struct {
	QuestionID      int64   `json:"question_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// SubmitReceipt is the server's acknowledgement of an accepted bundle.
type SubmitReceipt struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
}

// Client submits assembled bundles to the grading server. Transport
// failures are returned to the caller; the bundle (and the takes behind
// it) stay intact, so a retry never forces re-recording.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a submission client. token is the learner's session
// token; httpClient may be nil to use http.DefaultClient.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, token: token}
}

// Submit uploads a bundle as multipart form data: a "manifest" JSON part
// listing question ids in order, then one "audio" file part per entry in
// the same order.
func (c *Client) Submit(ctx context.Context, bundle *Bundle) (*SubmitReceipt, error) {
	if bundle == nil || len(bundle.Entries) == 0 {
		return nil, ErrNoAnswersRecorded
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	manifest := make([]ManifestEntry, 0, len(bundle.Entries))
	for _, e := range bundle.Entries {
		manifest = append(manifest, ManifestEntry{
			QuestionID:      e.QuestionID,
			DurationSeconds: e.DurationSeconds,
		})
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := mw.WriteField("manifest", string(manifestJSON)); err != nil {
		return nil, fmt.Errorf("write manifest part: %w", err)
	}

	for i, e := range bundle.Entries {
		part, err := mw.CreateFormFile("audio", fmt.Sprintf("answer_%d.webm", i))
		if err != nil {
			return nil, fmt.Errorf("create audio part %d: %w", i, err)
		}
		if _, err := part.Write(e.Audio); err != nil {
			return nil, fmt.Errorf("write audio part %d: %w", i, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/api/tests/%d/submissions", c.baseURL, bundle.TestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("submit bundle: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var receipt SubmitReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}
