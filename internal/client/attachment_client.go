package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sygfp/spendchain/internal/workflow"
)

// AttachmentClient asks the document-storage service whether the supporting
// documents required for a chain step are present. Existence only; content
// validation belongs to the storage service.
type AttachmentClient struct {
	baseURL string
	http    *http.Client
}

// NewAttachmentClient creates a client for the attachment service.
func NewAttachmentClient(baseURL string) *AttachmentClient {
	return &AttachmentClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type attachmentCheckResponse struct {
	Complete bool `json:"complete"`
}

// HasRequiredAttachments reports whether the document carries the supporting
// documents its kind requires. Implements workflow.AttachmentChecker.
func (c *AttachmentClient) HasRequiredAttachments(ctx context.Context, documentID string, kind workflow.Kind) (bool, error) {
	u := fmt.Sprintf("%s/api/v1/attachments/check?document_id=%s&kind=%s",
		c.baseURL, url.QueryEscape(documentID), url.QueryEscape(string(kind)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build attachment check request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check attachments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("attachment service returned status %d", resp.StatusCode)
	}

	var body attachmentCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode attachment check response: %w", err)
	}
	return body.Complete, nil
}
