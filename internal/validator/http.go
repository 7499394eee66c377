package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTP queries an external validator registry:
//
//	GET {baseURL}/eligibility?org=<id>[&project=<index>]  ->  {"eligible": true}
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP gate with the given request timeout
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type eligibilityResponse struct {
	Eligible bool `json:"eligible"`
}

// IsEligible asks the remote validator about subject
func (h *HTTP) IsEligible(ctx context.Context, subject Subject) (bool, error) {
	q := url.Values{}
	q.Set("org", subject.OrgID)
	if subject.ProjectIndex != nil {
		q.Set("project", strconv.Itoa(*subject.ProjectIndex))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/eligibility?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build validator request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("validator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("validator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out eligibilityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode validator response: %w", err)
	}
	return out.Eligible, nil
}
