package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"defectflow/internal/errs"
	"defectflow/internal/ports"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPNotifier posts nudges to the external notification collaborator.
// Callers treat failures as non-fatal; this adapter only reports them.
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
}

var _ ports.Notifier = (*HTTPNotifier)(nil)

func NewHTTPNotifier(cfg Config) (*HTTPNotifier, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("notifier base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

type sendResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *HTTPNotifier) Send(ctx context.Context, recipient string, title string, body string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(recipient) == "" {
		return errors.New("recipient is required")
	}

	payload, err := json.Marshal(sendRequest{
		Recipient: recipient,
		Title:     title,
		Body:      body,
	})
	if err != nil {
		return errs.Wrap(err, "marshal notification")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(err, "build notification request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return errs.Wrap(err, "call notification collaborator")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return errs.Wrap(err, "read notification response")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification collaborator returned HTTP %d", resp.StatusCode)
	}

	var decoded sendResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return errs.Wrap(err, "decode notification response")
	}
	if decoded.Code != 1 {
		msg := strings.TrimSpace(decoded.Message)
		if msg == "" {
			msg = "no message"
		}
		return fmt.Errorf("notification collaborator refused: code %d: %s", decoded.Code, msg)
	}

	return nil
}
