package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPRecorder posts each record to the reporting service's callback URI,
// authenticated by the shared static API key.
type HTTPRecorder struct {
	URI     string
	APIKey  string
	Timeout time.Duration

	client *fasthttp.Client
}

func NewHTTPRecorder(uri, apiKey string, timeout time.Duration) *HTTPRecorder {
	return &HTTPRecorder{
		URI:     uri,
		APIKey:  apiKey,
		Timeout: timeout,
		client:  &fasthttp.Client{},
	}
}

type callbackBody struct {
	APIKey    string  `json:"api_key"`
	Timestamp float64 `json:"timestamp"`
	Record
}

func (r *HTTPRecorder) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(callbackBody{
		APIKey:    r.APIKey,
		Timestamp: float64(rec.OccurredAt.UnixMilli()) / 1000,
		Record:    rec,
	})
	if err != nil {
		return fmt.Errorf("failed to encode report callback: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URI)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := r.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	if err := r.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("report callback failed: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("report callback returned status %d", code)
	}
	return nil
}
