package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/signature"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Wire header names.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-ID"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// DefaultUserAgent identifies herald to receivers.
const DefaultUserAgent = "Herald-Webhooks/1.0"

// Sender performs HTTP webhook delivery.
type Sender struct {
	client    *http.Client
	userAgent string
}

// NewSender creates a sender. A nil client uses a fresh http.Client; the
// per-attempt timeout always comes from the endpoint.
func NewSender(client *http.Client, userAgent string) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Sender{client: client, userAgent: userAgent}
}

// Send posts the record's stored payload to the endpoint and returns the
// result. Transport errors are reported in Result.Error, never returned.
func (s *Sender) Send(ctx context.Context, ep *endpoint.Endpoint, rec *Record, timestamp time.Time) Result {
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(HeaderSignature, signature.Header(rec.Signature))
	req.Header.Set(HeaderEvent, rec.EventType)
	req.Header.Set(HeaderID, rec.EventID.String())
	req.Header.Set(HeaderDelivery, rec.ID.String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp.Unix(), 10))

	// Custom headers apply in list order; a later entry replaces an earlier
	// one with the same name.
	for _, h := range ep.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a tenant-configured webhook destination.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: latency,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  latency,
	}
	switch {
	case !res.Succeeded():
		res.Error = "HTTP " + strconv.Itoa(resp.StatusCode)
	case readErr != nil:
		// The status already decided the outcome.
		res.Response = ""
	}
	return res
}
