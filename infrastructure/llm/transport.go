package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// maxCapturedBody bounds how much of a reply is kept for the verdict.
const maxCapturedBody = 64 << 10

type replyCaptureKey struct{}

// replyCapture records the status and raw body of a provider reply.
// Provider SDKs decode bodies into their own types; the verdict needs the
// body exactly as the provider sent it, both for error statuses and for
// success replies the SDK could not decode.
type replyCapture struct {
	StatusCode int
	Body       []byte
}

// succeeded reports whether a 2xx reply was received.
func (c *replyCapture) succeeded() bool {
	return c.StatusCode >= 200 && c.StatusCode < 300
}

// withReplyCapture returns a context that makes captureTransport record the
// reply of the request issued with it.
func withReplyCapture(ctx context.Context) (context.Context, *replyCapture) {
	c := &replyCapture{}
	return context.WithValue(ctx, replyCaptureKey{}, c), c
}

// captureTransport copies reply bodies into the request's replyCapture and
// hands the SDK an identical, unread body.
type captureTransport struct {
	base http.RoundTripper
}

func (t captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	capture, ok := req.Context().Value(replyCaptureKey{}).(*replyCapture)
	if !ok {
		return resp, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// A failed read still leaves a meaningful status; the SDK then sees
		// whatever part of the body arrived.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
		resp.Body.Close()
		capture.StatusCode = resp.StatusCode
		capture.Body = body
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	// The SDK needs the whole success body, so only the kept copy is bounded.
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	capture.StatusCode = resp.StatusCode
	capture.Body = body[:min(len(body), maxCapturedBody)]
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// newHTTPClient builds the HTTP client handed to provider SDKs.
func newHTTPClient(config ClientConfig) *http.Client {
	return &http.Client{
		Transport: captureTransport{base: http.DefaultTransport},
		Timeout:   ValidateTimeout(config.Timeout),
	}
}
