package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
)

type recordedRequest struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

type providerStub struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	delay    time.Duration
}

func (p *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.requests = append(p.requests, recordedRequest{method: r.Method, path: r.URL.Path, headers: r.Header.Clone(), body: body})
	status, delay := p.status, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) ObserveSend(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration, metrics Metrics) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:   baseURL,
		Sender:    domain.MustParseSubscriberEmail("newsletter@example.com"),
		AuthToken: domain.NewSecret("sg-test-token"),
		Timeout:   timeout,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return client
}

func testMessage() ports.EmailMessage {
	return ports.EmailMessage{
		Recipient:   domain.MustParseSubscriberEmail("reader@example.com"),
		Subject:     "Weekly digest",
		HTMLContent: "<h1>Digest</h1>",
		TextContent: "Digest",
	}
}

func TestSendIssuesExpectedRequest(t *testing.T) {
	t.Parallel()

	stub := &providerStub{status: http.StatusOK}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	metrics := &recordingMetrics{}
	client := newTestClient(t, srv.URL+"/", time.Second, metrics)
	require.NoError(t, client.Send(context.Background(), testMessage()))

	require.Len(t, stub.requests, 1)
	got := stub.requests[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v3/mail/send", got.path)
	assert.Equal(t, "Bearer sg-test-token", got.headers.Get("Authorization"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))

	var payload struct {
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
		Subject string `json:"subject"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "newsletter@example.com", payload.From.Email)
	require.Len(t, payload.Personalizations, 1)
	require.Len(t, payload.Personalizations[0].To, 1)
	assert.Equal(t, "reader@example.com", payload.Personalizations[0].To[0].Email)
	assert.Equal(t, "Weekly digest", payload.Subject)
	require.Len(t, payload.Content, 2)
	assert.Equal(t, "text/html", payload.Content[0].Type)
	assert.Equal(t, "<h1>Digest</h1>", payload.Content[0].Value)
	assert.Equal(t, "text/plain", payload.Content[1].Type)
	assert.Equal(t, "Digest", payload.Content[1].Value)

	assert.Equal(t, []string{"success"}, metrics.outcomes)
}

func TestSendRejectedStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusInternalServerError, http.StatusBadRequest, http.StatusTooManyRequests} {
		stub := &providerStub{status: status}
		srv := httptest.NewServer(stub)

		err := newTestClient(t, srv.URL, time.Second, nil).Send(context.Background(), testMessage())
		srv.Close()

		var sendErr *SendError
		require.True(t, errors.As(err, &sendErr), "status %d", status)
		assert.Equal(t, KindRejected, sendErr.Kind)
		assert.Equal(t, status, sendErr.StatusCode)
		assert.Len(t, stub.requests, 1, "no retries expected")
	}
}

func TestSendTimesOutOnSlowProvider(t *testing.T) {
	t.Parallel()

	stub := &providerStub{status: http.StatusOK, delay: 3 * time.Minute}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	metrics := &recordingMetrics{}
	start := time.Now()
	err := newTestClient(t, srv.URL, 200*time.Millisecond, metrics).Send(context.Background(), testMessage())
	elapsed := time.Since(start)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, KindTimeout, sendErr.Kind)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, []string{"timeout"}, metrics.outcomes)
}

func TestSendNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(t, url, time.Second, nil).Send(context.Background(), testMessage())
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, KindNetwork, sendErr.Kind)
	assert.NotContains(t, err.Error(), "sg-test-token")
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	sender := domain.MustParseSubscriberEmail("newsletter@example.com")
	token := domain.NewSecret("token")

	_, err := NewClient(Config{BaseURL: "not a url", Sender: sender, AuthToken: token})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "https://api.sendgrid.com", AuthToken: token})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "https://api.sendgrid.com", Sender: sender})
	assert.Error(t, err)

	client, err := NewClient(Config{BaseURL: "https://api.sendgrid.com/", Sender: sender, AuthToken: token})
	require.NoError(t, err)
	assert.Equal(t, "https://api.sendgrid.com/v3/mail/send", client.endpoint)
	assert.Equal(t, 10*time.Second, client.httpClient.Timeout)
}
