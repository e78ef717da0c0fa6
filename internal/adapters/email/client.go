package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
)

const sendPath = "/v3/mail/send"

// Metrics receives one observation per send attempt, labelled by outcome.
type Metrics interface {
	ObserveSend(outcome string)
}

// Config configures the provider client.
type Config struct {
	BaseURL   string
	Sender    domain.SubscriberEmail
	AuthToken domain.Secret
	Timeout   time.Duration
	// HTTPClient overrides the transport; its Timeout is replaced by Timeout when both are set.
	HTTPClient *http.Client
	Metrics    Metrics
}

// Client sends transactional email through a SendGrid-compatible HTTP API.
// Each Send issues exactly one request; callers own retry policy.
type Client struct {
	endpoint   string
	sender     domain.SubscriberEmail
	authToken  domain.Secret
	timeout    time.Duration
	httpClient *http.Client
	metrics    Metrics
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid email provider base url %q", cfg.BaseURL)
	}
	if cfg.Sender.IsZero() {
		return nil, errors.New("email sender is required")
	}
	if cfg.AuthToken.IsEmpty() {
		return nil, errors.New("email provider auth token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clone := *httpClient
	clone.Timeout = cfg.Timeout

	return &Client{
		endpoint:   base.String() + sendPath,
		sender:     cfg.Sender,
		authToken:  cfg.AuthToken,
		timeout:    cfg.Timeout,
		httpClient: &clone,
		metrics:    cfg.Metrics,
	}, nil
}

type sendEmailRequest struct {
	From             address           `json:"from"`
	Personalizations []personalization `json:"personalizations"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type address struct {
	Email string `json:"email"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send delivers msg with a single POST bounded by the configured timeout.
func (c *Client) Send(ctx context.Context, msg ports.EmailMessage) error {
	err := c.send(ctx, msg)
	c.observe(err)
	return err
}

func (c *Client) send(ctx context.Context, msg ports.EmailMessage) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:             address{Email: c.sender.String()},
		Personalizations: []personalization{{To: []address{{Email: msg.Recipient.String()}}}},
		Subject:          msg.Subject,
		Content: []content{
			{Type: "text/html", Value: msg.HTMLContent},
			{Type: "text/plain", Value: msg.TextContent},
		},
	})
	if err != nil {
		return fmt.Errorf("encode send email request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken.Expose())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SendError{Kind: KindRejected, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) observe(err error) {
	if c.metrics == nil {
		return
	}
	if err == nil {
		c.metrics.ObserveSend("success")
		return
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		c.metrics.ObserveSend(string(sendErr.Kind))
		return
	}
	c.metrics.ObserveSend("error")
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &SendError{Kind: KindTimeout, Err: err}
	}
	return &SendError{Kind: KindNetwork, Err: err}
}
