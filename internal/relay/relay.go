// Package relay posts finished transcripts to the local listener process.
// Delivery is best effort: the listener is often offline and catches up
// through the pull API instead.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dukerupert/debrief/internal/model"
)

// TimeFormat is the layout of created_at in relay and catch-up payloads.
const TimeFormat = "2006-01-02 15:04"

var (
	// ErrUnreachable means the listener could not be reached at all.
	ErrUnreachable = errors.New("listener unreachable")
	// ErrRejected means the listener answered with a non-2xx status.
	ErrRejected = errors.New("listener rejected notification")
)

// Payload is the JSON body sent to the listener.
type Payload struct {
	ID         int64  `json:"id"`
	Transcript string `json:"transcript"`
	RecordedBy string `json:"recorded_by"`
	CreatedAt  string `json:"created_at"`
}

func NewPayload(d *model.Debrief) Payload {
	return Payload{
		ID:         d.ID,
		Transcript: d.Transcript,
		RecordedBy: d.RecordedBy,
		CreatedAt:  d.CreatedAt.Format(TimeFormat),
	}
}

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type Client struct {
	http *resty.Client
	url  string
}

func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          2,
		IdleConnTimeout:       30 * time.Second,
	}

	cli := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.ConnectTimeout+cfg.ReadTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: cli, url: cfg.URL}
}

// Send posts one payload. It returns nil only on a 2xx response; the error
// wraps ErrUnreachable or ErrRejected otherwise.
func (c *Client) Send(ctx context.Context, p Payload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(p).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode())
	}
	return nil
}
