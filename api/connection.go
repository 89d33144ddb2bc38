package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var ErrUpstream = errors.New("upstream request failed")

type Connection interface {
	Request(ctx context.Context, endpoint *url.URL) (*http.Response, error)
}

type ClientSettings struct {
	Scheme            string
	Host              string
	ApiKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// ClientHost throttles requests to the provider's quota and stops calling it after repeated failures
type ClientHost struct {
	client  *http.Client
	scheme  string
	host    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type Client struct {
	Connection Connection
	ApiKey     string
}

func (conn *ClientHost) Request(ctx context.Context, endpoint *url.URL) (*http.Response, error) {
	if err := conn.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	target := *endpoint
	target.Scheme = conn.scheme
	target.Host = conn.host

	res, err := conn.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := conn.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, target.Host, resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := res.(*http.Response)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, target.Host, resp.Status)
	}

	return resp, nil
}

func ClientFactory(settings ClientSettings) *Client {
	if settings.Scheme == "" {
		settings.Scheme = "https"
	}
	if settings.RequestsPerMinute < 1 {
		settings.RequestsPerMinute = 5
	}

	clientHost := &ClientHost{
		client:  &http.Client{Timeout: settings.Timeout},
		scheme:  settings.Scheme,
		host:    settings.Host,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(settings.RequestsPerMinute)), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Host,
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}

	return &Client{
		Connection: clientHost,
		ApiKey:     settings.ApiKey,
	}
}
