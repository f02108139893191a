// Package webclient provides the shared connection client every data
// source in this module fetches through: one resty client with a
// cookie jar, user-agent rotation, rate limiting and tracing.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"finquery/lib/configutil"
	"finquery/lib/telemetry"
	"finquery/lib/useragent"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"golang.org/x/time/rate"
)

type Options struct {
	// BaseURL resolves relative request urls when set.
	BaseURL string
	// UserAgents overrides the built-in rotation pool.
	UserAgents []string
	Timeout    time.Duration
	// RequestsPerSecond throttles every request through the client.
	RequestsPerSecond float64
	Burst             int
	// Jitter adds up to this much random delay before each request.
	Jitter time.Duration
	// BypassCloudflare swaps the transport for one that clears
	// Cloudflare's browser checks.
	BypassCloudflare bool
	// RestrictRedirects refuses redirects leaving the base url's
	// domain. Requires BaseURL.
	RestrictRedirects bool
}

var defaultOptions = Options{
	Timeout:           time.Second * 30,
	RequestsPerSecond: 4,
	Burst:             4,
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	agents  *useragent.Pool
	jitter  time.Duration
}

func New(opts Options) (*Client, error) {
	if err := configutil.ApplyDefaults(&opts, defaultOptions); err != nil {
		return nil, err
	}

	client := resty.New()
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)

	if opts.BypassCloudflare {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.RestrictRedirects {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, err
		}
		if base.Hostname() == "" {
			return nil, fmt.Errorf("restricting redirects requires a base url with a host")
		}
		client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	}
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "finquery.lib.webclient")

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		agents:  useragent.NewPool(opts.UserAgents...),
		jitter:  opts.Jitter,
	}, nil
}

var (
	sharedOnce   sync.Once
	sharedClient *Client
)

// Shared returns the process-wide client used whenever a caller does
// not supply its own.
func Shared() *Client {
	sharedOnce.Do(func() {
		client, err := New(Options{BypassCloudflare: true})
		if err != nil {
			panic(fmt.Sprintf("construct shared web client: %s", err))
		}
		sharedClient = client
	})
	return sharedClient
}

// Header reads a persistent client-level header.
func (c *Client) Header(name string) string {
	return c.http.Header.Get(name)
}

// SetHeader sets a persistent client-level header. Per-request headers
// passed to Get never end up here.
func (c *Client) SetHeader(name, value string) {
	c.http.SetHeader(name, value)
}

func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

type Payload struct {
	URL        string
	StatusCode int
	Body       string
}

// Envelope wraps the payload in the mapping shape the normalizer's
// default target key expects.
func (p Payload) Envelope() map[string]any {
	return map[string]any{
		"url":      p.URL,
		"response": p.Body,
	}
}

func snippet(body string) string {
	if len(body) > 256 {
		return body[:256]
	}
	return body
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.jitter <= 0 {
		return nil
	}

	ms, err := random.IntRange(0, int(c.jitter.Milliseconds())+1)
	if err != nil {
		return err
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get fetches one url. headers apply to this request only, on top of
// the client-level headers and the rotated User-Agent. Statuses >= 400
// return an error alongside the payload.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (Payload, error) {
	if err := c.wait(ctx); err != nil {
		return Payload{}, err
	}

	agent, err := c.agents.Pick()
	if err != nil {
		return Payload{}, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", agent)
	for name, value := range headers {
		req.SetHeader(name, value)
	}

	slog.DebugContext(ctx, "http get", "url", rawURL)
	res, err := req.Get(rawURL)
	if err != nil {
		return Payload{}, fmt.Errorf("get %s: %w", rawURL, err)
	}

	payload := Payload{
		URL:        res.Request.URL,
		StatusCode: res.StatusCode(),
		Body:       res.String(),
	}
	if res.StatusCode() >= 400 {
		return payload, fmt.Errorf("get %s: status %d: %s", rawURL, res.StatusCode(), snippet(payload.Body))
	}
	return payload, nil
}

// GetAll fetches every url concurrently through the client's rate
// limit. Payloads come back in argument order; failed slots keep their
// url and the failures come back joined.
func (c *Client) GetAll(ctx context.Context, urls []string, headers map[string]string) ([]Payload, error) {
	payloads := make([]Payload, len(urls))

	var errList []error
	resultLock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for i, u := range urls {
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()

			payload, err := c.Get(ctx, u, headers)

			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				slog.ErrorContext(ctx, "failed to fetch", "url", u, "err", err)
				payloads[i] = Payload{URL: u, StatusCode: payload.StatusCode}
				errList = append(errList, err)
				return
			}
			payloads[i] = payload
		}()
	}
	wg.Wait()

	if len(errList) > 0 {
		return payloads, errors.Join(errList...)
	}
	return payloads, nil
}
