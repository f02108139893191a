// Package fetch dispatches requests through the shared web client and
// normalizes what comes back, pairing every result with its url.
package fetch

import (
	"context"
	"log/slog"

	"finquery/lib/normalize"
	"finquery/lib/webclient"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("finquery.lib.fetch")

type Format string

const (
	// FormatHTML leaves the Accept header alone.
	FormatHTML Format = "html"
	// FormatJSON forces Accept: application/json on the request.
	FormatJSON Format = "json"
)

type Options struct {
	// Client is the connection client to fetch through. Nil means
	// the shared one.
	Client *webclient.Client
	// Headers apply to this dispatch only, they win over the
	// format's Accept header and never touch the client.
	Headers map[string]string
	Format  Format
	// TargetKey is the envelope key to extract, empty means the
	// web client's response envelope key.
	TargetKey     string
	KeepStructure bool
	// OnlyParse skips extraction and deep-parses the whole envelope.
	OnlyParse bool
}

// Result pairs one url with its outcome. Parsed tells whether Value
// holds the normalized payload; when normalization failed the raw
// body and the failure are kept instead of being swallowed.
type Result struct {
	URL        string
	StatusCode int
	Value      any
	Raw        string
	Parsed     bool
	ParseErr   error
}

// Any returns the normalized value, or the raw body when
// normalization failed.
func (r Result) Any() any {
	if r.Parsed {
		return r.Value
	}
	return r.Raw
}

func (o Options) client() *webclient.Client {
	if o.Client != nil {
		return o.Client
	}
	return webclient.Shared()
}

func (o Options) headers() map[string]string {
	headers := map[string]string{}
	if o.Format == FormatJSON {
		headers["Accept"] = "application/json"
	}
	for name, value := range o.Headers {
		headers[name] = value
	}
	return headers
}

// Request fetches one url and normalizes the response. Transport
// failures (including statuses >= 400) come back as the error,
// normalization failures come back inside the Result.
func Request(ctx context.Context, url string, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "Request")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	payload, err := opts.client().Get(ctx, url, opts.headers())
	if err != nil {
		return Result{}, err
	}
	return resultFor(ctx, payload, opts), nil
}

// RequestAll fetches every url concurrently through the same client
// and normalizes each response on its own. Results come back in
// argument order, one per url. Any transport failure fails the whole
// dispatch.
func RequestAll(ctx context.Context, urls []string, opts Options) ([]Result, error) {
	if len(urls) == 1 {
		result, err := Request(ctx, urls[0], opts)
		if err != nil {
			return nil, err
		}
		return []Result{result}, nil
	}

	ctx, span := tracer.Start(ctx, "RequestAll")
	defer span.End()
	span.SetAttributes(attribute.Int("urls", len(urls)))

	payloads, err := opts.client().GetAll(ctx, urls, opts.headers())
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(payloads))
	for i, payload := range payloads {
		results[i] = resultFor(ctx, payload, opts)
	}
	return results, nil
}

func resultFor(ctx context.Context, payload webclient.Payload, opts Options) Result {
	result := Result{
		URL:        payload.URL,
		StatusCode: payload.StatusCode,
		Raw:        payload.Body,
	}

	value, err := normalize.Normalize(ctx, payload.Envelope(), normalize.Options{
		TargetKey:     opts.TargetKey,
		KeepStructure: opts.KeepStructure,
		OnlyParse:     opts.OnlyParse,
	})
	if err != nil {
		slog.ErrorContext(ctx, "normalization failed, keeping raw body",
			"url", payload.URL, "err", err)
		result.ParseErr = err
		return result
	}

	result.Value = value
	result.Parsed = true
	return result
}
