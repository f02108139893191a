// Package crypto fetches live market pairs and historical OHLCV rows
// for crypto assets from the CoinMarketCap data api.
package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finquery/lib/fetch"
	"finquery/lib/mapping"
	"finquery/lib/webclient"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finquery.api.crypto")

const DefaultBaseURL = "https://api.coinmarketcap.com"

const (
	latestPath     = "/data-api/v3/cryptocurrency/market-pairs/latest"
	historicalPath = "/data-api/v3.1/cryptocurrency/historical"
)

// exchangeTypes maps the centerType filter values the api accepts.
var exchangeTypes = mapping.New([]mapping.Entry{
	{Key: "all"},
	{Key: "cex", Names: []string{"centralized", "centralized exchange"}},
	{Key: "dex", Names: []string{"decentralized", "decentralized exchange"}},
})

// exchanges maps display names to the slugs the api reports, for the
// client-side exchange filter.
var exchanges = mapping.New([]mapping.Entry{
	{Key: "binance", Names: []string{"Binance"}},
	{Key: "coinbase-exchange", Names: []string{"Coinbase Exchange", "Coinbase", "Coinbase Pro", "GDAX"}},
	{Key: "kraken", Names: []string{"Kraken"}},
	{Key: "bitstamp", Names: []string{"Bitstamp"}},
	{Key: "gemini", Names: []string{"Gemini"}},
	{Key: "okx", Names: []string{"OKX", "OKEx"}},
	{Key: "bybit", Names: []string{"Bybit"}},
	{Key: "kucoin", Names: []string{"KuCoin"}},
	{Key: "htx", Names: []string{"HTX", "Huobi", "Huobi Global"}},
	{Key: "gate-io", Names: []string{"Gate.io", "Gate"}},
})

type Options struct {
	// BaseURL overrides the CoinMarketCap data api endpoint.
	BaseURL string
	// Client is the connection client to fetch through, nil means
	// the shared one.
	Client *webclient.Client
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	return &Client{opts: opts}
}

type LatestQuery struct {
	// Slug identifies the asset, e.g. "bitcoin".
	Slug string
	// BaseSymbol keeps only pairs with this base currency, e.g. "BTC".
	BaseSymbol string
	// QuoteSymbol keeps only pairs with this quote currency, e.g. "USDT".
	QuoteSymbol string
	// Exchange keeps only pairs trading on this exchange, by slug or
	// display name.
	Exchange string
	// Limit caps how many pairs the api returns. Zero means 100.
	Limit int
	// ExchangeType is "all", "cex" or "dex". Empty means "all".
	ExchangeType string
}

// MarketPair is one live trading pair of an asset on one exchange.
type MarketPair struct {
	CoinName            string
	CoinSymbol          string
	ExchangeName        string
	ExchangeSlug        string
	MarketPair          string
	Category            string
	BaseSymbol          string
	QuoteSymbol         string
	Price               float64
	VolumeUSD           float64
	EffectiveLiquidity  float64
	LastUpdated         time.Time
	Quote               float64
	VolumeBase          float64
	VolumeQuote         float64
	FeeType             string
	DepthUSDNegativeTwo float64
	DepthUSDPositiveTwo float64
	VolumePercent       float64
	ExchangeType        string
	TimeQueried         time.Time
}

type HistoricalQuery struct {
	// Slug identifies the asset, e.g. "bitcoin".
	Slug  string
	Start time.Time
	End   time.Time
}

// OHLCV is one day of an asset's price history.
type OHLCV struct {
	Symbol      string
	Name        string
	TimeOpen    time.Time
	TimeClose   time.Time
	TimeHigh    time.Time
	TimeLow     time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	MarketCap   float64
	Timestamp   time.Time
	TimeQueried time.Time
}

// wire shapes of the data object
type latestPayload struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	MarketPairs []wireMarketPair `json:"marketPairs"`
}

type wireMarketPair struct {
	ExchangeName        string  `json:"exchangeName"`
	ExchangeSlug        string  `json:"exchangeSlug"`
	MarketPair          string  `json:"marketPair"`
	Category            string  `json:"category"`
	BaseSymbol          string  `json:"baseSymbol"`
	QuoteSymbol         string  `json:"quoteSymbol"`
	Price               float64 `json:"price"`
	VolumeUsd           float64 `json:"volumeUsd"`
	EffectiveLiquidity  float64 `json:"effectiveLiquidity"`
	LastUpdated         string  `json:"lastUpdated"`
	Quote               float64 `json:"quote"`
	VolumeBase          float64 `json:"volumeBase"`
	VolumeQuote         float64 `json:"volumeQuote"`
	FeeType             string  `json:"feeType"`
	DepthUsdNegativeTwo float64 `json:"depthUsdNegativeTwo"`
	DepthUsdPositiveTwo float64 `json:"depthUsdPositiveTwo"`
	VolumePercent       float64 `json:"volumePercent"`
	Type                string  `json:"type"`
}

type historicalPayload struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Quotes []struct {
		TimeOpen  string `json:"timeOpen"`
		TimeClose string `json:"timeClose"`
		TimeHigh  string `json:"timeHigh"`
		TimeLow   string `json:"timeLow"`
		Quote     struct {
			Open      float64 `json:"open"`
			High      float64 `json:"high"`
			Low       float64 `json:"low"`
			Close     float64 `json:"close"`
			Volume    float64 `json:"volume"`
			MarketCap float64 `json:"marketCap"`
			Timestamp string  `json:"timestamp"`
		} `json:"quote"`
	} `json:"quotes"`
}

func (c *Client) latestURL(q LatestQuery, exchangeType string) string {
	query := url.Values{}
	query.Set("slug", q.Slug)
	query.Set("start", "1")
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("category", "spot")
	query.Set("centerType", exchangeType)
	query.Set("sort", "cmc_rank_advanced")
	if q.BaseSymbol != "" {
		query.Set("baseCurrencySymbol", q.BaseSymbol)
	}
	if q.QuoteSymbol != "" {
		query.Set("quoteCurrencySymbol", q.QuoteSymbol)
	}
	return c.opts.BaseURL + latestPath + "?" + query.Encode()
}

func (c *Client) historicalURL(q HistoricalQuery) string {
	query := url.Values{}
	query.Set("slug", q.Slug)
	query.Set("timeStart", q.Start.Format(time.DateOnly))
	query.Set("timeEnd", q.End.Format(time.DateOnly))
	query.Set("interval", "daily")
	return c.opts.BaseURL + historicalPath + "?" + query.Encode()
}

// fetchData requests a url and decodes the response's data object.
func (c *Client) fetchData(ctx context.Context, requestURL string, out any) error {
	result, err := fetch.Request(ctx, requestURL, fetch.Options{
		Client:    c.opts.Client,
		Format:    fetch.FormatJSON,
		TargetKey: "data",
	})
	if err != nil {
		return err
	}
	if !result.Parsed {
		return fmt.Errorf("response is not parseable: %w", result.ParseErr)
	}

	data, ok := result.Value.(map[string]any)
	if !ok {
		return fmt.Errorf("response carries no data object")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func matchesExchange(pair wireMarketPair, filter string) bool {
	if filter == "" {
		return true
	}
	slug := filter
	if canonical, ok := exchanges.Canonical(filter); ok {
		slug = canonical
	}
	return strings.EqualFold(pair.ExchangeSlug, slug) ||
		strings.EqualFold(pair.ExchangeName, filter)
}

// Latest returns the live market pairs of an asset, filtered down to
// the requested exchange when one is named.
func (c *Client) Latest(ctx context.Context, query LatestQuery) ([]MarketPair, error) {
	ctx, span := tracer.Start(ctx, "Latest")
	defer span.End()

	if query.Slug == "" {
		return nil, fmt.Errorf("latest query needs an asset slug")
	}
	if query.Limit <= 0 {
		query.Limit = 100
	}
	exchangeType := "all"
	if query.ExchangeType != "" {
		resolved, ok := exchangeTypes.Canonical(query.ExchangeType)
		if !ok {
			return nil, fmt.Errorf("exchange type %q is not all, cex or dex", query.ExchangeType)
		}
		exchangeType = resolved
	}
	span.SetAttributes(
		attribute.String("slug", query.Slug),
		attribute.String("exchange_type", exchangeType),
	)

	var payload latestPayload
	if err := c.fetchData(ctx, c.latestURL(query, exchangeType), &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch market pairs")
		return nil, err
	}

	queried := time.Now().UTC()
	pairs := []MarketPair{}
	for i, pair := range payload.MarketPairs {
		if !matchesExchange(pair, query.Exchange) {
			continue
		}
		lastUpdated, err := parseTime(pair.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("market pair %d: lastUpdated: %w", i, err)
		}
		pairs = append(pairs, MarketPair{
			CoinName:            payload.Name,
			CoinSymbol:          payload.Symbol,
			ExchangeName:        pair.ExchangeName,
			ExchangeSlug:        pair.ExchangeSlug,
			MarketPair:          pair.MarketPair,
			Category:            pair.Category,
			BaseSymbol:          pair.BaseSymbol,
			QuoteSymbol:         pair.QuoteSymbol,
			Price:               pair.Price,
			VolumeUSD:           pair.VolumeUsd,
			EffectiveLiquidity:  pair.EffectiveLiquidity,
			LastUpdated:         lastUpdated,
			Quote:               pair.Quote,
			VolumeBase:          pair.VolumeBase,
			VolumeQuote:         pair.VolumeQuote,
			FeeType:             pair.FeeType,
			DepthUSDNegativeTwo: pair.DepthUsdNegativeTwo,
			DepthUSDPositiveTwo: pair.DepthUsdPositiveTwo,
			VolumePercent:       pair.VolumePercent,
			ExchangeType:        pair.Type,
			TimeQueried:         queried,
		})
	}
	span.SetAttributes(attribute.Int("pairs", len(pairs)))
	return pairs, nil
}

// Historical returns an asset's daily price history over a date range,
// inclusive on both ends.
func (c *Client) Historical(ctx context.Context, query HistoricalQuery) ([]OHLCV, error) {
	ctx, span := tracer.Start(ctx, "Historical")
	defer span.End()

	if query.Slug == "" {
		return nil, fmt.Errorf("historical query needs an asset slug")
	}
	if query.Start.IsZero() || query.End.IsZero() {
		return nil, fmt.Errorf("historical query needs a start and an end date")
	}
	if query.End.Before(query.Start) {
		return nil, fmt.Errorf("historical range ends (%s) before it starts (%s)",
			query.End.Format(time.DateOnly), query.Start.Format(time.DateOnly))
	}
	span.SetAttributes(
		attribute.String("slug", query.Slug),
		attribute.String("start", query.Start.Format(time.DateOnly)),
		attribute.String("end", query.End.Format(time.DateOnly)),
	)

	var payload historicalPayload
	if err := c.fetchData(ctx, c.historicalURL(query), &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch price history")
		return nil, err
	}

	queried := time.Now().UTC()
	rows := make([]OHLCV, len(payload.Quotes))
	for i, quote := range payload.Quotes {
		row := OHLCV{
			Symbol:      payload.Symbol,
			Name:        payload.Name,
			Open:        quote.Quote.Open,
			High:        quote.Quote.High,
			Low:         quote.Quote.Low,
			Close:       quote.Quote.Close,
			Volume:      quote.Quote.Volume,
			MarketCap:   quote.Quote.MarketCap,
			TimeQueried: queried,
		}

		var err error
		for _, stamp := range []struct {
			into *time.Time
			from string
		}{
			{&row.TimeOpen, quote.TimeOpen},
			{&row.TimeClose, quote.TimeClose},
			{&row.TimeHigh, quote.TimeHigh},
			{&row.TimeLow, quote.TimeLow},
			{&row.Timestamp, quote.Quote.Timestamp},
		} {
			*stamp.into, err = parseTime(stamp.from)
			if err != nil {
				return nil, fmt.Errorf("history row %d: %w", i, err)
			}
		}
		rows[i] = row
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}
