// Package cpi fetches the consumer price index from the BLS public
// timeseries api and answers purchasing-power questions over it.
package cpi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"finquery/lib/fetch"
	"finquery/lib/fetchcache"
	"finquery/lib/webclient"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finquery.api.cpi")

const DefaultBaseURL = "https://api.bls.gov/publicAPI/v2/timeseries/data"

// DefaultSeriesID is CPI-U: all items, U.S. city average, not
// seasonally adjusted.
const DefaultSeriesID = "CUUR0000SA0"

// the v2 api refuses ranges longer than this per request
const maxYearsPerRequest = 10

type Options struct {
	// BaseURL overrides the BLS timeseries endpoint.
	BaseURL string
	// SeriesID overrides the CPI-U series.
	SeriesID string
	// RegistrationKey raises the BLS rate limits when set.
	RegistrationKey string
	// Client is the connection client to fetch through, nil means
	// the shared one.
	Client *webclient.Client
	// Cache holds fetched year windows when set.
	Cache *fetchcache.Store
	// CacheMaxAge bounds how old a cached window may be. Zero means
	// a day.
	CacheMaxAge time.Duration
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.SeriesID == "" {
		opts.SeriesID = DefaultSeriesID
	}
	if opts.CacheMaxAge == 0 {
		opts.CacheMaxAge = time.Hour * 24
	}
	return &Client{opts: opts}
}

// Series holds monthly index values keyed by year and month.
type Series struct {
	ID     string
	Values map[int]map[time.Month]float64
}

func (s *Series) set(year int, month time.Month, value float64) {
	if s.Values == nil {
		s.Values = map[int]map[time.Month]float64{}
	}
	months, ok := s.Values[year]
	if !ok {
		months = map[time.Month]float64{}
		s.Values[year] = months
	}
	months[month] = value
}

// Value returns the index for one month.
func (s *Series) Value(year int, month time.Month) (float64, bool) {
	value, ok := s.Values[year][month]
	return value, ok
}

// Years returns the years on record in ascending order.
func (s *Series) Years() []int {
	years := []int{}
	for year := range s.Values {
		years = append(years, year)
	}
	sort.Ints(years)
	return years
}

// Months returns a year's months on record in calendar order.
func (s *Series) Months(year int) []time.Month {
	months := []time.Month{}
	for month := range s.Values[year] {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })
	return months
}

// LatestYear returns the newest year on record, zero when the series
// is empty.
func (s *Series) LatestYear() int {
	latest := 0
	for year := range s.Values {
		if year > latest {
			latest = year
		}
	}
	return latest
}

// AnnualAverage returns the mean index over a year's months on record.
// For the current year that is a partial average.
func (s *Series) AnnualAverage(year int) (float64, bool) {
	months := s.Values[year]
	if len(months) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, value := range months {
		sum += value
	}
	return sum / float64(len(months)), true
}

func (c *Client) seriesURL(startYear, endYear int) string {
	query := url.Values{}
	query.Set("startyear", strconv.Itoa(startYear))
	query.Set("endyear", strconv.Itoa(endYear))
	if c.opts.RegistrationKey != "" {
		query.Set("registrationkey", c.opts.RegistrationKey)
	}
	return c.opts.BaseURL + "/" + c.opts.SeriesID + "?" + query.Encode()
}

// parseSeries folds one response body into the series. Only monthly
// periods count, M13 is the api's annual-average row.
func parseSeries(body string, series *Series) error {
	parsed := gjson.Parse(body)

	if status := parsed.Get("status").String(); status != "REQUEST_SUCCEEDED" {
		messages := []string{}
		for _, message := range parsed.Get("message").Array() {
			messages = append(messages, message.String())
		}
		if len(messages) == 0 {
			messages = append(messages, "status "+status)
		}
		return fmt.Errorf("bls request failed: %s", strings.Join(messages, "; "))
	}

	data := parsed.Get("Results.series.0.data")
	if !data.Exists() {
		return fmt.Errorf("bls response carries no series data")
	}

	data.ForEach(func(_, row gjson.Result) bool {
		period := row.Get("period").String()
		number, err := strconv.Atoi(strings.TrimPrefix(period, "M"))
		if !strings.HasPrefix(period, "M") || err != nil || number < 1 || number > 12 {
			return true
		}
		series.set(int(row.Get("year").Int()), time.Month(number), row.Get("value").Float())
		return true
	})
	return nil
}

// Fetch returns the index series over a year range, both ends
// inclusive. Ranges longer than the api's per-request limit are split
// into windows and fetched concurrently.
func (c *Client) Fetch(ctx context.Context, startYear, endYear int) (*Series, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()

	if startYear <= 0 || endYear <= 0 || startYear > endYear {
		return nil, fmt.Errorf("year range %d..%d is not usable", startYear, endYear)
	}
	span.SetAttributes(
		attribute.String("series", c.opts.SeriesID),
		attribute.Int("start_year", startYear),
		attribute.Int("end_year", endYear),
	)

	series := &Series{ID: c.opts.SeriesID}

	missing := []string{}
	keys := map[string]string{}
	for from := startYear; from <= endYear; from += maxYearsPerRequest {
		to := min(from+maxYearsPerRequest-1, endYear)
		requestURL := c.seriesURL(from, to)
		key := fetchcache.Key("cpi", c.opts.SeriesID, fmt.Sprintf("%d-%d", from, to))

		if c.opts.Cache != nil {
			body, found, err := c.opts.Cache.Get(ctx, key, c.opts.CacheMaxAge)
			if err != nil {
				return nil, err
			}
			if found {
				if err := parseSeries(body, series); err != nil {
					return nil, err
				}
				continue
			}
		}
		missing = append(missing, requestURL)
		keys[requestURL] = key
	}
	span.SetAttributes(attribute.Int("requests", len(missing)))

	if len(missing) > 0 {
		results, err := fetch.RequestAll(ctx, missing, fetch.Options{
			Client: c.opts.Client,
			Format: fetch.FormatJSON,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch index windows")
			return nil, err
		}
		for _, result := range results {
			if err := parseSeries(result.Raw, series); err != nil {
				return nil, fmt.Errorf("%s: %w", result.URL, err)
			}
			if c.opts.Cache != nil {
				if err := c.opts.Cache.Put(ctx, keys[result.URL], result.Raw); err != nil {
					return nil, err
				}
			}
		}
	}
	return series, nil
}

// Calculator converts an amount fetched once into a reusable handle
// for purchasing-power arithmetic.
func (c *Client) Calculator(ctx context.Context, startYear, endYear int) (*Calculator, error) {
	series, err := c.Fetch(ctx, startYear, endYear)
	if err != nil {
		return nil, err
	}
	return NewCalculator(series), nil
}

type Calculator struct {
	series *Series
}

func NewCalculator(series *Series) *Calculator {
	return &Calculator{series: series}
}

func (c *Calculator) index(year int, month time.Month) (float64, error) {
	value, ok := c.series.Value(year, month)
	if !ok {
		return 0, fmt.Errorf("no index value for %s %d", month, year)
	}
	if value == 0 {
		return 0, fmt.Errorf("index value for %s %d is zero", month, year)
	}
	return value, nil
}

func (c *Calculator) annual(year int) (float64, error) {
	value, ok := c.series.AnnualAverage(year)
	if !ok {
		return 0, fmt.Errorf("no index values for %d", year)
	}
	if value == 0 {
		return 0, fmt.Errorf("annual index for %d is zero", year)
	}
	return value, nil
}

// Adjust converts an amount between two years using one month's index
// in both years.
func (c *Calculator) Adjust(amount float64, fromYear, toYear int, month time.Month) (float64, error) {
	from, err := c.index(fromYear, month)
	if err != nil {
		return 0, err
	}
	to, err := c.index(toYear, month)
	if err != nil {
		return 0, err
	}
	return amount * to / from, nil
}

// AdjustAnnual converts an amount between two years on annual average
// indexes.
func (c *Calculator) AdjustAnnual(amount float64, fromYear, toYear int) (float64, error) {
	from, err := c.annual(fromYear)
	if err != nil {
		return 0, err
	}
	to, err := c.annual(toYear)
	if err != nil {
		return 0, err
	}
	return amount * to / from, nil
}

// ToLatest converts an amount from a year into the newest year on
// record, on annual averages.
func (c *Calculator) ToLatest(amount float64, fromYear int) (float64, error) {
	latest := c.series.LatestYear()
	if latest == 0 {
		return 0, fmt.Errorf("the series is empty")
	}
	return c.AdjustAnnual(amount, fromYear, latest)
}

// MonthByMonth returns an amount's value in each month of a year
// relative to the year's first month on record.
func (c *Calculator) MonthByMonth(amount float64, year int) (map[time.Month]float64, error) {
	months := c.series.Months(year)
	if len(months) == 0 {
		return nil, fmt.Errorf("no index values for %d", year)
	}

	base, err := c.index(year, months[0])
	if err != nil {
		return nil, err
	}
	out := map[time.Month]float64{}
	for _, month := range months {
		value, _ := c.series.Value(year, month)
		out[month] = amount * value / base
	}
	return out, nil
}

// YearByYear returns what an amount from each of the last n years on
// record is worth in the latest year, on annual averages.
func (c *Calculator) YearByYear(amount float64, years int) (map[int]float64, error) {
	if years <= 0 {
		return nil, fmt.Errorf("year count %d is not usable", years)
	}
	latest := c.series.LatestYear()
	if latest == 0 {
		return nil, fmt.Errorf("the series is empty")
	}

	out := map[int]float64{}
	for year := latest - years + 1; year <= latest; year++ {
		value, err := c.AdjustAnnual(amount, year, latest)
		if err != nil {
			return nil, err
		}
		out[year] = value
	}
	return out, nil
}

// Change returns the percent change of the index between two years on
// annual averages.
func (c *Calculator) Change(fromYear, toYear int) (float64, error) {
	from, err := c.annual(fromYear)
	if err != nil {
		return 0, err
	}
	to, err := c.annual(toYear)
	if err != nil {
		return 0, err
	}
	return (to - from) / from * 100, nil
}
