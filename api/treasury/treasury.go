// Package treasury fetches daily rate tables from the US Treasury's
// interest-rate pages: bill rates and the par yield curve.
package treasury

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finquery/lib/fetch"
	"finquery/lib/fetchcache"
	"finquery/lib/htmlutil"
	"finquery/lib/tabular"
	"finquery/lib/timezone"
	"finquery/lib/webclient"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("finquery.api.treasury")

const DefaultBaseURL = "https://home.treasury.gov/resource-center/data-chart-center/interest-rates/TextView"

// data type slugs of the daily TextView pages
const (
	typeBillRates  = "daily_treasury_bill_rates"
	typeYieldCurve = "daily_treasury_yield_curve"
)

var ErrNoTable = fmt.Errorf("page contains no data table")

// Period selects which slice of the daily tables to fetch: a whole
// year, or one month of one year.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod interprets the period formats the treasury pages accept:
// "" for the month of now, "CY" for the year of now, "YYYY" and
// "YYYYMM".
func ParsePeriod(s string, now time.Time) (Period, error) {
	s = strings.TrimSpace(s)

	if s == "" {
		return Period{Year: now.Year(), Month: now.Month()}, nil
	}
	if strings.EqualFold(s, "CY") {
		return Period{Year: now.Year()}, nil
	}

	digits, err := strconv.Atoi(s)
	if err != nil || digits < 0 {
		return Period{}, fmt.Errorf("period %q is not \"\", \"CY\", YYYY or YYYYMM", s)
	}

	switch len(s) {
	case 4:
		return Period{Year: digits}, nil
	case 6:
		month := time.Month(digits % 100)
		if month < time.January || month > time.December {
			return Period{}, fmt.Errorf("period %q has month %02d", s, digits%100)
		}
		return Period{Year: digits / 100, Month: month}, nil
	}
	return Period{}, fmt.Errorf("period %q is not \"\", \"CY\", YYYY or YYYYMM", s)
}

func (p Period) String() string {
	if p.Month == 0 {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

func (p Period) query() url.Values {
	query := url.Values{}
	if p.Month == 0 {
		query.Set("field_tdr_date_value", fmt.Sprintf("%04d", p.Year))
	} else {
		query.Set("field_tdr_date_value_month", p.String())
	}
	return query
}

type Options struct {
	// BaseURL overrides the treasury TextView endpoint.
	BaseURL string
	// Client is the connection client to fetch through, nil means
	// the shared one.
	Client *webclient.Client
	// Cache holds fetched pages when set.
	Cache *fetchcache.Store
	// CacheMaxAge bounds how old a cached page may be. Zero means
	// one hour.
	CacheMaxAge time.Duration
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.CacheMaxAge == 0 {
		opts.CacheMaxAge = time.Hour
	}
	return &Client{opts: opts}
}

func (c *Client) pageURL(dataType string, period Period) string {
	query := period.query()
	query.Set("type", dataType)
	return c.opts.BaseURL + "?" + query.Encode()
}

func (c *Client) fetchPage(ctx context.Context, dataType string, period Period) (string, error) {
	ctx, span := tracer.Start(ctx, "fetchPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("type", dataType),
		attribute.String("period", period.String()),
	)

	key := fetchcache.Key("treasury", dataType, period.String())
	if c.opts.Cache != nil {
		body, found, err := c.opts.Cache.Get(ctx, key, c.opts.CacheMaxAge)
		if err != nil {
			return "", err
		}
		if found {
			span.AddEvent("cache hit")
			return body, nil
		}
	}

	result, err := fetch.Request(ctx, c.pageURL(dataType, period), fetch.Options{
		Client: c.opts.Client,
		Format: fetch.FormatHTML,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return "", err
	}

	if err := htmlutil.CheckDocument(result.Raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page failed the document check")
		return "", fmt.Errorf("treasury page %s: %w", period, err)
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.Put(ctx, key, result.Raw); err != nil {
			return "", err
		}
	}
	return result.Raw, nil
}

func parseTable(markup string) (*tabular.Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	sel := doc.Find("table").First()
	if sel.Length() == 0 {
		return nil, ErrNoTable
	}

	columns := []string{}
	for _, node := range sel.Find("thead th").Nodes {
		columns = append(columns, htmlutil.CleanText(htmlutil.GetText(node)))
	}
	if len(columns) == 0 {
		return nil, ErrNoTable
	}

	table := tabular.New(columns...)
	sel.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := []string{}
		for _, node := range row.Find("td").Nodes {
			cells = append(cells, htmlutil.CleanText(htmlutil.GetText(node)))
		}
		if len(cells) > 0 {
			table.Append(cells...)
		}
	})

	if table.ColumnIndex("Date") < 0 {
		return nil, fmt.Errorf("data table has no Date column")
	}
	return table, nil
}

func (c *Client) fetchTable(ctx context.Context, dataType string, periodInput string) (*tabular.Table, error) {
	period, err := ParsePeriod(periodInput, timezone.Now())
	if err != nil {
		return nil, err
	}

	markup, err := c.fetchPage(ctx, dataType, period)
	if err != nil {
		return nil, err
	}
	return parseTable(markup)
}

// BillRates returns the daily treasury bill rates for a period. The
// trimmed view keeps the date and the coupon-equivalent yield per
// term, full keeps every scraped column.
func (c *Client) BillRates(ctx context.Context, period string, full bool) (*tabular.Table, error) {
	table, err := c.fetchTable(ctx, typeBillRates, period)
	if err != nil {
		return nil, err
	}
	if full {
		return table, nil
	}
	return couponEquivalentView(table)
}

func couponEquivalentView(table *tabular.Table) (*tabular.Table, error) {
	const suffix = "coupon equivalent"

	columns := []string{}
	terms := map[string]string{}
	for _, column := range table.Columns {
		lowered := strings.ToLower(column)
		if strings.EqualFold(column, "Date") {
			columns = append(columns, column)
			continue
		}
		if strings.Contains(lowered, suffix) {
			columns = append(columns, column)
			terms[column] = htmlutil.CleanText(column[:strings.Index(lowered, suffix)])
		}
	}
	if len(columns) < 2 {
		return nil, fmt.Errorf("bill table has no coupon equivalent columns")
	}

	view, err := table.Select(columns...)
	if err != nil {
		return nil, err
	}
	for column, term := range terms {
		if err := view.Rename(column, term); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// yearly par-yield maturities, the trimmed Yields view
var parMaturities = []string{"1 Yr", "2 Yr", "3 Yr", "5 Yr", "7 Yr", "10 Yr", "20 Yr", "30 Yr"}

// ParYields returns the daily par yield curve rates for a period. The
// trimmed view keeps the date and the 1 through 30 year maturities,
// full keeps every scraped column including the month maturities.
func (c *Client) ParYields(ctx context.Context, period string, full bool) (*tabular.Table, error) {
	table, err := c.fetchTable(ctx, typeYieldCurve, period)
	if err != nil {
		return nil, err
	}
	if full {
		return table, nil
	}

	columns := []string{"Date"}
	for _, maturity := range parMaturities {
		column := findColumn(table, maturity)
		if column == "" {
			return nil, fmt.Errorf("yield table has no %q column", maturity)
		}
		columns = append(columns, column)
	}
	return table.Select(columns...)
}

// AllYields returns the full daily yield curve for a period, every
// maturity from 1 month out to 30 years.
func (c *Client) AllYields(ctx context.Context, period string) (*tabular.Table, error) {
	return c.fetchTable(ctx, typeYieldCurve, period)
}

func findColumn(table *tabular.Table, name string) string {
	for _, column := range table.Columns {
		if strings.EqualFold(column, name) {
			return column
		}
	}
	return ""
}
