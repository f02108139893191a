package cpi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"finquery/lib/testutil"
	"finquery/lib/webclient"

	"github.com/stretchr/testify/require"
)

func indexValue(year int, month time.Month) float64 {
	return float64(year-2000)*10 + float64(month)
}

// blsBody renders a timeseries response the way the v2 api does:
// newest rows first, with an M13 annual-average row per year.
func blsBody(seriesID string, startYear, endYear int) string {
	rows := []string{}
	for year := endYear; year >= startYear; year-- {
		rows = append(rows, fmt.Sprintf(
			`{"year": "%d", "period": "M13", "periodName": "Annual", "value": "999", "footnotes": [{}]}`,
			year))
		for month := time.December; month >= time.January; month-- {
			rows = append(rows, fmt.Sprintf(
				`{"year": "%d", "period": "M%02d", "periodName": "%s", "value": "%.1f", "footnotes": [{}]}`,
				year, int(month), month, indexValue(year, month)))
		}
	}
	return fmt.Sprintf(
		`{"status": "REQUEST_SUCCEEDED", "responseTime": 120, "message": [], "Results": {"series": [{"seriesID": "%s", "data": [%s]}]}}`,
		seriesID, strings.Join(rows, ","))
}

type blsServer struct {
	*httptest.Server
	mu      sync.Mutex
	windows []string
	queries []map[string]string
}

func newBLSServer(t *testing.T) *blsServer {
	server := &blsServer{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+DefaultSeriesID {
			http.NotFound(w, r)
			return
		}
		start := r.URL.Query().Get("startyear")
		end := r.URL.Query().Get("endyear")

		server.mu.Lock()
		server.windows = append(server.windows, start+"-"+end)
		server.queries = append(server.queries, map[string]string{
			"registrationkey": r.URL.Query().Get("registrationkey"),
		})
		server.mu.Unlock()

		var startYear, endYear int
		fmt.Sscanf(start, "%d", &startYear)
		fmt.Sscanf(end, "%d", &endYear)
		fmt.Fprint(w, blsBody(DefaultSeriesID, startYear, endYear))
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *blsServer) requestWindows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	windows := append([]string{}, s.windows...)
	sort.Strings(windows)
	return windows
}

func newTestClient(t *testing.T, serverURL string, opts Options) *Client {
	web, err := webclient.New(webclient.Options{
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	require.NoError(t, err)

	opts.BaseURL = serverURL
	opts.Client = web
	return NewClient(opts)
}

func TestFetch(t *testing.T) {
	server := newBLSServer(t)
	client := newTestClient(t, server.URL, Options{})

	series, err := client.Fetch(context.Background(), 2020, 2021)
	require.NoError(t, err)

	require.Equal(t, DefaultSeriesID, series.ID)
	require.Equal(t, []int{2020, 2021}, series.Years())

	value, ok := series.Value(2020, time.March)
	require.True(t, ok)
	require.Equal(t, indexValue(2020, time.March), value)

	_, ok = series.Value(1999, time.March)
	require.False(t, ok)

	// the M13 annual-average rows never land in the monthly data
	require.Len(t, series.Months(2020), 12)
}

func TestFetchSplitsLongRanges(t *testing.T) {
	server := newBLSServer(t)
	client := newTestClient(t, server.URL, Options{})

	series, err := client.Fetch(context.Background(), 2000, 2019)
	require.NoError(t, err)
	require.Equal(t, []string{"2000-2009", "2010-2019"}, server.requestWindows())

	_, ok := series.Value(2000, time.January)
	require.True(t, ok)
	_, ok = series.Value(2019, time.December)
	require.True(t, ok)
	require.Len(t, series.Years(), 20)
}

func TestFetchSendsRegistrationKey(t *testing.T) {
	server := newBLSServer(t)
	client := newTestClient(t, server.URL, Options{RegistrationKey: "secret"})

	_, err := client.Fetch(context.Background(), 2020, 2021)
	require.NoError(t, err)
	require.Equal(t, "secret", server.queries[0]["registrationkey"])
}

func TestFetchUsesCache(t *testing.T) {
	server := newBLSServer(t)
	service := testutil.SetupService(t, testutil.ServiceParams{
		Name:      "cpi",
		WithCache: true,
	})

	client := newTestClient(t, server.URL, Options{Cache: service.Cache})
	ctx := context.Background()

	first, err := client.Fetch(ctx, 2020, 2021)
	require.NoError(t, err)
	require.Len(t, server.requestWindows(), 1)

	second, err := client.Fetch(ctx, 2020, 2021)
	require.NoError(t, err)
	require.Len(t, server.requestWindows(), 1)
	require.Equal(t, first.Values, second.Values)
}

func TestFetchReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "REQUEST_NOT_PROCESSED", "message": ["daily threshold reached"], "Results": null}`)
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL, Options{})

	_, err := client.Fetch(context.Background(), 2020, 2021)
	require.ErrorContains(t, err, "daily threshold reached")
}

func TestFetchValidatesRange(t *testing.T) {
	server := newBLSServer(t)
	client := newTestClient(t, server.URL, Options{})
	ctx := context.Background()

	_, err := client.Fetch(ctx, 2024, 2020)
	require.Error(t, err)
	_, err = client.Fetch(ctx, 0, 2020)
	require.Error(t, err)
}

func TestSeriesHelpers(t *testing.T) {
	series := &Series{}
	series.set(2021, time.February, 210)
	series.set(2021, time.January, 205)
	series.set(2020, time.June, 200)

	require.Equal(t, []int{2020, 2021}, series.Years())
	require.Equal(t, 2021, series.LatestYear())
	require.Equal(t, []time.Month{time.January, time.February}, series.Months(2021))

	average, ok := series.AnnualAverage(2021)
	require.True(t, ok)
	require.InDelta(t, 207.5, average, 1e-9)

	_, ok = series.AnnualAverage(2019)
	require.False(t, ok)
}

func flatYear(value float64) map[time.Month]float64 {
	months := map[time.Month]float64{}
	for month := time.January; month <= time.December; month++ {
		months[month] = value
	}
	return months
}

func TestCalculatorAdjust(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2000: flatYear(100),
		2024: flatYear(200),
	}})

	adjusted, err := calculator.Adjust(50, 2000, 2024, time.June)
	require.NoError(t, err)
	require.InDelta(t, 100, adjusted, 1e-9)

	// deflating runs the same ratio backwards
	adjusted, err = calculator.Adjust(100, 2024, 2000, time.June)
	require.NoError(t, err)
	require.InDelta(t, 50, adjusted, 1e-9)

	_, err = calculator.Adjust(50, 1980, 2024, time.June)
	require.ErrorContains(t, err, "1980")
}

func TestCalculatorAdjustAnnual(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2022: flatYear(100),
		2024: flatYear(110),
	}})

	adjusted, err := calculator.AdjustAnnual(200, 2022, 2024)
	require.NoError(t, err)
	require.InDelta(t, 220, adjusted, 1e-9)
}

func TestCalculatorToLatest(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2000: flatYear(100),
		2024: flatYear(250),
	}})

	adjusted, err := calculator.ToLatest(40, 2000)
	require.NoError(t, err)
	require.InDelta(t, 100, adjusted, 1e-9)

	_, err = NewCalculator(&Series{}).ToLatest(40, 2000)
	require.ErrorContains(t, err, "empty")
}

func TestCalculatorMonthByMonth(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2024: {
			time.January:  100,
			time.February: 110,
			time.March:    120,
		},
	}})

	values, err := calculator.MonthByMonth(100, 2024)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.InDelta(t, 100, values[time.January], 1e-9)
	require.InDelta(t, 110, values[time.February], 1e-9)
	require.InDelta(t, 120, values[time.March], 1e-9)

	_, err = calculator.MonthByMonth(100, 1980)
	require.ErrorContains(t, err, "1980")
}

func TestCalculatorYearByYear(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2022: flatYear(100),
		2023: flatYear(110),
		2024: flatYear(121),
	}})

	values, err := calculator.YearByYear(100, 3)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.InDelta(t, 121, values[2022], 1e-9)
	require.InDelta(t, 110, values[2023], 1e-9)
	require.InDelta(t, 100, values[2024], 1e-9)

	// a gap inside the window is an error, not a silent hole
	_, err = calculator.YearByYear(100, 5)
	require.ErrorContains(t, err, "2020")

	_, err = calculator.YearByYear(100, 0)
	require.Error(t, err)
}

func TestCalculatorChange(t *testing.T) {
	calculator := NewCalculator(&Series{Values: map[int]map[time.Month]float64{
		2022: flatYear(100),
		2024: flatYear(121),
	}})

	change, err := calculator.Change(2022, 2024)
	require.NoError(t, err)
	require.InDelta(t, 21, change, 1e-9)

	change, err = calculator.Change(2024, 2022)
	require.NoError(t, err)
	require.InDelta(t, -17.355371900826446, change, 1e-9)
}
