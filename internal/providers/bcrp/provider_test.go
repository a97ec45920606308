package bcrp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

const sampleJSON = `{
  "config": {
    "title": "BCRPData",
    "series": [
      {"name": "Tipo de cambio - TC Interbancario (S/ por US$) - Compra", "dec": "3"},
      {"name": "Tipo de cambio - TC Interbancario (S/ por US$) - Venta", "dec": "3"}
    ]
  },
  "periods": [
    {"name": "Ene.2020", "values": ["3.313", "3.315"]},
    {"name": "Feb.2020", "values": ["n.d.", "3.398"]},
    {"name": "Mar.2020", "values": ["0", "3.491"]}
  ]
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRateLimit(0, 0))
	return c, srv
}

func req(codes ...string) models.SeriesRequest {
	return models.SeriesRequest{Codes: codes, Start: "2020-1", End: "2020-3"}
}

func TestFetchJSON(t *testing.T) {
	var gotPath string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleJSON))
	})

	tbl, err := c.Fetch(context.Background(), req("PD04637PD", "PD04638PD"), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/PD04637PD-PD04638PD/json/2020-1/2020-3/ing" {
		t.Errorf("path: got %q", gotPath)
	}
	if tbl.NumRows() != 3 || tbl.NumCols() != 2 {
		t.Fatalf("shape: got %dx%d, want 3x2", tbl.NumRows(), tbl.NumCols())
	}
	if tbl.Index[1].Label != "Feb.2020" || tbl.Index[1].HasDate() {
		t.Errorf("period labels should be kept opaque, got %+v", tbl.Index[1])
	}

	buy := tbl.Columns[0]
	if buy.Code != "PD04637PD" {
		t.Errorf("code: got %q, want PD04637PD", buy.Code)
	}
	if buy.Values[1].Valid {
		t.Error(`"n.d." must map to null`)
	}
	if !buy.Values[2].Valid || buy.Values[2].Float64 != 0 {
		t.Error(`"0" must map to a valid zero`)
	}
	if buy.Values[0].Float64 != 3.313 {
		t.Errorf("value: got %v, want 3.313", buy.Values[0].Float64)
	}
}

func TestFetchDatetimeMode(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleJSON))
	})
	tbl, err := c.Fetch(context.Background(), req("A", "B"), FetchOptions{Datetime: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := time.Date(2020, time.February, 1, 0, 0, 0, 0, time.UTC)
	if !tbl.Index[1].Date.Equal(want) {
		t.Errorf("date: got %v, want %v", tbl.Index[1].Date, want)
	}
	if tbl.Index[1].Label != "Feb.2020" {
		t.Errorf("label should be preserved, got %q", tbl.Index[1].Label)
	}
}

func TestFetchEmptyPeriods(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"series":[{"name":"x"},{"name":"y"}]},"periods":[]}`))
	})
	tbl, err := c.Fetch(context.Background(), req("X", "Y"), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tbl.NumRows() != 0 || tbl.NumCols() != 2 {
		t.Errorf("shape: got %dx%d, want 0x2", tbl.NumRows(), tbl.NumCols())
	}
}

func TestFetchHTTPStatus(t *testing.T) {
	metrics := observability.NewMetrics("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()
	c := New(WithBaseURL(srv.URL), WithMetrics(metrics))

	tbl, err := c.Fetch(context.Background(), req("A"), FetchOptions{})
	if tbl == nil || !tbl.IsEmpty() {
		t.Fatalf("expected an empty table on failure, got %+v", tbl)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Kind != KindHTTPStatus || fe.StatusCode != http.StatusNotFound {
		t.Errorf("got kind %s status %d", fe.Kind, fe.StatusCode)
	}
	if !errors.Is(err, ErrFetch) || !IsTransport(err) {
		t.Error("HTTP status errors are fetch/transport errors")
	}
	if got := testutil.ToFloat64(metrics.FetchRequests.WithLabelValues(observability.OutcomeError, string(KindHTTPStatus))); got != 1 {
		t.Errorf("error metric: got %v, want 1", got)
	}
}

func TestFetchMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind ErrKind
	}{
		{"not json", `<html>`, KindMalformedResponse},
		{"missing config", `{"periods": []}`, KindMalformedResponse},
		{"missing periods", `{"config": {"series": []}}`, KindMalformedResponse},
		{"ragged row", `{"config":{"series":[{"name":"a"}]},"periods":[{"name":"2020","values":["1","2"]}]}`, KindMalformedResponse},
		{"bad value", `{"config":{"series":[{"name":"a"}]},"periods":[{"name":"2020","values":["abc"]}]}`, KindMalformedValue},
		{"non-finite value", `{"config":{"series":[{"name":"a"}]},"periods":[{"name":"2020","values":["NaN"]}]}`, KindMalformedValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			tbl, err := c.Fetch(context.Background(), req("A"), FetchOptions{})
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("kind: got %s, want %s", fe.Kind, tt.kind)
			}
			if !tbl.IsEmpty() {
				t.Error("expected empty table")
			}
		})
	}
}

func TestFetchDuplicateSeriesNames(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"series":[{"name":"Tipo de cambio - Venta"},{"name":"Tipo de cambio - Venta"}]},` +
			`"periods":[{"name":"Ene.2020","values":["3.31","3.32"]}]}`))
	})

	tbl, err := c.Fetch(context.Background(), req("PD04638PD", "PD04640PD"), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []string{"Tipo de cambio - Venta", "Tipo de cambio - Venta [PD04640PD]"}
	if got := tbl.ColumnNames(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("names: got %q, want %q", got, want)
	}
	if got := tbl.Codes(); strings.Join(got, ",") != "PD04638PD,PD04640PD" {
		t.Errorf("codes: got %q", got)
	}
	if tbl.Columns[1].Values[0].Float64 != 3.32 {
		t.Errorf("values: got %v", tbl.Columns[1].Values)
	}

	// Without a code per column the names are numbered.
	tbl, err = c.Fetch(context.Background(), req("PD04638PD"), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := tbl.Columns[1].Name; got != "Tipo de cambio - Venta #2" {
		t.Errorf("got %q", got)
	}
}

func TestFetchMalformedValueReportsLiteral(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"series":[{"name":"a"}]},"periods":[{"name":"2020","values":["1,5"]}]}`))
	})
	_, err := c.Fetch(context.Background(), req("A"), FetchOptions{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Value != "1,5" {
		t.Errorf("expected offending literal 1,5, got %v", err)
	}
}

func TestFetchMalformedPeriod(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"config":{"series":[{"name":"a"}]},"periods":[{"name":"Foo.2020","values":["1"]}]}`))
	})
	if _, err := c.Fetch(context.Background(), req("A"), FetchOptions{}); err != nil {
		t.Fatalf("labels are opaque without datetime mode: %v", err)
	}
	_, err := c.Fetch(context.Background(), req("A"), FetchOptions{Datetime: true})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindMalformedPeriod {
		t.Errorf("expected malformed period, got %v", err)
	}
}

func TestFetchTimeoutIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(sampleJSON))
	}))
	defer srv.Close()
	c := New(WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))

	_, err := c.Fetch(context.Background(), req("A", "B"), FetchOptions{})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindTransport {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestFetchCSV(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/csv/") {
			t.Errorf("path should carry csv format: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("\xef\xbb\xbfFecha,\"PBI, var%\",Inflacion\nEne.2020,1.5,n.d.\nFeb.2020,-0.2,2.1\n"))
	})
	r := req("A", "B")
	r.Format = models.FormatCSV
	tbl, err := c.Fetch(context.Background(), r, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strings.Join(tbl.ColumnNames(), "|"); got != "PBI, var%|Inflacion" {
		t.Errorf("columns: got %q", got)
	}
	if tbl.Columns[1].Values[0].Valid {
		t.Error("n.d. should be null")
	}
	if tbl.Columns[0].Values[1].Float64 != -0.2 {
		t.Errorf("value: got %v", tbl.Columns[0].Values[1].Float64)
	}
}

func TestFetchHTML(t *testing.T) {
	page := `<html><body><table>
<thead><tr><th>Fecha</th><th>Serie A</th><th>Serie B</th></tr></thead>
<tbody>
<tr><td>Ene.2020</td><td> 1.0 </td><td>n.d.</td></tr>
<tr><td>Feb.2020</td><td>2.0</td><td>3.5</td></tr>
</tbody></table></body></html>`
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	})
	r := req("A", "B")
	r.Format = models.FormatHTML
	tbl, err := c.Fetch(context.Background(), r, FetchOptions{Datetime: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tbl.NumRows() != 2 || tbl.NumCols() != 2 {
		t.Fatalf("shape: got %dx%d", tbl.NumRows(), tbl.NumCols())
	}
	if tbl.Columns[1].Values[0].Valid {
		t.Error("n.d. should be null")
	}
	if tbl.Columns[0].Values[0].Float64 != 1 {
		t.Errorf("value: got %v", tbl.Columns[0].Values[0].Float64)
	}
}

func TestFetchHTMLWithoutThead(t *testing.T) {
	page := `<table><tr><th>Date</th><th>X</th></tr><tr><td>2019</td><td>4</td></tr></table>`
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	})
	r := req("X")
	r.Format = models.FormatHTML
	tbl, err := c.Fetch(context.Background(), r, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tbl.NumRows() != 1 || tbl.ColumnNames()[0] != "X" {
		t.Errorf("got %+v", tbl)
	}
}

func TestURLLanguage(t *testing.T) {
	c := New(WithBaseURL("https://example.test/api/"))
	r := req("PN01288PM")
	r.Language = models.LangSpanish
	if got := c.URL(r); got != "https://example.test/api/PN01288PM/json/2020-1/2020-3/esp" {
		t.Errorf("URL: got %q", got)
	}
}

func TestParsePeriod(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Ene.2010", d(2010, 1, 1)},
		{"Jan.2010", d(2010, 1, 1)},
		{"Set.2016", d(2016, 9, 1)},
		{"Dic.99", d(1999, 12, 1)},
		{"T1.10", d(2010, 1, 1)},
		{"Q3.2010", d(2010, 7, 1)},
		{"S2.15", d(2015, 7, 1)},
		{"2010", d(2010, 1, 1)},
		{"02.Ene.10", d(2010, 1, 2)},
		{"31.Dec.2019", d(2019, 12, 31)},
		{"2010-01", d(2010, 1, 1)},
		{"2010-1", d(2010, 1, 1)},
		{"2010-01-15", d(2010, 1, 15)},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if err != nil {
			t.Errorf("ParsePeriod(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParsePeriod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "Foo.2010", "T5.10", "31.Feb.2020", "20100", "x-y"} {
		if _, err := ParsePeriod(bad); err == nil {
			t.Errorf("ParsePeriod(%q): expected error", bad)
		}
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(" n.d. ")
	if err != nil || v.Valid {
		t.Errorf("sentinel: got %+v, %v", v, err)
	}
	v, err = ParseValue("-1.25")
	if err != nil || !v.Valid || v.Float64 != -1.25 {
		t.Errorf("number: got %+v, %v", v, err)
	}
	if _, err := ParseValue("nd"); err == nil {
		t.Error("expected error for non-numeric literal")
	}
	for _, lit := range []string{"NaN", "Inf", "-Inf", "+infinity"} {
		if _, err := ParseValue(lit); err == nil {
			t.Errorf("ParseValue(%q): expected error for non-finite literal", lit)
		}
	}
}

func TestPing(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/"+pingCode+"/") {
			t.Errorf("ping path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"config":{"series":[{"name":"x"}]},"periods":[]}`))
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
