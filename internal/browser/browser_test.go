package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/extract"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 60*time.Second, opts.Timeout)
	assert.Equal(t, "fr-CA", opts.Locale)
	assert.Equal(t, "America/Toronto", opts.TimezoneID)
	assert.NotEmpty(t, opts.BlockMarkers)
}

func TestLaunchProxy(t *testing.T) {
	assert.Nil(t, launchProxy(Proxy{}))

	p := launchProxy(Proxy{Server: "http://proxy.local:8080"})
	require.NotNil(t, p)
	assert.Equal(t, "http://proxy.local:8080", p.Server)
	assert.Nil(t, p.Username)

	p = launchProxy(Proxy{Server: "http://proxy.local:8080", Username: "user", Password: "secret"})
	require.NotNil(t, p)
	assert.Equal(t, "user", *p.Username)
	assert.Equal(t, "secret", *p.Password)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	timeout := fmt.Errorf("goto: %w", playwright.ErrTimeout)
	assert.ErrorIs(t, classify(timeout), pagination.ErrPageTimeout)

	other := errors.New("target closed")
	assert.Equal(t, other, classify(other))
	assert.False(t, errors.Is(classify(other), pagination.ErrPageTimeout))
}

func TestBlockMarker(t *testing.T) {
	markers := DefaultOptions().BlockMarkers

	m, ok := blockMarker("<title>Robot or human?</title>", markers)
	assert.True(t, ok)
	assert.Equal(t, "Robot or human?", m)

	_, ok = blockMarker("<title>Liquidation</title>", markers)
	assert.False(t, ok)

	_, ok = blockMarker("anything", []string{""})
	assert.False(t, ok)
}

const listingPage = `<!doctype html>
<html><body>
  <div class="tile"><a href="/p/%[1]d-a">Item %[1]d A</a><span class="price">10,00 $</span><s>20,00 $</s></div>
  <div class="tile"><a href="/p/%[1]d-b">Item %[1]d B</a><span class="price">15,00 $</span></div>
  %[2]s
</body></html>`

func TestIntegrationScrapeLocalListing(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &n)
		next := ""
		if n < 2 {
			next = fmt.Sprintf(`<a rel="next" href="/list?page=%d">Next</a>`, n+1)
		}
		fmt.Fprintf(w, listingPage, n, next)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	b, err := New(DefaultOptions())
	require.NoError(t, err)
	defer b.Close()

	for _, snapshot := range []bool{false, true} {
		t.Run(fmt.Sprintf("snapshot=%v", snapshot), func(t *testing.T) {
			page, err := b.NewSession(SessionOptions{UserAgent: camouflage.DefaultUserAgents()[0], ViewportWidth: 1280, ViewportHeight: 720, Snapshot: snapshot})
			require.NoError(t, err)
			defer page.Close()

			opts := pagination.DefaultOptions()
			opts.ListingURL = server.URL + "/list?page={page}"
			opts.MaxPages = 5
			opts.Strategy = pagination.StrategyNextControl
			opts.NextSelectors = []string{"a[rel=next]"}
			opts.CardSelector = "div.tile"
			opts.Fields = extract.FieldChains{
				models.FieldTitle:             {{Selector: "a"}},
				models.FieldProductURL:        {{Selector: "a", Attr: "href"}},
				models.FieldCurrentPriceText:  {{Selector: ".price"}},
				models.FieldOriginalPriceText: {{Selector: "s"}},
			}
			opts.Builder = extract.RecordBuilder{BaseURL: server.URL}

			behavior := camouflage.New(camouflage.Options{
				Sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
			})
			res, err := pagination.NewController(opts, behavior, nil, nil).Run(context.Background(), page)
			require.NoError(t, err)

			assert.Equal(t, pagination.ReasonNoNextControl, res.Reason)
			assert.Equal(t, 2, res.Pages)
			require.Len(t, res.Records, 4)
			assert.Equal(t, 50, *res.Records[0].DiscountPercent)
		})
	}
}
