package pagination

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/extract"
)

// ErrPageTimeout marks a navigation or wait that ran out of time. It is the
// only page error the controller treats as transient.
var ErrPageTimeout = errors.New("page timed out")

// Strategy selects how the controller advances past page 1.
type Strategy string

const (
	StrategyURLParam    Strategy = "url-param"
	StrategyNextControl Strategy = "next-control"
)

// Readiness selects what "page loaded" means for a site.
type Readiness string

const (
	ReadyNetworkIdle    Readiness = "networkIdle"
	ReadyDOMContent     Readiness = "domReady"
	ReadyElementPresent Readiness = "elementPresent"
)

// Page is a live listing page driven by the controller.
type Page interface {
	camouflage.Session

	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, readiness Readiness, anchor string) error
	Cards(ctx context.Context, selector string) ([]extract.Card, error)
	// ClickNext clicks the first visible, enabled control matching one of
	// selectors. It returns false when there is none.
	ClickNext(ctx context.Context, selectors []string) (bool, error)
}

// PageURL expands the {page} placeholder in template. When first is set it
// is used verbatim for page 1.
func PageURL(template, first string, n int) string {
	if n <= 1 && first != "" {
		return first
	}
	return strings.ReplaceAll(template, "{page}", strconv.Itoa(n))
}
