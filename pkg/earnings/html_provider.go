package earnings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
}

// HTMLProvider scrapes an earnings calendar page. URLTemplate may contain
// {symbol}; the page must hold a table with "Symbol" and "Earnings Date"
// header cells.
type HTMLProvider struct {
	URLTemplate string
	UserAgent   string
	Client      *http.Client
	now         func() time.Time
}

func NewHTMLProvider(urlTemplate, userAgent string) *HTMLProvider {
	return &HTMLProvider{
		URLTemplate: urlTemplate,
		UserAgent:   userAgent,
		Client:      &http.Client{Timeout: 15 * time.Second},
		now:         time.Now,
	}
}

func (p *HTMLProvider) NextEarnings(ctx context.Context, symbol string) (time.Time, error) {
	url := strings.ReplaceAll(p.URLTemplate, "{symbol}", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("building earnings request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching earnings calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("earnings calendar returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing earnings calendar: %w", err)
	}

	return nextDateFromDocument(doc, symbol, p.now())
}

// nextDateFromDocument returns the earliest date not before today listed for
// symbol in any matching table.
func nextDateFromDocument(doc *goquery.Document, symbol string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var next time.Time

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		symbolCol, dateCol := -1, -1
		table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
			header := strings.ToLower(strings.TrimSpace(cell.Text()))
			switch {
			case header == "symbol" || header == "ticker":
				symbolCol = i
			case strings.Contains(header, "earnings date") || header == "date":
				dateCol = i
			}
		})
		if symbolCol < 0 || dateCol < 0 {
			return
		}

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() <= symbolCol || cells.Length() <= dateCol {
				return
			}
			if !strings.EqualFold(strings.TrimSpace(cells.Eq(symbolCol).Text()), symbol) {
				return
			}
			date, ok := parseDate(cells.Eq(dateCol).Text())
			if !ok || date.Before(today) {
				return
			}
			if next.IsZero() || date.Before(next) {
				next = date
			}
		})
	})

	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoEarningsDate, symbol)
	}
	return next, nil
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
