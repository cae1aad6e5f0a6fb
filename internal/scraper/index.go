package scraper

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseIndex returns the distinct event_id values linked from a listing
// index page, in document order.
func ParseIndex(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	ids := make([]string, 0)
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "event_id") {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		id := strings.TrimSpace(u.Query().Get("event_id"))
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	})

	return ids, nil
}

// DetailURL builds the detail page address for originID relative to the
// index endpoint. The org_id of the endpoint is carried over.
func DetailURL(endpoint, originID string) (string, error) {
	return pageURL(endpoint, "eventdetail.php", originID, url.Values{
		"hide_buttons": {"yes"},
		"back":         {"min"},
	})
}

// PublicURL is the address of the listing as shown to people
func PublicURL(endpoint, originID string) (string, error) {
	return pageURL(endpoint, "spdetail.php", originID, nil)
}

func pageURL(endpoint, page, originID string, extra url.Values) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}

	ref, err := base.Parse(page)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", page, err)
	}

	q := url.Values{}
	q.Set("event_id", originID)
	if org := base.Query().Get("org_id"); org != "" {
		q.Set("org_id", org)
	}
	for k, v := range extra {
		q[k] = v
	}
	ref.RawQuery = q.Encode()
	return ref.String(), nil
}
