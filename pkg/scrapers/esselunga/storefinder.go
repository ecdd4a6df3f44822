package esselunga

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"dealscout/pkg/scrapers"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// PromotionsURL lists the flyer pages of every outlet. The page is
// JS-rendered, so it needs a real browser.
const PromotionsURL = "https://www.esselunga.it/it-it/promozioni.html"

// Outlet is one selectable flyer page.
type Outlet struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FindOutlets renders the promotions page and extracts outlet flyer links,
// optionally filtered by a case-insensitive substring of the outlet name.
// This replaces the in-app browsing flow: the caller picks one of the
// returned URLs and passes it to RegisterStore.
func FindOutlets(ctx context.Context, query string, headless bool) ([]Outlet, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(scrapers.UserAgent),
		chromedp.Flag("headless", headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	renderCtx, cancelRender := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancelRender()

	log.Printf("[%s] Rendering %s", Source, PromotionsURL)

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(PromotionsURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`document.documentElement.outerHTML`, &html),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering promotions page: %w", err)
	}

	return extractOutlets(html, query)
}

func extractOutlets(html, query string) ([]Outlet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]bool)
	var outlets []Outlet

	doc.Find(`a[href*="volantino"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.HasSuffix(href, ".html") {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = "https://www.esselunga.it" + href
		}
		if outletCode(href) == "" || seen[href] {
			return
		}

		name := strings.TrimSpace(sel.Text())
		if query != "" && !strings.Contains(strings.ToLower(name), query) {
			return
		}

		seen[href] = true
		outlets = append(outlets, Outlet{Name: name, URL: href})
	})

	return outlets, nil
}
