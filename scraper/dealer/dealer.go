// Package dealer extracts lease-offer listings from the dealer inventory
// site with a headless browser.
package dealer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"lease-offer-sync/config"
	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

const source = "dealer-site"

// cardData mirrors the JSON shape produced by the in-page extraction script.
type cardData struct {
	StockNumber string   `json:"stockNumber"`
	Title       string   `json:"title"`
	Payment     string   `json:"payment"`
	MSRP        string   `json:"msrp"`
	Term        int      `json:"term"`
	Mileage     int      `json:"mileage"`
	Images      []string `json:"images"`
	DetailURL   string   `json:"detailUrl"`
}

// Extractor drives a headless Chrome session over the dealer's lease-specials
// pages. Missing DOM fields become empty strings; a hard navigation failure
// is an ExtractionError and fatal to the run.
type Extractor struct {
	cfg    *config.Config
	logger *utils.Logger
	pool   *utils.WorkerPool
	seen   *utils.SeenSet
	retry  *utils.RetryConfig
}

// New creates a ready-to-use dealer Extractor.
func New(cfg *config.Config, logger *utils.Logger) *Extractor {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	return &Extractor{
		cfg:    cfg,
		logger: logger,
		pool:   utils.NewWorkerPool(concurrency, cfg.RateLimitMs),
		seen:   utils.NewSeenSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// ListOffers scrapes every inventory page and returns the raw offers found.
// Offers with an empty or duplicate stock number are dropped; everything else
// is kept even when fields are missing.
func (e *Extractor) ListOffers(ctx context.Context) ([]*models.RawOffer, error) {
	allocCtx, cancelAlloc := e.newAllocator(ctx)
	defer cancelAlloc()

	var offers []*models.RawOffer

	currentURL := e.cfg.SourceURL
	for page := 1; page <= e.cfg.MaxPages; page++ {
		e.logger.Info("[dealer] Scraping page %d — %s", page, currentURL)

		cards, nextURL, err := e.scrapePage(allocCtx, currentURL, page)
		if err != nil {
			return nil, &models.ExtractionError{Op: fmt.Sprintf("page %d", page), Err: err}
		}

		if page == 1 && len(cards) == 0 {
			return nil, &models.ExtractionError{
				Op:  "page 1",
				Err: fmt.Errorf("no listing structure found at %s", currentURL),
			}
		}

		for _, c := range cards {
			if c.StockNumber == "" {
				e.logger.Warn("[dealer] Card without stock number skipped (title %q)", c.Title)
				continue
			}
			if !e.seen.Add(c.StockNumber) {
				e.logger.Debug("[dealer] Duplicate stock number skipped: %s", c.StockNumber)
				continue
			}
			offers = append(offers, e.toRawOffer(c))
		}

		if nextURL == "" {
			break
		}
		currentURL = nextURL
	}

	e.fillMissingFields(allocCtx, offers)

	e.logger.Info("[dealer] Extraction complete — %d raw offers", len(offers))
	return offers, nil
}

// FetchDetail scrapes a single offer detail page. Used to fill fields absent
// from the inventory card.
func (e *Extractor) FetchDetail(ctx context.Context, url string) (*models.RawOffer, error) {
	allocCtx, cancelAlloc := e.newAllocator(ctx)
	defer cancelAlloc()
	return e.fetchDetail(allocCtx, url)
}

func (e *Extractor) newAllocator(ctx context.Context) (context.Context, context.CancelFunc) {
	chromeBin := findChromeBinary(e.cfg.ChromeBin)
	e.logger.Debug("[dealer] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	cancel := func() {
		cancelSilent()
		cancelAlloc()
	}
	return silentCtx, cancel
}

func (e *Extractor) scrapePage(allocCtx context.Context, pageURL string, pageNum int) ([]cardData, string, error) {
	var cards []cardData
	var nextURL string

	err := e.retry.Do(allocCtx, fmt.Sprintf("scrape-page-%d", pageNum), func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
		defer cancelTimeout()

		var pageCards []cardData
		var nextPageURL string

		err := chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),

			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(2*time.Second),

			chromedp.Evaluate(`
				(function() {
					var results = [];

					var cardSelectors = [
						'[data-vehicle-card]',
						'.vehicle-card',
						'.inventory-listing',
						'div[class*="srp-vehicle"]'
					];

					var cards = [];
					for (var si = 0; si < cardSelectors.length; si++) {
						cards = document.querySelectorAll(cardSelectors[si]);
						if (cards.length > 0) break;
					}

					function text(card, selectors) {
						for (var i = 0; i < selectors.length; i++) {
							var el = card.querySelector(selectors[i]);
							if (el && el.textContent.trim()) return el.textContent.trim();
						}
						return '';
					}

					for (var i = 0; i < cards.length; i++) {
						var card = cards[i];

						var stock = card.getAttribute('data-stock-number') ||
							text(card, ['.stock-number', '[data-testid="stock"]']);
						stock = stock.replace(/^stock\s*#?\s*/i, '');

						var title = text(card, ['h2', 'h3', '.vehicle-title']);

						var payment = text(card, ['.lease-payment', '.payment', '[data-testid="monthly-payment"]']);
						var msrp = text(card, ['.msrp', '.price-msrp', '[data-testid="msrp"]']);

						var termText = text(card, ['.lease-term', '[data-testid="term"]']);
						var termMatch = termText.match(/(\d+)\s*mo/i);
						var term = termMatch ? parseInt(termMatch[1], 10) : 0;

						var mileageText = text(card, ['.lease-mileage', '[data-testid="mileage"]']);
						var mileageMatch = mileageText.replace(/,/g, '').match(/(\d{4,6})/);
						var mileage = mileageMatch ? parseInt(mileageMatch[1], 10) : 0;

						var images = [];
						var imgs = card.querySelectorAll('img');
						for (var j = 0; j < imgs.length; j++) {
							var src = imgs[j].getAttribute('data-src') || imgs[j].src;
							if (src && src.indexOf('placeholder') === -1 && images.indexOf(src) === -1) {
								images.push(src);
							}
						}

						var link = card.querySelector('a[href*="/inventory/"], a[href*="/vehicle/"]');

						results.push({
							stockNumber: stock,
							title:       title,
							payment:     payment,
							msrp:        msrp,
							term:        term,
							mileage:     mileage,
							images:      images,
							detailUrl:   link ? link.href : ''
						});
					}

					return results;
				})()
			`, &pageCards),

			chromedp.Evaluate(`
				(function() {
					var next = document.querySelector('a[rel="next"]') ||
						document.querySelector('a[aria-label="Next"]') ||
						document.querySelector('.pagination a.next');
					return next && next.href ? next.href : '';
				})()
			`, &nextPageURL),
		)
		if err != nil {
			return fmt.Errorf("chromedp page scrape: %w", err)
		}

		cards = pageCards
		nextURL = nextPageURL
		return nil
	})

	e.logger.Debug("[dealer] Page %d — found %d cards", pageNum, len(cards))
	return cards, nextURL, err
}

// fillMissingFields visits detail pages for offers whose card was missing a
// payment or MSRP. Detail-page failures only leave fields empty; enrichment
// downstream degrades to defaults.
func (e *Extractor) fillMissingFields(allocCtx context.Context, offers []*models.RawOffer) {
	for _, offer := range offers {
		o := offer
		if o.DetailURL == "" {
			// no detail link on this card
			continue
		}
		if o.RawPayment != "" && o.RawMSRP != "" {
			continue
		}
		detailURL := o.DetailURL
		e.pool.Submit(func() {
			detail, err := e.fetchDetail(allocCtx, detailURL)
			if err != nil {
				e.logger.Warn("[dealer] Detail page failed for %s: %v", o.ExternalID, err)
				return
			}
			if o.RawPayment == "" {
				o.RawPayment = detail.RawPayment
			}
			if o.RawMSRP == "" {
				o.RawMSRP = detail.RawMSRP
			}
			if o.TermMonths == 0 {
				o.TermMonths = detail.TermMonths
			}
		})
	}
	e.pool.Wait()
}

func (e *Extractor) fetchDetail(allocCtx context.Context, url string) (*models.RawOffer, error) {
	offer := &models.RawOffer{Source: source, ScrapedAt: time.Now()}

	err := e.retry.Do(allocCtx, "detail-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		var detail cardData

		err := chromedp.Run(ctx,
			chromedp.Navigate(url),
			chromedp.Sleep(3*time.Second),

			chromedp.Evaluate(`
				(function() {
					function text(selectors) {
						for (var i = 0; i < selectors.length; i++) {
							var el = document.querySelector(selectors[i]);
							if (el && el.textContent.trim()) return el.textContent.trim();
						}
						return '';
					}

					var termText = text(['.lease-term', '[data-testid="term"]']);
					var termMatch = termText.match(/(\d+)\s*mo/i);

					return {
						stockNumber: text(['.stock-number', '[data-testid="stock"]']).replace(/^stock\s*#?\s*/i, ''),
						title:       text(['h1', '.vehicle-title']),
						payment:     text(['.lease-payment', '.payment-amount', '[data-testid="monthly-payment"]']),
						msrp:        text(['.msrp', '.price-msrp', '[data-testid="msrp"]']),
						term:        termMatch ? parseInt(termMatch[1], 10) : 0,
						mileage:     0,
						images:      [],
						detailUrl:   ''
					};
				})()
			`, &detail),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}

		offer.ExternalID = detail.StockNumber
		offer.Title = detail.Title
		offer.RawPayment = detail.Payment
		offer.RawMSRP = detail.MSRP
		offer.TermMonths = detail.Term
		return nil
	})

	return offer, err
}

func (e *Extractor) toRawOffer(c cardData) *models.RawOffer {
	return &models.RawOffer{
		ExternalID:       c.StockNumber,
		Title:            c.Title,
		RawPayment:       c.Payment,
		RawMSRP:          c.MSRP,
		ImageURLs:        c.Images,
		TermMonths:       c.Term,
		MileageAllowance: c.Mileage,
		ScrapedAt:        time.Now(),
		Source:           source,
		DetailURL:        c.DetailURL,
	}
}

// findChromeBinary locates the Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
