package pages

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"

	"tourgraph/utils"
)

const (
	maxHighlights   = 8
	maxHighlightLen = 200
	minHighlightLen = 4
	pageTimeout     = 60 * time.Second
	settleDelay     = 3 * time.Second
)

// extractScript collects the bullet points under any heading that mentions
// highlights. Booking pages render them client-side, hence the browser.
const extractScript = `
(function() {
	var out = [];
	var heads = document.querySelectorAll('h2, h3, h4, [data-automation*="highlight"]');
	for (var i = 0; i < heads.length; i++) {
		var h = heads[i];
		if (!/highlight/i.test(h.innerText || h.getAttribute('data-automation') || '')) continue;
		var scope = h.parentElement || h;
		var items = scope.querySelectorAll('li');
		for (var j = 0; j < items.length; j++) {
			out.push(items[j].innerText || '');
		}
		if (out.length) break;
	}
	return out;
})()
`

// HighlightScraper renders listing booking pages in headless Chrome and
// pulls out the highlight bullets.
type HighlightScraper struct {
	logger    *utils.Logger
	retry     *utils.RetryConfig
	chromeBin string

	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewHighlightScraper starts a browser allocator. Close must be called to
// release it.
func NewHighlightScraper(ctx context.Context, chromeBin string, maxAttempts int, logger *utils.Logger) *HighlightScraper {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[pages] Using browser binary: %s", chromeBin)

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
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &HighlightScraper{
		logger:      logger,
		chromeBin:   chromeBin,
		allocCtx:    browserCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
		retry: &utils.RetryConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Highlights returns the cleaned highlight lines of one booking page. An
// empty result with a nil error means the page has no highlights section.
func (s *HighlightScraper) Highlights(ctx context.Context, pageURL string) ([]string, error) {
	var raw []string

	err := s.retry.Do(ctx, "highlights-page", func() error {
		tabCtx, cancel := chromedp.NewContext(s.allocCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageTimeout)
		defer cancelTimeout()

		// Stop the tab when the caller gives up.
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		raw = nil
		if err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(settleDelay),
			chromedp.Evaluate(extractScript, &raw),
		); err != nil {
			return fmt.Errorf("chromedp highlights extract: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cleanHighlights(raw), nil
}

// Close shuts the browser down.
func (s *HighlightScraper) Close() {
	s.cancelTab()
	s.cancelAlloc()
}

// cleanHighlights collapses whitespace, drops fragments and duplicates, and
// caps both the count and the length of each line.
func cleanHighlights(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		line := strings.Join(strings.Fields(r), " ")
		line = strings.TrimLeft(line, "•-–* ")
		if utf8.RuneCountInString(line) < minHighlightLen {
			continue
		}
		if utf8.RuneCountInString(line) > maxHighlightLen {
			line = string([]rune(line)[:maxHighlightLen-3]) + "..."
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
		if len(out) == maxHighlights {
			break
		}
	}
	return out
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
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
