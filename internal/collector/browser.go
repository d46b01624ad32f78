package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blacklist/internal/support"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

var (
	browserMu     sync.Mutex
	sharedBrowser *rod.Browser
)

// FetchRenderedHTML loads a page in a shared headless browser and returns
// the DOM after client-side rendering. Used for portals whose result tables
// only exist after their scripts run.
func FetchRenderedHTML(ctx context.Context, url string, timeout time.Duration) (string, error) {
	browser, err := getBrowser()
	if err != nil {
		return "", fmt.Errorf("browser unavailable: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("browser fetch: page close failed", "error", err)
		}
	}()

	page = page.Context(ctx).Timeout(timeout)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}

	return page.HTML()
}

func getBrowser() (*rod.Browser, error) {
	browserMu.Lock()
	defer browserMu.Unlock()

	if sharedBrowser != nil {
		return sharedBrowser, nil
	}

	// BROWSER_HEADLESS=false keeps a visible window for debugging portal
	// logins locally.
	controlURL, err := launcher.New().Headless(support.GetEnvBool("BROWSER_HEADLESS", true)).Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	sharedBrowser = browser
	log.Debug("Headless browser launched for rendered fetches")
	return sharedBrowser, nil
}

// CloseBrowser shuts the shared browser down; safe to call when none was
// ever launched.
func CloseBrowser() {
	browserMu.Lock()
	defer browserMu.Unlock()

	if sharedBrowser == nil {
		return
	}
	if err := sharedBrowser.Close(); err != nil {
		log.Warn("browser close failed", "error", err)
	}
	sharedBrowser = nil
}
