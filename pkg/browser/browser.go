// Package browser drives the Chrome instance inside a sandbox over the
// DevTools protocol. One Browser attaches to one sandbox's CDP endpoint
// and keeps the session open until Close.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	navigateTimeout = 60 * time.Second
	actionTimeout   = 30 * time.Second

	// viewTextLimit bounds the page text handed back to the model.
	viewTextLimit = 10000
)

// Browser is a lazily connected DevTools session against one Chrome
// instance. Methods are safe for use from the single task runner goroutine;
// the mutex only guards connect/close races with tool approvals.
type Browser struct {
	mu          sync.Mutex
	cdpURL      string
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	logger      *slog.Logger
}

// New creates a Browser bound to a sandbox CDP endpoint. No connection is
// made until the first action.
func New(cdpURL string) *Browser {
	return &Browser{
		cdpURL: cdpURL,
		logger: slog.With("component", "browser"),
	}
}

// session returns the live chromedp context, dialing Chrome on first use.
func (b *Browser) session() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCtx != nil && b.taskCtx.Err() == nil {
		return b.taskCtx, nil
	}
	// The allocator must outlive individual actions, so it hangs off
	// Background rather than any caller context.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), b.cdpURL)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	b.allocCancel = allocCancel
	b.taskCtx = taskCtx
	b.taskCancel = taskCancel
	b.logger.Debug("devtools session opened", "cdp_url", b.cdpURL)
	return taskCtx, nil
}

func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	taskCtx, err := b.session()
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads a URL and returns the resulting page title.
func (b *Browser) Navigate(ctx context.Context, url string) (string, error) {
	var title string
	err := b.run(ctx, navigateTimeout,
		chromedp.Navigate(url),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return title, nil
}

// Restart drops the DevTools session, reconnects, and navigates to url.
// Used when Chrome wedges on a page that stops responding to actions.
func (b *Browser) Restart(ctx context.Context, url string) (string, error) {
	b.Close()
	return b.Navigate(ctx, url)
}

// View returns the current page's title, URL, and visible text, truncated
// for LLM consumption.
func (b *Browser) View(ctx context.Context) (title, url, text string, err error) {
	err = b.run(ctx, actionTimeout,
		chromedp.Title(&title),
		chromedp.Location(&url),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return "", "", "", fmt.Errorf("view page: %w", err)
	}
	if len(text) > viewTextLimit {
		text = text[:viewTextLimit] + "\n... (truncated)"
	}
	return title, url, text, nil
}

// Click clicks the first element matching a CSS selector.
func (b *Browser) Click(ctx context.Context, selector string) error {
	err := b.run(ctx, actionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Input types text into the element matching a CSS selector, optionally
// submitting with Enter.
func (b *Browser) Input(ctx context.Context, selector, text string, pressEnter bool) error {
	keys := text
	if pressEnter {
		keys += "\n"
	}
	err := b.run(ctx, actionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, keys, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("input into %s: %w", selector, err)
	}
	return nil
}

// Scroll scrolls the page by amount pixels; direction is "up" or "down".
// A non-positive amount scrolls by most of one viewport.
func (b *Browser) Scroll(ctx context.Context, direction string, amount int) error {
	up := strings.EqualFold(direction, "up")
	var script string
	if amount > 0 {
		if up {
			amount = -amount
		}
		script = fmt.Sprintf("window.scrollBy(0, %d)", amount)
	} else if up {
		script = "window.scrollBy(0, -window.innerHeight * 0.8)"
	} else {
		script = "window.scrollBy(0, window.innerHeight * 0.8)"
	}
	if err := b.run(ctx, actionTimeout, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// ScrollToEdge jumps to the top or bottom of the page.
func (b *Browser) ScrollToEdge(ctx context.Context, direction string) error {
	script := "window.scrollTo(0, document.body.scrollHeight)"
	if strings.EqualFold(direction, "up") {
		script = "window.scrollTo(0, 0)"
	}
	if err := b.run(ctx, actionTimeout, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll to edge: %w", err)
	}
	return nil
}

// namedKeys maps human key names to DevTools key codes. Unknown names are
// sent as raw characters.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
}

// PressKey sends a keyboard event to the focused element.
func (b *Browser) PressKey(ctx context.Context, key string) error {
	k := key
	if mapped, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		k = mapped
	}
	if err := b.run(ctx, actionTimeout, chromedp.KeyEvent(k)); err != nil {
		return fmt.Errorf("press key %s: %w", key, err)
	}
	return nil
}

// Evaluate runs JavaScript in the page and returns the JSON-decoded result.
func (b *Browser) Evaluate(ctx context.Context, script string) (any, error) {
	var result any
	if err := b.run(ctx, actionTimeout, chromedp.Evaluate(script, &result)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return result, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, actionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close tears down the DevTools session. Safe to call multiple times and
// on a Browser that never connected.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCancel != nil {
		b.taskCancel()
		b.taskCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.taskCtx = nil
}
