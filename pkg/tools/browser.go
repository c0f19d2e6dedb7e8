package tools

import (
	"context"
	"fmt"

	"github.com/steadyops/steward/pkg/models"
)

// PageDriver is the browser surface the browser tool needs.
type PageDriver interface {
	Navigate(ctx context.Context, url string) (string, error)
	Restart(ctx context.Context, url string) (string, error)
	View(ctx context.Context) (title, url, text string, err error)
	Click(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string, pressEnter bool) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, direction string, amount int) error
	ScrollToEdge(ctx context.Context, direction string) error
	Evaluate(ctx context.Context, script string) (any, error)
}

// BrowserTool drives the Chrome instance inside the task's sandbox.
type BrowserTool struct {
	browser PageDriver
}

// NewBrowserTool wires the browser functions to a page driver.
func NewBrowserTool(b PageDriver) *BrowserTool {
	return &BrowserTool{browser: b}
}

type browserURLParams struct {
	URL string `json:"url" jsonschema:"description=Complete URL to open including the scheme"`
}

type browserClickParams struct {
	Selector string `json:"selector" jsonschema:"description=CSS selector of the element to click"`
}

type browserInputParams struct {
	Selector   string `json:"selector" jsonschema:"description=CSS selector of the input element"`
	Text       string `json:"text" jsonschema:"description=Text to type into the element"`
	PressEnter bool   `json:"press_enter,omitempty" jsonschema:"description=Whether to submit with Enter after typing"`
}

type browserPressKeyParams struct {
	Key string `json:"key" jsonschema:"description=Key to press such as Enter or ArrowDown"`
}

type browserScrollParams struct {
	ToEdge bool `json:"to_edge,omitempty" jsonschema:"description=Jump all the way to the top or bottom instead of one viewport"`
}

type browserConsoleExecParams struct {
	JavaScript string `json:"javascript" jsonschema:"description=JavaScript expression to evaluate in the page"`
}

type browserEmptyParams struct{}

func (t *BrowserTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "browser",
			Name:        "browser_navigate",
			Description: "Navigate the browser to a URL.",
			Parameters:  schemaFor(&browserURLParams{}),
			Handler:     t.navigate,
		},
		{
			Tool:        "browser",
			Name:        "browser_restart",
			Description: "Restart the browser session and navigate to a URL. Use when the page stops responding.",
			Parameters:  schemaFor(&browserURLParams{}),
			Handler:     t.restart,
		},
		{
			Tool:        "browser",
			Name:        "browser_view",
			Description: "Return the current page's title, URL and visible text.",
			Parameters:  schemaFor(&browserEmptyParams{}),
			Handler:     t.view,
		},
		{
			Tool:        "browser",
			Name:        "browser_click",
			Description: "Click the first element matching a CSS selector.",
			Parameters:  schemaFor(&browserClickParams{}),
			Handler:     t.click,
		},
		{
			Tool:        "browser",
			Name:        "browser_input",
			Description: "Type text into the element matching a CSS selector.",
			Parameters:  schemaFor(&browserInputParams{}),
			Handler:     t.input,
		},
		{
			Tool:        "browser",
			Name:        "browser_press_key",
			Description: "Send a keyboard key to the focused element.",
			Parameters:  schemaFor(&browserPressKeyParams{}),
			Handler:     t.pressKey,
		},
		{
			Tool:        "browser",
			Name:        "browser_scroll_up",
			Description: "Scroll the page up by one viewport, or to the top with to_edge.",
			Parameters:  schemaFor(&browserScrollParams{}),
			Handler:     t.scrollUp,
		},
		{
			Tool:        "browser",
			Name:        "browser_scroll_down",
			Description: "Scroll the page down by one viewport, or to the bottom with to_edge.",
			Parameters:  schemaFor(&browserScrollParams{}),
			Handler:     t.scrollDown,
		},
		{
			Tool:        "browser",
			Name:        "browser_console_exec",
			Description: "Evaluate JavaScript in the page and return the result.",
			Parameters:  schemaFor(&browserConsoleExecParams{}),
			Handler:     t.consoleExec,
		},
	}
}

func (t *BrowserTool) navigate(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserURLParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	title, err := t.browser.Navigate(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("opened %s: %s", p.URL, title),
		map[string]any{"url": p.URL, "title": title}), nil
}

func (t *BrowserTool) restart(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserURLParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	title, err := t.browser.Restart(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("browser restarted at %s: %s", p.URL, title),
		map[string]any{"url": p.URL, "title": title}), nil
}

func (t *BrowserTool) view(ctx context.Context, call Call) (*models.ToolResult, error) {
	title, url, text, err := t.browser.View(ctx)
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("%s (%s)\n\n%s", title, url, text),
		map[string]any{"title": title, "url": url}), nil
}

func (t *BrowserTool) click(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserClickParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if err := t.browser.Click(ctx, p.Selector); err != nil {
		return nil, err
	}
	return models.Ok(fmt.Sprintf("clicked %s", p.Selector)), nil
}

func (t *BrowserTool) input(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserInputParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if err := t.browser.Input(ctx, p.Selector, p.Text, p.PressEnter); err != nil {
		return nil, err
	}
	return models.Ok(fmt.Sprintf("typed into %s", p.Selector)), nil
}

func (t *BrowserTool) pressKey(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserPressKeyParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if err := t.browser.PressKey(ctx, p.Key); err != nil {
		return nil, err
	}
	return models.Ok(fmt.Sprintf("pressed %s", p.Key)), nil
}

func (t *BrowserTool) scrollUp(ctx context.Context, call Call) (*models.ToolResult, error) {
	return t.scroll(ctx, call, "up")
}

func (t *BrowserTool) scrollDown(ctx context.Context, call Call) (*models.ToolResult, error) {
	return t.scroll(ctx, call, "down")
}

func (t *BrowserTool) scroll(ctx context.Context, call Call, direction string) (*models.ToolResult, error) {
	var p browserScrollParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if p.ToEdge {
		if err := t.browser.ScrollToEdge(ctx, direction); err != nil {
			return nil, err
		}
	} else if err := t.browser.Scroll(ctx, direction, 0); err != nil {
		return nil, err
	}
	return models.Ok(fmt.Sprintf("scrolled %s", direction)), nil
}

func (t *BrowserTool) consoleExec(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p browserConsoleExecParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.browser.Evaluate(ctx, p.JavaScript)
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("%v", result), map[string]any{"result": result}), nil
}
