package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/search"
)

// searchMaxResults is how many hits one search surfaces to the model.
const searchMaxResults = 10

// SearchTool queries the configured web search provider.
type SearchTool struct {
	provider search.Provider
}

// NewSearchTool wires the search function to a provider.
func NewSearchTool(p search.Provider) *SearchTool {
	return &SearchTool{provider: p}
}

type searchWebParams struct {
	Query     string `json:"query" jsonschema:"description=Search query; use concise keyword phrases"`
	DateRange string `json:"date_range,omitempty" jsonschema:"enum=all,enum=past_day,enum=past_week,enum=past_month,enum=past_year,description=Restrict results to a recency window"`
}

func (t *SearchTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "search",
			Name:        "info_search_web",
			Description: "Search the web and return ranked result pages with titles, URLs and snippets.",
			Parameters:  schemaFor(&searchWebParams{}),
			Handler:     t.searchWeb,
		},
	}
}

// dateRangeRecency maps the tool's date_range values onto provider recency
// options.
var dateRangeRecency = map[string]string{
	"past_day":   "day",
	"past_week":  "week",
	"past_month": "month",
	"past_year":  "year",
}

func (t *SearchTool) searchWeb(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p searchWebParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return models.Fail("query must not be empty"), nil
	}

	results, err := t.provider.Search(ctx, p.Query, search.Options{
		MaxResults: searchMaxResults,
		Recency:    dateRangeRecency[p.DateRange],
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return models.Fail(fmt.Sprintf("no results for %q", p.Query)), nil
	}

	var buf strings.Builder
	for i, r := range results {
		fmt.Fprintf(&buf, "%d. %s\n%s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			buf.WriteString(r.Snippet)
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}
	return models.OkData(strings.TrimSpace(buf.String()), map[string]any{"results": results}), nil
}
