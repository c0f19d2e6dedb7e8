package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

// bigModelCanonical pins URL/command/transport for the hosted BigModel
// servers. User config may rename keys or flip enabled, but these fields
// are always forced so a stale config file cannot point at a dead endpoint.
var bigModelCanonical = map[string]models.MCPServerConfig{
	config.BigModelSearch: {
		URL:       config.BigModelMCPBase + "/web_search_prime/mcp",
		Transport: models.MCPTransportStreamableHTTP,
	},
	config.BigModelReader: {
		URL:       config.BigModelMCPBase + "/web_reader/mcp",
		Transport: models.MCPTransportStreamableHTTP,
	},
	config.BigModelZread: {
		URL:       config.BigModelMCPBase + "/zread/mcp",
		Transport: models.MCPTransportStreamableHTTP,
	},
	config.BigModelVision: {
		Command:   "npx",
		Args:      []string{"-y", "@z_ai/mcp-server"},
		Transport: models.MCPTransportStdio,
	},
}

// Argument whitelists for the BigModel hosted tools. Extra or alias keys
// cause unstable or empty responses upstream, so everything else is
// dropped before the call.
var (
	bigModelSearchAllowed = map[string]bool{
		"search_query":          true,
		"search_domain_filter":  true,
		"search_recency_filter": true,
		"content_size":          true,
		"location":              true,
	}
	bigModelSearchRecency     = map[string]bool{"oneDay": true, "oneWeek": true, "oneMonth": true, "oneYear": true, "noLimit": true}
	bigModelSearchContentSize = map[string]bool{"medium": true, "high": true}
	bigModelSearchLocation    = map[string]bool{"cn": true, "us": true}

	bigModelReaderAllowed = map[string]bool{
		"url":                 true,
		"timeout":             true,
		"no_cache":            true,
		"return_format":       true,
		"retain_images":       true,
		"no_gfm":              true,
		"keep_img_data_url":   true,
		"with_images_summary": true,
		"with_links_summary":  true,
	}

	searchRecencyAliases = map[string]string{
		"past_day":   "oneDay",
		"day":        "oneDay",
		"past_week":  "oneWeek",
		"week":       "oneWeek",
		"past_month": "oneMonth",
		"month":      "oneMonth",
		"past_year":  "oneYear",
		"year":       "oneYear",
	}
)

// searchQueryMaxLen bounds the query forwarded to BigModel Search.
const searchQueryMaxLen = 70

// normalizeBigModelServer forces canonical connection fields onto known
// BigModel server entries. Other servers pass through untouched.
func normalizeBigModelServer(name string, cfg *models.MCPServerConfig) {
	canonical, ok := bigModelCanonical[name]
	if !ok {
		return
	}
	if canonical.URL != "" {
		cfg.URL = canonical.URL
	}
	if canonical.Command != "" {
		cfg.Command = canonical.Command
	}
	if canonical.Args != nil {
		cfg.Args = canonical.Args
	}
	if canonical.Transport != "" {
		cfg.Transport = canonical.Transport
	}
}

// normalizeBigModelArguments rewrites model-invented argument shapes into
// the official BigModel schemas. Non-BigModel tools get their arguments
// back unchanged.
func normalizeBigModelArguments(serverName, toolName string, arguments map[string]any) map[string]any {
	args := make(map[string]any, len(arguments))
	for k, v := range arguments {
		args[k] = v
	}

	if serverName == config.BigModelSearch && toolName == "webSearchPrime" {
		return normalizeSearchArgs(args)
	}
	if serverName == config.BigModelReader && toolName == "webReader" {
		return normalizeReaderArgs(args)
	}
	return args
}

func normalizeSearchArgs(args map[string]any) map[string]any {
	if _, ok := args["search_query"]; !ok {
		for _, alias := range []string{"query", "keyword", "q"} {
			if v, ok := args[alias]; ok && strings.TrimSpace(stringify(v)) != "" {
				args["search_query"] = v
				break
			}
		}
	}
	if _, ok := args["search_domain_filter"]; !ok {
		for _, alias := range []string{"domain", "site"} {
			if v, ok := args[alias]; ok && strings.TrimSpace(stringify(v)) != "" {
				args["search_domain_filter"] = v
				break
			}
		}
	}
	if _, ok := args["search_recency_filter"]; !ok {
		for _, alias := range []string{"date_range", "recency", "time_range"} {
			if v, ok := args[alias]; ok && strings.TrimSpace(stringify(v)) != "" {
				raw := strings.TrimSpace(stringify(v))
				if mapped, ok := searchRecencyAliases[raw]; ok {
					raw = mapped
				}
				args["search_recency_filter"] = raw
				break
			}
		}
	}

	args = keepAllowed(args, bigModelSearchAllowed)

	q := strings.TrimSpace(stringify(args["search_query"]))
	if r := []rune(q); len(r) > searchQueryMaxLen {
		q = string(r[:searchQueryMaxLen])
	}
	args["search_query"] = q

	if v, ok := args["search_recency_filter"]; ok {
		if !bigModelSearchRecency[strings.TrimSpace(stringify(v))] {
			delete(args, "search_recency_filter")
		}
	}
	if v, ok := args["content_size"]; ok {
		if !bigModelSearchContentSize[strings.TrimSpace(stringify(v))] {
			args["content_size"] = "high"
		}
	} else {
		args["content_size"] = "high"
	}
	if v, ok := args["location"]; ok {
		if !bigModelSearchLocation[strings.ToLower(strings.TrimSpace(stringify(v)))] {
			delete(args, "location")
		}
	}
	return args
}

func normalizeReaderArgs(args map[string]any) map[string]any {
	if _, ok := args["url"]; !ok {
		for _, alias := range []string{"link", "uri"} {
			if v, ok := args[alias]; ok && strings.TrimSpace(stringify(v)) != "" {
				args["url"] = v
				break
			}
		}
	}
	args = keepAllowed(args, bigModelReaderAllowed)
	if _, ok := args["return_format"]; !ok {
		args["return_format"] = "markdown"
	}
	return args
}

// keepAllowed filters args down to whitelisted keys, dropping nils and
// empty strings.
func keepAllowed(args map[string]any, allowed map[string]bool) map[string]any {
	kept := make(map[string]any, len(args))
	for k, v := range args {
		if !allowed[k] {
			continue
		}
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		kept[k] = v
	}
	return kept
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// maxJSONDepth bounds how many times a string result is re-decoded. MCP
// servers frequently return JSON encoded inside JSON strings.
const maxJSONDepth = 4

// parseDeepJSON unwraps nested JSON-encoded strings up to maxJSONDepth
// passes. Non-JSON strings and non-string values come back unchanged.
func parseDeepJSON(value any) any {
	current := value
	for i := 0; i < maxJSONDepth; i++ {
		s, ok := current.(string)
		if !ok {
			break
		}
		text := strings.TrimSpace(s)
		if text == "" {
			break
		}
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			break
		}
		if ps, ok := parsed.(string); ok && ps == s {
			break
		}
		current = parsed
	}
	return current
}
