package models

// ToolResult is what every tool invocation returns. Tools never surface Go
// errors to the flow; failures come back as Success=false with a message the
// executor can reason about.
type ToolResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ok builds a successful result.
func Ok(message string) *ToolResult {
	return &ToolResult{Success: true, Message: message}
}

// OkData builds a successful result with payload data.
func OkData(message string, data map[string]any) *ToolResult {
	return &ToolResult{Success: true, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail(message string) *ToolResult {
	return &ToolResult{Success: false, Message: message}
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}
