package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

// builtinServerMeta is the display metadata for the built-in BigModel MCP
// servers. Only these four are exposed through the settings facade; anything
// else in the config file is agent-only.
var builtinServerMeta = map[string]struct {
	Title       string
	Description string
	Transport   models.MCPTransport
}{
	config.BigModelVision: {
		Title:       "BigModel Vision",
		Description: "Send images and requirements, return concrete visual understanding content (suitable for batch image analysis or weak multimodal models)",
		Transport:   models.MCPTransportStdio,
	},
	config.BigModelSearch: {
		Title:       "BigModel Search",
		Description: "Web search MCP that returns searchable links and snippets",
		Transport:   models.MCPTransportStreamableHTTP,
	},
	config.BigModelReader: {
		Title:       "BigModel Reader",
		Description: "Send URL for page interpretation and text extraction",
		Transport:   models.MCPTransportStreamableHTTP,
	},
	config.BigModelZread: {
		Title:       "BigModel ZRead",
		Description: "Analyze GitHub repositories, code files, and repository structures",
		Transport:   models.MCPTransportStreamableHTTP,
	},
}

// BigModelAPIKeys carries the per-server API keys shown in settings.
type BigModelAPIKeys struct {
	VisionAPIKey string `json:"vision_api_key"`
	SearchAPIKey string `json:"search_api_key"`
	ReaderAPIKey string `json:"reader_api_key"`
	ZreadAPIKey  string `json:"zread_api_key"`
}

// MCPServerSetting is the settings view of one built-in server.
type MCPServerSetting struct {
	ServerID    string `json:"server_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Transport   string `json:"transport"`
	Enabled     bool   `json:"enabled"`
	Configured  bool   `json:"configured"`
}

// MCPSettingsResponse is the HTTP response for GET and PUT /mcp/config.
type MCPSettingsResponse struct {
	APIKeys BigModelAPIKeys              `json:"api_keys"`
	Servers map[string]*MCPServerSetting `json:"servers"`
}

// UpdateMCPSettingsRequest is the HTTP request body for PUT /mcp/config.
// Absent keys keep their current values.
type UpdateMCPSettingsRequest struct {
	VisionAPIKey *string `json:"vision_api_key"`
	SearchAPIKey *string `json:"search_api_key"`
	ReaderAPIKey *string `json:"reader_api_key"`
	ZreadAPIKey  *string `json:"zread_api_key"`
}

// getMCPConfigHandler handles GET /api/v1/mcp/config.
func (s *Server) getMCPConfigHandler(c *echo.Context) error {
	cfg := config.LoadMCPConfig(s.settings.MCPConfigPath)
	return c.JSON(http.StatusOK, mcpSettings(currentMCPKeys(cfg)))
}

// updateMCPConfigHandler handles PUT /api/v1/mcp/config. It rebuilds the
// built-in server entries from the merged keys and overlays them onto the
// config file, preserving any user-added servers.
func (s *Server) updateMCPConfigHandler(c *echo.Context) error {
	var req UpdateMCPSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cfg := config.LoadMCPConfig(s.settings.MCPConfigPath)
	keys := currentMCPKeys(cfg)
	if req.VisionAPIKey != nil {
		keys.VisionAPIKey = strings.TrimSpace(*req.VisionAPIKey)
	}
	if req.SearchAPIKey != nil {
		keys.SearchAPIKey = strings.TrimSpace(*req.SearchAPIKey)
	}
	if req.ReaderAPIKey != nil {
		keys.ReaderAPIKey = strings.TrimSpace(*req.ReaderAPIKey)
	}
	if req.ZreadAPIKey != nil {
		keys.ZreadAPIKey = strings.TrimSpace(*req.ZreadAPIKey)
	}

	builtins := config.BuiltinBigModelServers(keys.VisionAPIKey, keys.SearchAPIKey, keys.ReaderAPIKey, keys.ZreadAPIKey)
	if err := config.MergeMCPServers(cfg, builtins); err != nil {
		s.logger.Error("Failed to merge MCP servers", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update MCP config")
	}
	if err := config.SaveMCPConfig(s.settings.MCPConfigPath, cfg); err != nil {
		s.logger.Error("Failed to save MCP config", "path", s.settings.MCPConfigPath, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save MCP config")
	}

	return c.JSON(http.StatusOK, mcpSettings(keys))
}

// currentMCPKeys extracts the BigModel API keys from a loaded config.
func currentMCPKeys(cfg *models.MCPConfig) BigModelAPIKeys {
	var keys BigModelAPIKeys
	if srv, ok := cfg.MCPServers[config.BigModelVision]; ok {
		keys.VisionAPIKey = strings.TrimSpace(srv.Env["Z_AI_API_KEY"])
	}
	if srv, ok := cfg.MCPServers[config.BigModelSearch]; ok {
		keys.SearchAPIKey = config.BearerToken(srv)
	}
	if srv, ok := cfg.MCPServers[config.BigModelReader]; ok {
		keys.ReaderAPIKey = config.BearerToken(srv)
	}
	if srv, ok := cfg.MCPServers[config.BigModelZread]; ok {
		keys.ZreadAPIKey = config.BearerToken(srv)
	}
	return keys
}

// mcpSettings renders the settings view for a key set.
func mcpSettings(keys BigModelAPIKeys) *MCPSettingsResponse {
	servers := config.BuiltinBigModelServers(keys.VisionAPIKey, keys.SearchAPIKey, keys.ReaderAPIKey, keys.ZreadAPIKey)
	keyFor := map[string]string{
		config.BigModelVision: keys.VisionAPIKey,
		config.BigModelSearch: keys.SearchAPIKey,
		config.BigModelReader: keys.ReaderAPIKey,
		config.BigModelZread:  keys.ZreadAPIKey,
	}

	out := make(map[string]*MCPServerSetting, len(builtinServerMeta))
	for id, meta := range builtinServerMeta {
		out[id] = &MCPServerSetting{
			ServerID:    id,
			Title:       meta.Title,
			Description: meta.Description,
			Transport:   string(meta.Transport),
			Enabled:     servers[id].IsEnabled(),
			Configured:  keyFor[id] != "",
		}
	}
	return &MCPSettingsResponse{APIKeys: keys, Servers: out}
}
