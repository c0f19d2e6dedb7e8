package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"

	"github.com/steadyops/steward/pkg/models"
)

// Canonical BigModel server names. These are recognized everywhere by name
// and their transport/URL are normalized regardless of what the config file
// says.
const (
	BigModelVision = "bigmodel_vision"
	BigModelSearch = "bigmodel_search"
	BigModelReader = "bigmodel_reader"
	BigModelZread  = "bigmodel_zread"
)

// BigModelMCPBase is the hosted MCP endpoint root for the BigModel servers.
const BigModelMCPBase = "https://open.bigmodel.cn/api/mcp"

// LoadMCPConfig reads the MCP server map from path. A missing file yields an
// empty config; a corrupt file is logged and treated as empty so a bad edit
// never takes the process down.
func LoadMCPConfig(path string) *models.MCPConfig {
	empty := &models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read MCP config", "path", path, "error", err)
		}
		return empty
	}
	var cfg models.MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("Failed to parse MCP config, ignoring it", "path", path, "error", err)
		return empty
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]models.MCPServerConfig{}
	}
	return &cfg
}

// SaveMCPConfig writes the MCP server map to path, creating parent
// directories as needed.
func SaveMCPConfig(path string, cfg *models.MCPConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create MCP config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal MCP config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write MCP config: %w", err)
	}
	return nil
}

// BuiltinBigModelServers returns the four canonical server entries for the
// given API keys. The HTTP-based servers are enabled only when their key is
// present; the vision server ships disabled until the user opts in.
func BuiltinBigModelServers(visionKey, searchKey, readerKey, zreadKey string) map[string]models.MCPServerConfig {
	enabled := func(v bool) *bool { return &v }
	servers := map[string]models.MCPServerConfig{
		BigModelVision: {
			Transport: models.MCPTransportStdio,
			Command:   "npx",
			Args:      []string{"-y", "@z_ai/mcp-server"},
			Env: map[string]string{
				"Z_AI_API_KEY": visionKey,
				"Z_AI_MODE":    "ZHIPU",
			},
			Enabled: enabled(false),
		},
	}
	for name, ep := range map[string]struct {
		path string
		key  string
	}{
		BigModelSearch: {"web_search_prime", searchKey},
		BigModelReader: {"web_reader", readerKey},
		BigModelZread:  {"zread", zreadKey},
	} {
		servers[name] = models.MCPServerConfig{
			Transport: models.MCPTransportStreamableHTTP,
			URL:       fmt.Sprintf("%s/%s/mcp", BigModelMCPBase, ep.path),
			Headers:   map[string]string{"Authorization": "Bearer " + ep.key},
			Enabled:   enabled(ep.key != ""),
		}
	}
	return servers
}

// MergeMCPServers overlays src entries onto dst (src wins). Used when the
// settings API rebuilds the built-in servers over a user-edited file.
func MergeMCPServers(dst *models.MCPConfig, src map[string]models.MCPServerConfig) error {
	if dst.MCPServers == nil {
		dst.MCPServers = map[string]models.MCPServerConfig{}
	}
	if err := mergo.Merge(&dst.MCPServers, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge MCP servers: %w", err)
	}
	return nil
}

// BearerToken extracts the token from a server's Authorization header, or ""
// when the header is absent or carries an empty bearer.
func BearerToken(cfg models.MCPServerConfig) string {
	auth := strings.TrimSpace(cfg.Headers["Authorization"])
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
