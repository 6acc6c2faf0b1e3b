// Package config loads the service configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wilhg/agentsim/pkg/workflow"
)

// Provider selects a registered adapter and its factory options.
type Provider struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// Workflow overrides run defaults. Nil fields keep the default. It is read
// from the YAML file and from execute request bodies.
type Workflow struct {
	MaxIterations        *int  `json:"maxIterations,omitempty" yaml:"maxIterations"`
	HeatCostPerIteration *int  `json:"heatCostPerIteration,omitempty" yaml:"heatCostPerIteration"`
	EnableLooping        *bool `json:"enableLooping,omitempty" yaml:"enableLooping"`
	EnableToolCalling    *bool `json:"enableToolCalling,omitempty" yaml:"enableToolCalling"`
	// ToolExecutionTimeout is in milliseconds; duration strings are accepted.
	ToolExecutionTimeout     *Millis `json:"toolExecutionTimeout,omitempty" yaml:"toolExecutionTimeout"`
	MaxToolCallsPerReasoning *int    `json:"maxToolCallsPerReasoning,omitempty" yaml:"maxToolCallsPerReasoning"`
}

// Apply overlays the set fields on c.
func (w Workflow) Apply(c workflow.Config) workflow.Config {
	if w.MaxIterations != nil {
		c.MaxIterations = *w.MaxIterations
	}
	if w.HeatCostPerIteration != nil {
		c.HeatCostPerIteration = *w.HeatCostPerIteration
	}
	if w.EnableLooping != nil {
		c.EnableLooping = *w.EnableLooping
	}
	if w.EnableToolCalling != nil {
		c.EnableToolCalling = *w.EnableToolCalling
	}
	if w.ToolExecutionTimeout != nil {
		c.ToolExecutionTimeout = w.ToolExecutionTimeout.Duration()
	}
	if w.MaxToolCallsPerReasoning != nil {
		c.MaxToolCallsPerReasoning = *w.MaxToolCallsPerReasoning
	}
	return c
}

type Memory struct {
	BufferLimit       int   `yaml:"bufferLimit"`
	HistoryLimit      int   `yaml:"historyLimit"`
	ContextLimit      int   `yaml:"contextLimit"`
	QueryCacheEntries int64 `yaml:"queryCacheEntries"`
	// EmbedRPS limits embedding calls; 0 disables the limiter.
	EmbedRPS   float64 `yaml:"embedRPS"`
	EmbedBurst int     `yaml:"embedBurst"`
}

// MCPServer is a remote MCP endpoint whose tools are registered locally.
type MCPServer struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type Tools struct {
	Permissions []string    `yaml:"permissions"`
	MCPServers  []MCPServer `yaml:"mcpServers"`
	// ServeMCP exposes the local tools at /mcp.
	ServeMCP bool `yaml:"serveMCP"`
}

type Config struct {
	Addr        string   `yaml:"addr"`
	DatabaseURL string   `yaml:"databaseURL"`
	RedisAddr   string   `yaml:"redisAddr"`
	Embedder    Provider `yaml:"embedder"`
	LLM         Provider `yaml:"llm"`
	VectorIndex Provider `yaml:"vectorIndex"`
	Workflow    Workflow `yaml:"workflow"`
	Memory      Memory   `yaml:"memory"`
	Tools       Tools    `yaml:"tools"`
	TraceStdout bool     `yaml:"traceStdout"`
}

// Default returns a configuration that runs fully offline.
func Default() Config {
	return Config{
		Addr:        ":8080",
		DatabaseURL: "sqlite:file:agentsim.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		Embedder:    Provider{Name: "fake", Options: map[string]any{"dim": 128, "mode": "words"}},
		LLM:         Provider{Name: "fake"},
		VectorIndex: Provider{Name: "memory"},
		Memory: Memory{
			BufferLimit:       100,
			HistoryLimit:      10,
			ContextLimit:      5,
			QueryCacheEntries: 10000,
		},
	}
}

// Load reads path (when non-empty) over Default and then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("AGENTSIM_ADDR", &c.Addr)
	set("DATABASE_URL", &c.DatabaseURL)
	set("AGENTSIM_REDIS_ADDR", &c.RedisAddr)
	set("AGENTSIM_EMBEDDER", &c.Embedder.Name)
	set("AGENTSIM_LLM", &c.LLM.Name)
	set("AGENTSIM_VECTOR_INDEX", &c.VectorIndex.Name)
	if v := getenv("AGENTSIM_EMBED_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AGENTSIM_EMBED_RPS: %w", err)
		}
		c.Memory.EmbedRPS = f
	}
	if v := getenv("AGENTSIM_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTSIM_MAX_ITERATIONS: %w", err)
		}
		c.Workflow.MaxIterations = &n
	}
	if v := getenv("AGENTSIM_TOOL_PERMISSIONS"); v != "" {
		c.Tools.Permissions = splitList(v)
	}
	if v := getenv("AGENTSIM_TRACE_STDOUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AGENTSIM_TRACE_STDOUT: %w", err)
		}
		c.TraceStdout = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
