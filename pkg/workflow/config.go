package workflow

import (
	"encoding/json"
	"time"
)

// Config holds the recognized run options.
type Config struct {
	// MaxIterations caps Observe→Act cycles.
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`
	// HeatCostPerIteration is charged for each cycle after the first.
	HeatCostPerIteration int  `json:"heatCostPerIteration" yaml:"heatCostPerIteration"`
	EnableLooping        bool `json:"enableLooping" yaml:"enableLooping"`
	EnableToolCalling    bool `json:"enableToolCalling" yaml:"enableToolCalling"`
	// ToolExecutionTimeout bounds each tool call made by Reason or Act. JSON
	// carries it as integer milliseconds.
	ToolExecutionTimeout     time.Duration `json:"-" yaml:"toolExecutionTimeout"`
	MaxToolCallsPerReasoning int           `json:"maxToolCallsPerReasoning" yaml:"maxToolCallsPerReasoning"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:            3,
		HeatCostPerIteration:     5,
		EnableLooping:            true,
		EnableToolCalling:        true,
		ToolExecutionTimeout:     30 * time.Second,
		MaxToolCallsPerReasoning: 5,
	}
}

type configJSON struct {
	configFields
	ToolExecutionTimeout int64 `json:"toolExecutionTimeout"`
}

type configFields Config

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{configFields(c), c.ToolExecutionTimeout.Milliseconds()})
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var v configJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = Config(v.configFields)
	c.ToolExecutionTimeout = time.Duration(v.ToolExecutionTimeout) * time.Millisecond
	return nil
}

// withDefaults fills non-positive numeric fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.HeatCostPerIteration < 0 {
		c.HeatCostPerIteration = d.HeatCostPerIteration
	}
	if c.ToolExecutionTimeout <= 0 {
		c.ToolExecutionTimeout = d.ToolExecutionTimeout
	}
	if c.MaxToolCallsPerReasoning < 0 {
		c.MaxToolCallsPerReasoning = d.MaxToolCallsPerReasoning
	}
	return c
}
