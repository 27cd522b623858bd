package roles

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// AgentConfig is the typed view of the keys an agent config blob may carry.
// Other keys pass through to the runtime as extra config.
type AgentConfig struct {
	ToolProfile string `json:"tool_profile"`
	Model       string `json:"model"`
	Persona     string `json:"persona,omitempty"`
}

const agentConfigSchema = `{
	"type": "object",
	"properties": {
		"tool_profile": {"type": "string", "minLength": 1},
		"model": {"type": "string"},
		"persona": {"type": "string"},
		"tools_allowed": {"type": "array", "items": {"type": "string"}},
		"tools_denied": {"type": "array", "items": {"type": "string"}}
	}
}`

var compiledAgentConfigSchema = mustCompileSchema(agentConfigSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal agent config schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agent_config.json", doc); err != nil {
		panic(fmt.Sprintf("add agent config schema: %v", err))
	}
	s, err := c.Compile("agent_config.json")
	if err != nil {
		panic(fmt.Sprintf("compile agent config schema: %v", err))
	}
	return s
}

// ValidateConfig checks an agent config blob. An empty blob is valid.
func ValidateConfig(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("agent config is not JSON: %w", err)
	}
	if err := compiledAgentConfigSchema.Validate(doc); err != nil {
		return fmt.Errorf("agent config invalid: %w", err)
	}
	return nil
}

// SplitConfig validates raw and separates the tool profile and model from
// the rest of the blob. Missing keys default to "full" and "".
func SplitConfig(raw string) (toolProfile, model string, extra map[string]any, err error) {
	toolProfile = "full"
	extra = map[string]any{}
	if err := ValidateConfig(raw); err != nil {
		return toolProfile, "", extra, err
	}
	if strings.TrimSpace(raw) == "" {
		return toolProfile, "", extra, nil
	}
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return toolProfile, "", map[string]any{}, fmt.Errorf("decode agent config: %w", err)
	}
	if v, ok := extra["tool_profile"].(string); ok && v != "" {
		toolProfile = v
	}
	if v, ok := extra["model"].(string); ok {
		model = v
	}
	delete(extra, "tool_profile")
	delete(extra, "model")
	return toolProfile, model, extra, nil
}
