// Package discovery classifies tool descriptors into capability buckets.
// Classification returns a value; callers thread the resulting bindings into
// later call sites instead of relying on process-wide state.
package discovery

import (
	"strings"

	"github.com/mrecos/mcp-gateway/internal/mcp"
)

// Capability names the semantic buckets a tool can be classified into.
type Capability string

const (
	CapabilitySearch    Capability = "search"
	CapabilityAnalysis  Capability = "analysis"
	CapabilityExecution Capability = "execution"
	CapabilityAgent     Capability = "agent"
)

// Binding records the tool resolved for one capability bucket.
type Binding struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"type"`
	Available   bool   `json:"available"`
}

// Capabilities maps each bucket to its discovered binding, nil when no tool
// matched.
type Capabilities struct {
	Search    *Binding `json:"search"`
	Analysis  *Binding `json:"analysis"`
	Execution *Binding `json:"execution"`
	Agent     *Binding `json:"agent"`
}

// ToolFor returns the bound tool name for a capability.
func (c Capabilities) ToolFor(cap Capability) (string, bool) {
	var b *Binding
	switch cap {
	case CapabilitySearch:
		b = c.Search
	case CapabilityAnalysis:
		b = c.Analysis
	case CapabilityExecution:
		b = c.Execution
	case CapabilityAgent:
		b = c.Agent
	}
	if b == nil || b.Name == "" {
		return "", false
	}
	return b.Name, true
}

// Classify assigns each descriptor to at most one bucket using ordered
// heuristics over the declared input schema and free-text description. The
// first matching rule wins; unmatched descriptors are left unclassified.
func Classify(tools []mcp.ToolDescriptor) Capabilities {
	var caps Capabilities
	for _, tool := range tools {
		desc := strings.ToLower(tool.Description)
		name := strings.ToLower(tool.Name)
		schema := tool.InputSchema

		switch {
		case schema.HasProperty("query") && schema.HasProperty("columns"):
			caps.Search = bind(tool, "CORTEX_SEARCH_SERVICE_QUERY")
		case schema.HasProperty("message") && strings.Contains(desc, "semantic"):
			caps.Analysis = bind(tool, "CORTEX_ANALYST_MESSAGE")
		case schema.HasProperty("sql"):
			caps.Execution = bind(tool, "SYSTEM_EXECUTE_SQL")
		case schema.HasProperty("text") && (strings.Contains(desc, "agent") || strings.Contains(name, "agent")):
			caps.Agent = bind(tool, "CORTEX_AGENT_RUN")
		}
	}
	return caps
}

func bind(tool mcp.ToolDescriptor, kind string) *Binding {
	return &Binding{
		Name:        tool.Name,
		Description: tool.Description,
		Kind:        kind,
		Available:   true,
	}
}
