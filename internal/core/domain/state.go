package domain

import "time"

// AgentTag is the closed set of routable specialist identifiers. Routing is
// driven by an explicit AgentTag -> handler table; there is no dynamic node
// name construction, so an unknown tag can never reach execution.
type AgentTag string

const (
	AgentRAG       AgentTag = "rag"
	AgentWebSearch AgentTag = "web_search"
	AgentTool      AgentTag = "tool"
	AgentSQL       AgentTag = "sql"
	AgentProcess   AgentTag = "process"
)

// Graph bookend node names used in pipeline_plan events.
const (
	NodeSupervisor  = "supervisor"
	NodeSynthesizer = "synthesizer"
)

// ComposableAgent reports whether a tag feeds the synthesizer. SQL and
// Process own their whole response stream instead.
func ComposableAgent(tag AgentTag) bool {
	switch tag {
	case AgentRAG, AgentWebSearch, AgentTool:
		return true
	default:
		return false
	}
}

// Turn is one prior conversation exchange entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the per-request configuration flags.
type ChatOptions struct {
	WebSearch    bool
	DeepThink    bool
	Rerank       bool
	SearchMode   SearchMode
	DenseWeight  float64
	Multimodal   bool
	SQLMode      bool
	ConnectionID string
	ToolIDs      []string
	TopK         int
	RerankTopN   int
}

// ChatRequest is the immutable input of one orchestration run.
type ChatRequest struct {
	RunID            string
	Message          string
	KnowledgeBaseIDs []string
	UserID           string
	ModelID          string
	SystemPrompt     string
	History          []Turn
	Options          ChatOptions
}

// AgentResult is one specialist contribution, appended in execution order.
type AgentResult struct {
	Agent    AgentTag      `json:"agent"`
	Context  string        `json:"context"`
	Sources  []SourceRef   `json:"sources,omitempty"`
	Duration time.Duration `json:"-"`
}

// ToolCallRecord is an audit entry for one underlying call, kept for
// fine-tuning export. Input and output are truncated at append time.
type ToolCallRecord struct {
	Name       string `json:"name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}

// ChatState threads one request through every graph node. It is created per
// request and only the currently executing node mutates it, so the
// accumulation fields need no locking.
type ChatState struct {
	Request ChatRequest

	Planned      []AgentTag
	ShortCircuit AgentTag // empty means no short circuit
	CurrentStep  int

	Results   []AgentResult
	ToolCalls []ToolCallRecord
}

// AppendResult records a specialist contribution. A short-circuited agent
// never calls this.
func (s *ChatState) AppendResult(r AgentResult) {
	s.Results = append(s.Results, r)
}

const toolCallTruncateLen = 500

// AppendToolCall records an audit entry, truncating input and output.
func (s *ChatState) AppendToolCall(name, input, output string, d time.Duration) {
	s.ToolCalls = append(s.ToolCalls, ToolCallRecord{
		Name:       name,
		Input:      truncateRunes(input, toolCallTruncateLen),
		Output:     truncateRunes(output, toolCallTruncateLen),
		DurationMS: d.Milliseconds(),
	})
}

// Executed reports whether a tag already appended a result.
func (s *ChatState) Executed(tag AgentTag) bool {
	for _, r := range s.Results {
		if r.Agent == tag {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
