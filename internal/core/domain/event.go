package domain

import (
	"encoding/json"
	"fmt"
)

// Event is one entry on a request's ordered stream. The variant set is
// closed: every event a node can emit is one of the types below, and the
// wire shape of each variant is fixed by its envelope in EncodeEvent.
type Event interface {
	eventType() string
}

// ThinkingEvent is progress narration shown to the user.
type ThinkingEvent struct {
	Thinking    string
	ActiveAgent string
}

// AgentStatusEvent marks an agent entering or leaving execution.
type AgentStatusEvent struct {
	Agent      string
	Status     string // "active" or "done"
	DurationMS int64  // set on "done"
}

// PipelinePlanEvent is the machine-readable pipeline visualization,
// bookended by the supervisor and synthesizer node names.
type PipelinePlanEvent struct {
	Agents []string
}

// SourcesEvent carries the deduplicated citation list.
type SourcesEvent struct {
	Sources []SourceRef
}

// ToolCallsMetaEvent exports the audit log before answer generation.
type ToolCallsMetaEvent struct {
	ToolCalls []ToolCallRecord
	Intent    []string
}

// SQLEvent carries the generated query (SQL agent only).
type SQLEvent struct {
	SQL string
}

// ContentEvent is incremental answer text; consecutive content events
// concatenate in order.
type ContentEvent struct {
	Content string
}

// StreamEnd is the terminal sentinel. It is never serialized; observing it
// means no further events follow. Every graph path emits exactly one.
type StreamEnd struct{}

func (ThinkingEvent) eventType() string     { return "thinking" }
func (AgentStatusEvent) eventType() string  { return "agent_status" }
func (PipelinePlanEvent) eventType() string { return "pipeline_plan" }
func (SourcesEvent) eventType() string      { return "sources" }
func (ToolCallsMetaEvent) eventType() string {
	return "tool_calls_meta"
}
func (SQLEvent) eventType() string     { return "sql" }
func (ContentEvent) eventType() string { return "content" }
func (StreamEnd) eventType() string    { return "stream_end" }

// EventSink receives events from graph nodes in emission order.
type EventSink func(Event)

// EncodeEvent serializes one event as a JSON object carrying a "type"
// discriminator. StreamEnd has no wire form and is rejected here; the
// boundary signals completion by ending the stream instead.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ThinkingEvent:
		return json.Marshal(struct {
			Type        string `json:"type"`
			Thinking    string `json:"thinking"`
			ActiveAgent string `json:"active_agent"`
		}{"thinking", e.Thinking, e.ActiveAgent})
	case AgentStatusEvent:
		if e.Status == "done" {
			return json.Marshal(struct {
				Type       string `json:"type"`
				Agent      string `json:"agent"`
				Status     string `json:"status"`
				DurationMS int64  `json:"duration_ms"`
			}{"agent_status", e.Agent, e.Status, e.DurationMS})
		}
		return json.Marshal(struct {
			Type   string `json:"type"`
			Agent  string `json:"agent"`
			Status string `json:"status"`
		}{"agent_status", e.Agent, e.Status})
	case PipelinePlanEvent:
		return json.Marshal(struct {
			Type   string   `json:"type"`
			Agents []string `json:"agents"`
		}{"pipeline_plan", e.Agents})
	case SourcesEvent:
		return json.Marshal(struct {
			Type    string      `json:"type"`
			Sources []SourceRef `json:"sources"`
		}{"sources", e.Sources})
	case ToolCallsMetaEvent:
		calls := e.ToolCalls
		if calls == nil {
			calls = []ToolCallRecord{}
		}
		return json.Marshal(struct {
			Type      string           `json:"type"`
			ToolCalls []ToolCallRecord `json:"tool_calls"`
			Intent    []string         `json:"intent"`
		}{"tool_calls_meta", calls, e.Intent})
	case SQLEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			SQL  string `json:"sql"`
		}{"sql", e.SQL})
	case ContentEvent:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{"content", e.Content})
	case StreamEnd:
		return nil, fmt.Errorf("stream end sentinel has no wire form")
	default:
		return nil, fmt.Errorf("unknown event variant %T", ev)
	}
}
