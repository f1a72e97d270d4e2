package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// KeywordRules are the fast-path intent triggers checked before the LLM
// classifier. The built-in set can be replaced from a YAML file at startup.
type KeywordRules struct {
	Logistics []string `yaml:"logistics"`
	WebSearch []string `yaml:"web_search"`
}

func DefaultKeywordRules() KeywordRules {
	return KeywordRules{
		Logistics: []string{"배차", "운송장", "물류", "배송 일정", "dispatch schedule", "shipment schedule"},
		WebSearch: []string{"latest news", "current price", "오늘 뉴스"},
	}
}

// LoadKeywordRules reads a rule file, falling back to the built-in set for
// any list the file leaves empty.
func LoadKeywordRules(path string) (KeywordRules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeywordRules{}, fmt.Errorf("read keyword rules: %w", err)
	}
	var rules KeywordRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return KeywordRules{}, fmt.Errorf("parse keyword rules: %w", err)
	}
	defaults := DefaultKeywordRules()
	if len(rules.Logistics) == 0 {
		rules.Logistics = defaults.Logistics
	}
	if len(rules.WebSearch) == 0 {
		rules.WebSearch = defaults.WebSearch
	}
	return rules, nil
}

// IntentClassifier maps a message to agent tags with keyword rules first
// and an LLM JSON classification second.
type IntentClassifier struct {
	llm    ports.TextGenerator
	rules  KeywordRules
	logger *slog.Logger
}

func NewIntentClassifier(llm ports.TextGenerator, rules KeywordRules, logger *slog.Logger) *IntentClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules.Logistics) == 0 && len(rules.WebSearch) == 0 {
		rules = DefaultKeywordRules()
	}
	return &IntentClassifier{llm: llm, rules: rules, logger: logger}
}

// Classify returns the agent tags for a message. A logistics keyword match
// returns the process tag alone, which the supervisor turns into a short
// circuit. Explicit request flags are honored regardless of what the model
// answers.
func (c *IntentClassifier) Classify(ctx context.Context, req domain.ChatRequest) ([]domain.AgentTag, error) {
	message := strings.ToLower(req.Message)
	for _, keyword := range c.rules.Logistics {
		if keyword != "" && strings.Contains(message, strings.ToLower(keyword)) {
			return []domain.AgentTag{domain.AgentProcess}, nil
		}
	}

	var tags []domain.AgentTag
	seen := map[domain.AgentTag]struct{}{}
	add := func(tag domain.AgentTag) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	if req.Options.WebSearch {
		add(domain.AgentWebSearch)
	} else {
		for _, keyword := range c.rules.WebSearch {
			if keyword != "" && strings.Contains(message, strings.ToLower(keyword)) {
				add(domain.AgentWebSearch)
				break
			}
		}
	}
	if req.Options.DeepThink {
		add(domain.AgentRAG)
	}

	llmTags, err := c.classifyLLM(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, tag := range llmTags {
		add(tag)
	}
	return tags, nil
}

func (c *IntentClassifier) classifyLLM(ctx context.Context, req domain.ChatRequest) ([]domain.AgentTag, error) {
	raw, err := c.llm.GenerateJSON(ctx, req.ModelID, intentPrompt(req.Message))
	if err != nil {
		return nil, fmt.Errorf("intent classification: %w", err)
	}

	var decoded struct {
		Agents []string `json:"agents"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &decoded); err != nil {
		return nil, fmt.Errorf("parse intent json: %w", err)
	}

	var tags []domain.AgentTag
	for _, name := range decoded.Agents {
		switch domain.AgentTag(strings.ToLower(strings.TrimSpace(name))) {
		case domain.AgentRAG:
			tags = append(tags, domain.AgentRAG)
		case domain.AgentWebSearch:
			tags = append(tags, domain.AgentWebSearch)
		case domain.AgentProcess:
			tags = append(tags, domain.AgentProcess)
		default:
			// Unknown labels from the model are dropped, not routed.
		}
	}
	return tags, nil
}

// Supervisor makes the routing decision for one request and emits the plan
// events. It never fails: a broken classifier degrades to the default plan.
type Supervisor struct {
	classifier *IntentClassifier
	logger     *slog.Logger
}

func NewSupervisor(classifier *IntentClassifier, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{classifier: classifier, logger: logger}
}

// Decide fills either ShortCircuit or Planned on the state. The SQL check
// is unconditional and wins over every other signal.
func (s *Supervisor) Decide(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	opts := st.Request.Options

	if opts.SQLMode && strings.TrimSpace(opts.ConnectionID) != "" {
		st.ShortCircuit = domain.AgentSQL
		s.announce(st, emit)
		return
	}

	tags, err := s.classifier.Classify(ctx, st.Request)
	if err != nil {
		s.logger.Warn("intent classifier failed, using default plan",
			"run_id", st.Request.RunID, "error", err)
		tags = nil
	}

	if len(tags) == 1 && tags[0] == domain.AgentProcess {
		st.ShortCircuit = domain.AgentProcess
		s.announce(st, emit)
		return
	}

	var plan []domain.AgentTag
	seen := map[domain.AgentTag]struct{}{}
	if len(opts.ToolIDs) > 0 {
		plan = append(plan, domain.AgentTool)
		seen[domain.AgentTool] = struct{}{}
	}
	for _, tag := range tags {
		if !domain.ComposableAgent(tag) {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		plan = append(plan, tag)
	}
	if len(plan) == 0 {
		plan = []domain.AgentTag{domain.AgentRAG}
	}

	st.Planned = plan
	s.announce(st, emit)
}

// announce emits the human-readable plan narration and the machine-readable
// pipeline event with the supervisor/synthesizer bookends.
func (s *Supervisor) announce(st *domain.ChatState, emit domain.EventSink) {
	nodes := []string{domain.NodeSupervisor}
	if st.ShortCircuit != "" {
		nodes = append(nodes, string(st.ShortCircuit))
		emit(domain.ThinkingEvent{
			Thinking:    fmt.Sprintf("Routing directly to the %s agent.", st.ShortCircuit),
			ActiveAgent: domain.NodeSupervisor,
		})
	} else {
		names := make([]string, 0, len(st.Planned))
		for _, tag := range st.Planned {
			nodes = append(nodes, string(tag))
			names = append(names, string(tag))
		}
		nodes = append(nodes, domain.NodeSynthesizer)
		emit(domain.ThinkingEvent{
			Thinking:    fmt.Sprintf("Plan: %s.", strings.Join(names, " -> ")),
			ActiveAgent: domain.NodeSupervisor,
		})
	}
	emit(domain.PipelinePlanEvent{Agents: nodes})
}

func intentPrompt(message string) string {
	return fmt.Sprintf(`Classify the user request into agent categories.
Return ONLY a JSON object: {"agents":["rag"|"web_search"|"process", ...]}
- "rag": the answer is in the user's stored documents.
- "web_search": the answer needs current public information.
- "process": the request is about logistics operations (dispatch, shipment schedules).

User request:
%s`, message)
}

// extractJSONObject trims any narration the model wrapped around a JSON
// object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
