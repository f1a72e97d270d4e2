package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

const (
	contextSeparator        = "\n\n---\n\n"
	defaultReflectThreshold = 400
)

var contextLabels = map[domain.AgentTag]string{
	domain.AgentRAG:       "Knowledge base context",
	domain.AgentWebSearch: "Web search results",
	domain.AgentTool:      "Tool outputs",
}

// Synthesizer merges every specialist contribution into one streamed
// answer. It is the terminal node of every composable path and emits the
// sentinel for those paths.
type Synthesizer struct {
	streamer         ports.TextStreamer
	generator        ports.TextGenerator
	reflectThreshold int
	logger           *slog.Logger
}

func NewSynthesizer(streamer ports.TextStreamer, generator ports.TextGenerator, reflectThreshold int, logger *slog.Logger) *Synthesizer {
	if reflectThreshold <= 0 {
		reflectThreshold = defaultReflectThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		streamer:         streamer,
		generator:        generator,
		reflectThreshold: reflectThreshold,
		logger:           logger,
	}
}

func (s *Synthesizer) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	emit(domain.AgentStatusEvent{Agent: domain.NodeSynthesizer, Status: "active"})
	start := time.Now()

	contextText := s.assembleContext(st)

	sources := dedupeSources(st.Results)
	if len(sources) > 0 {
		emit(domain.SourcesEvent{Sources: sources})
		contextText += contextSeparator +
			"When a statement comes from a source above, cite it with its bracketed index, like [1]."
	}

	emit(domain.ToolCallsMetaEvent{
		ToolCalls: st.ToolCalls,
		Intent:    planIntent(st),
	})

	answer, err := s.streamer.GenerateStream(ctx, st.Request.ModelID,
		answerPrompt(st.Request, contextText),
		func(delta string) error {
			emit(domain.ContentEvent{Content: delta})
			return nil
		})
	if err != nil {
		s.logger.Warn("answer generation failed", "run_id", st.Request.RunID, "error", err)
		emit(domain.ContentEvent{
			Content: "I could not complete the answer. Please try again.",
		})
	} else if st.Request.Options.DeepThink && len([]rune(answer)) >= s.reflectThreshold {
		s.reflect(ctx, st, answer, emit)
	}

	emit(domain.AgentStatusEvent{
		Agent:      domain.NodeSynthesizer,
		Status:     "done",
		DurationMS: time.Since(start).Milliseconds(),
	})
	emit(domain.StreamEnd{})
}

func (s *Synthesizer) assembleContext(st *domain.ChatState) string {
	var parts []string
	for _, result := range st.Results {
		if strings.TrimSpace(result.Context) == "" {
			continue
		}
		label := contextLabels[result.Agent]
		if label == "" {
			label = string(result.Agent)
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s", label, result.Context))
	}
	return strings.Join(parts, contextSeparator)
}

// reflect runs the deep-think pass over the finished answer and forwards
// its findings as thinking events. A reflection failure only costs the
// extra commentary.
func (s *Synthesizer) reflect(ctx context.Context, st *domain.ChatState, answer string, emit domain.EventSink) {
	critique, err := s.generator.Generate(ctx, st.Request.ModelID,
		reflectionPrompt(st.Request.Message, answer))
	if err != nil {
		s.logger.Warn("reflection pass failed", "run_id", st.Request.RunID, "error", err)
		return
	}
	critique = strings.TrimSpace(critique)
	if critique == "" {
		return
	}
	emit(domain.ThinkingEvent{Thinking: critique, ActiveAgent: domain.NodeSynthesizer})
}

func dedupeSources(results []domain.AgentResult) []domain.SourceRef {
	seen := map[string]struct{}{}
	var out []domain.SourceRef
	for _, result := range results {
		for _, src := range result.Sources {
			key := src.Key()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}

func planIntent(st *domain.ChatState) []string {
	out := make([]string, 0, len(st.Planned))
	for _, tag := range st.Planned {
		out = append(out, string(tag))
	}
	return out
}

func answerPrompt(req domain.ChatRequest, contextText string) string {
	var b strings.Builder
	if strings.TrimSpace(req.SystemPrompt) != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, turn := range req.History {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	if contextText != "" {
		b.WriteString("\nUse the following context to answer. If it does not contain the answer, say so.\n\n")
		b.WriteString(contextText)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(req.Message)
	b.WriteString("\nAnswer:")
	return b.String()
}

func reflectionPrompt(question, answer string) string {
	return fmt.Sprintf(`Review the answer below for factual gaps, unsupported claims, and missing caveats.
Reply with a short critique in plain text. Reply with an empty string if the answer is sound.

Question:
%s

Answer:
%s`, question, answer)
}
