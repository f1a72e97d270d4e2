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

// agentOutcome is what one composable agent produced for the synthesizer
// plus the audit record of its underlying call.
type agentOutcome struct {
	context    string
	sources    []domain.SourceRef
	callName   string
	callInput  string
	callOutput string
}

// runComposable wraps one specialist in the shared contract: thinking and
// status events around the work, exactly one result record and one audit
// record on the state, and every failure converted into an empty context.
func runComposable(
	ctx context.Context,
	tag domain.AgentTag,
	thinking string,
	st *domain.ChatState,
	emit domain.EventSink,
	logger *slog.Logger,
	work func(ctx context.Context) (agentOutcome, error),
) {
	emit(domain.ThinkingEvent{Thinking: thinking, ActiveAgent: string(tag)})
	emit(domain.AgentStatusEvent{Agent: string(tag), Status: "active"})

	start := time.Now()
	outcome, err := work(ctx)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("specialist agent failed",
			"agent", string(tag), "run_id", st.Request.RunID, "error", err)
		outcome.context = ""
		outcome.sources = nil
		if outcome.callOutput == "" {
			outcome.callOutput = "error: " + err.Error()
		}
	}
	if outcome.callName == "" {
		outcome.callName = string(tag)
	}

	st.AppendResult(domain.AgentResult{
		Agent:    tag,
		Context:  outcome.context,
		Sources:  outcome.sources,
		Duration: elapsed,
	})
	st.AppendToolCall(outcome.callName, outcome.callInput, outcome.callOutput, elapsed)

	emit(domain.AgentStatusEvent{
		Agent:      string(tag),
		Status:     "done",
		DurationMS: elapsed.Milliseconds(),
	})
}

// RAGAgent retrieves knowledge-base context through the retriever factory.
type RAGAgent struct {
	factory *RetrieverFactory
	logger  *slog.Logger
}

func NewRAGAgent(factory *RetrieverFactory, logger *slog.Logger) *RAGAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGAgent{factory: factory, logger: logger}
}

func (a *RAGAgent) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	runComposable(ctx, domain.AgentRAG, "Searching the knowledge base...", st, emit, a.logger,
		func(ctx context.Context) (agentOutcome, error) {
			return a.gather(ctx, st.Request)
		})
}

func (a *RAGAgent) gather(ctx context.Context, req domain.ChatRequest) (agentOutcome, error) {
	outcome := agentOutcome{callName: "knowledge_search", callInput: req.Message}
	if len(req.KnowledgeBaseIDs) == 0 {
		outcome.callOutput = "no knowledge bases selected"
		return outcome, nil
	}

	topK := req.Options.TopK
	if topK <= 0 {
		topK = 5
	}

	var merged []domain.RetrievedChunk
	for _, kbID := range req.KnowledgeBaseIDs {
		retriever, err := a.factory.Build(ctx, req.UserID, kbID, req.Options)
		if err != nil {
			return outcome, fmt.Errorf("build retriever for %s: %w", kbID, err)
		}
		chunks, err := retriever.Retrieve(ctx, req.Message, topK)
		if err != nil {
			return outcome, fmt.Errorf("retrieve from %s: %w", kbID, err)
		}
		merged = append(merged, chunks...)
	}
	keep := topK
	if topN := req.Options.RerankTopN; req.Options.Rerank && topN > keep {
		keep = topN
	}
	merged = dedupeByPrefix(merged, keep)
	if req.Options.Rerank {
		merged = rerankCandidates(req.Message, merged, req.Options.RerankTopN)
		if len(merged) > topK {
			merged = merged[:topK]
		}
	}

	var b strings.Builder
	for i, chunk := range merged {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunk.Text)
		outcome.sources = append(outcome.sources, chunk.Source)
	}
	outcome.context = b.String()
	outcome.callOutput = fmt.Sprintf("%d chunks retrieved", len(merged))
	return outcome, nil
}

// WebAgent contributes current public information through the search
// client.
type WebAgent struct {
	searcher   ports.WebSearcher
	maxResults int
	logger     *slog.Logger
}

func NewWebAgent(searcher ports.WebSearcher, maxResults int, logger *slog.Logger) *WebAgent {
	if maxResults <= 0 {
		maxResults = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebAgent{searcher: searcher, maxResults: maxResults, logger: logger}
}

func (a *WebAgent) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	runComposable(ctx, domain.AgentWebSearch, "Searching the web...", st, emit, a.logger,
		func(ctx context.Context) (agentOutcome, error) {
			outcome := agentOutcome{callName: "web_search", callInput: st.Request.Message}

			results, err := a.searcher.Search(ctx, st.Request.Message, a.maxResults)
			if err != nil {
				return outcome, fmt.Errorf("web search: %w", err)
			}

			var b strings.Builder
			for i, result := range results {
				if i > 0 {
					b.WriteString("\n\n")
				}
				if result.Source.Title != "" {
					fmt.Fprintf(&b, "%s\n", result.Source.Title)
				}
				b.WriteString(result.Text)
				if result.Source.URL != "" {
					fmt.Fprintf(&b, "\n(%s)", result.Source.URL)
				}
				outcome.sources = append(outcome.sources, result.Source)
			}
			outcome.context = b.String()
			outcome.callOutput = fmt.Sprintf("%d results", len(results))
			return outcome, nil
		})
}

// ToolAgent runs every active external tool and aggregates their text
// outputs. One tool failing contributes an error note instead of aborting
// the remaining tools.
type ToolAgent struct {
	invoker ports.ToolInvoker
	logger  *slog.Logger
}

func NewToolAgent(invoker ports.ToolInvoker, logger *slog.Logger) *ToolAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolAgent{invoker: invoker, logger: logger}
}

func (a *ToolAgent) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	runComposable(ctx, domain.AgentTool, "Running external tools...", st, emit, a.logger,
		func(ctx context.Context) (agentOutcome, error) {
			outcome := agentOutcome{callName: "tool_invoke", callInput: st.Request.Message}

			var parts []string
			for _, toolID := range st.Request.Options.ToolIDs {
				output, err := a.invoker.Invoke(ctx, toolID, st.Request.Message)
				if err != nil {
					a.logger.Warn("tool invocation failed",
						"tool_id", toolID, "run_id", st.Request.RunID, "error", err)
					parts = append(parts, fmt.Sprintf("%s: (failed: %v)", toolID, err))
					continue
				}
				parts = append(parts, fmt.Sprintf("%s: %s", toolID, output))
			}
			outcome.context = strings.Join(parts, "\n\n")
			outcome.callOutput = outcome.context
			return outcome, nil
		})
}
