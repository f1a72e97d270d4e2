package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// ProcessAgent is the logistics terminal node. Dispatch and schedule
// requests go straight to the process backend; its answer is the whole
// response, so the agent ends the stream itself and never touches the
// result accumulation.
type ProcessAgent struct {
	backend ports.ProcessBackend
	logger  *slog.Logger
}

func NewProcessAgent(backend ports.ProcessBackend, logger *slog.Logger) *ProcessAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessAgent{backend: backend, logger: logger}
}

func (a *ProcessAgent) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	tag := string(domain.AgentProcess)
	emit(domain.ThinkingEvent{Thinking: "Checking logistics operations...", ActiveAgent: tag})
	emit(domain.AgentStatusEvent{Agent: tag, Status: "active"})

	start := time.Now()
	answer, err := a.backend.Run(ctx, st.Request.UserID, st.Request.Message)
	elapsed := time.Since(start)
	answer = strings.TrimSpace(answer)
	st.AppendToolCall("process_run", st.Request.Message, answer, elapsed)

	if err != nil {
		a.logger.Warn("process backend failed", "run_id", st.Request.RunID, "error", err)
		emit(domain.ContentEvent{
			Content: "The logistics service is unavailable right now. Please try again shortly.",
		})
	} else if answer == "" {
		emit(domain.ContentEvent{Content: "No matching logistics records were found."})
	} else {
		emit(domain.ContentEvent{Content: answer})
	}

	emit(domain.AgentStatusEvent{Agent: tag, Status: "done", DurationMS: elapsed.Milliseconds()})
	emit(domain.StreamEnd{})
}
