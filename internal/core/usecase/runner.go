package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

const (
	defaultIdleTimeout = 300 * time.Second
	defaultQueueSize   = 64
)

var _ ports.ChatStreamer = (*Orchestrator)(nil)

// AgentRunner is one executable graph node.
type AgentRunner interface {
	Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink)
}

// OrchestratorConfig wires the graph nodes. Nil optional nodes make their
// tag unroutable: the supervisor can still plan it, routing then skips it.
type OrchestratorConfig struct {
	Supervisor  *Supervisor
	RAG         AgentRunner
	Web         AgentRunner
	Tool        AgentRunner
	SQL         AgentRunner
	Process     AgentRunner
	Synthesizer *Synthesizer

	ToolCallLog   ports.ToolCallLogStore // optional audit export
	OnIdleTimeout func()                 // optional, observed when a run stalls past IdleTimeout
	IdleTimeout   time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// Orchestrator executes the routing graph for one request and relays every
// event to the consumer in emission order. It is the ChatStreamer
// implementation.
type Orchestrator struct {
	supervisor    *Supervisor
	table         transitionTable
	synthesizer   *Synthesizer
	toolCallLog   ports.ToolCallLogStore
	onIdleTimeout func()
	idleTimeout   time.Duration
	queueSize     int
	logger        *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	composable := map[domain.AgentTag]agentFunc{}
	if cfg.RAG != nil {
		composable[domain.AgentRAG] = cfg.RAG.Run
	}
	if cfg.Web != nil {
		composable[domain.AgentWebSearch] = cfg.Web.Run
	}
	if cfg.Tool != nil {
		composable[domain.AgentTool] = cfg.Tool.Run
	}
	terminal := map[domain.AgentTag]agentFunc{}
	if cfg.SQL != nil {
		terminal[domain.AgentSQL] = cfg.SQL.Run
	}
	if cfg.Process != nil {
		terminal[domain.AgentProcess] = cfg.Process.Run
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		supervisor:    cfg.Supervisor,
		table:         newTransitionTable(composable, terminal),
		synthesizer:   cfg.Synthesizer,
		toolCallLog:   cfg.ToolCallLog,
		onIdleTimeout: cfg.OnIdleTimeout,
		idleTimeout:   cfg.IdleTimeout,
		queueSize:     cfg.QueueSize,
		logger:        cfg.Logger,
	}
}

// Stream runs the graph as its own goroutine and drains its event queue
// FIFO to yield. The consumer observes exactly one StreamEnd whatever the
// graph did: the sentinel a terminal node emitted, or one the runner
// injects after the graph goroutine finishes or stalls past the idle
// timeout.
func (o *Orchestrator) Stream(ctx context.Context, req domain.ChatRequest, yield func(domain.Event) error) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "chat stream", fmt.Errorf("user_id is required"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "chat stream", fmt.Errorf("message is required"))
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	st := &domain.ChatState{Request: req}
	queue := make(chan domain.Event, o.queueSize)
	graphCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(ev domain.Event) {
		select {
		case queue <- ev:
		case <-graphCtx.Done():
		}
	}

	graphDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				graphDone <- fmt.Errorf("graph panic: %v", r)
				return
			}
			graphDone <- nil
		}()
		o.runGraph(graphCtx, st, emit)
	}()

	timer := time.NewTimer(o.idleTimeout)
	defer timer.Stop()

	finished := false
	var graphErr error
	for {
		select {
		case ev := <-queue:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(o.idleTimeout)

			if _, end := ev.(domain.StreamEnd); end {
				err := yield(ev)
				o.saveToolCalls(ctx, st)
				return err
			}
			if err := yield(ev); err != nil {
				// Consumer went away; stop the graph quietly.
				cancel()
				return nil
			}

		case <-timer.C:
			cancel()
			o.logger.Warn("event stream idle timeout", "run_id", req.RunID)
			if o.onIdleTimeout != nil {
				o.onIdleTimeout()
			}
			if err := yield(domain.ContentEvent{
				Content: "The request took too long and was stopped. Please try again.",
			}); err != nil {
				return nil
			}
			return yield(domain.StreamEnd{})

		case err := <-graphDone:
			finished = true
			graphErr = err

		}
		if finished {
			// The graph emitted everything it will. Drain the queue, then
			// backstop the sentinel if no terminal node provided one.
			for {
				select {
				case ev := <-queue:
					if _, end := ev.(domain.StreamEnd); end {
						err := yield(ev)
						o.saveToolCalls(ctx, st)
						return err
					}
					if err := yield(ev); err != nil {
						return nil
					}
				default:
					if graphErr != nil {
						o.logger.Error("graph execution failed",
							"run_id", req.RunID, "error", graphErr)
						if err := yield(domain.ContentEvent{
							Content: "Something went wrong while answering. Please try again.",
						}); err != nil {
							return nil
						}
					}
					err := yield(domain.StreamEnd{})
					o.saveToolCalls(ctx, st)
					return err
				}
			}
		}
	}
}

// runGraph walks supervisor -> planned agents -> synthesizer, or hands the
// whole stream to a terminal agent on short circuit.
func (o *Orchestrator) runGraph(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	o.supervisor.Decide(ctx, st, emit)

	node := o.table.routeAfterSupervisor(st)
	if st.ShortCircuit != "" && node == string(st.ShortCircuit) {
		o.table.terminal[st.ShortCircuit](ctx, st, emit)
		return
	}

	for node != domain.NodeSynthesizer {
		if ctx.Err() != nil {
			return
		}
		o.table.composable[domain.AgentTag(node)](ctx, st, emit)
		node = o.table.routeNextAgent(st)
	}
	o.synthesizer.Run(ctx, st, emit)
}

func (o *Orchestrator) saveToolCalls(ctx context.Context, st *domain.ChatState) {
	if o.toolCallLog == nil || len(st.ToolCalls) == 0 {
		return
	}
	if err := o.toolCallLog.SaveRun(ctx, st.Request.RunID, st.Request.UserID, st.ToolCalls); err != nil {
		o.logger.Warn("save tool call log failed",
			"run_id", st.Request.RunID, "error", err)
	}
}
