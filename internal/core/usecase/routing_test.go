package usecase

import (
	"context"
	"testing"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

func noopAgent(tag domain.AgentTag) agentFunc {
	return func(_ context.Context, st *domain.ChatState, _ domain.EventSink) {
		st.AppendResult(domain.AgentResult{Agent: tag})
	}
}

func fullTable() transitionTable {
	return newTransitionTable(
		map[domain.AgentTag]agentFunc{
			domain.AgentRAG:       noopAgent(domain.AgentRAG),
			domain.AgentWebSearch: noopAgent(domain.AgentWebSearch),
			domain.AgentTool:      noopAgent(domain.AgentTool),
		},
		map[domain.AgentTag]agentFunc{
			domain.AgentSQL:     func(context.Context, *domain.ChatState, domain.EventSink) {},
			domain.AgentProcess: func(context.Context, *domain.ChatState, domain.EventSink) {},
		},
	)
}

func TestRouteAfterSupervisorShortCircuitWins(t *testing.T) {
	table := fullTable()
	st := &domain.ChatState{
		ShortCircuit: domain.AgentSQL,
		Planned:      []domain.AgentTag{domain.AgentRAG},
	}
	if got := table.routeAfterSupervisor(st); got != string(domain.AgentSQL) {
		t.Fatalf("route = %q, want sql", got)
	}
}

func TestRouteAfterSupervisorEmptyPlanGoesToSynthesizer(t *testing.T) {
	table := fullTable()
	st := &domain.ChatState{}
	if got := table.routeAfterSupervisor(st); got != domain.NodeSynthesizer {
		t.Fatalf("route = %q, want synthesizer", got)
	}
}

func TestRouteAfterSupervisorUnroutableEntriesSkipped(t *testing.T) {
	table := newTransitionTable(
		map[domain.AgentTag]agentFunc{domain.AgentRAG: noopAgent(domain.AgentRAG)},
		nil,
	)
	st := &domain.ChatState{Planned: []domain.AgentTag{domain.AgentWebSearch, domain.AgentRAG}}
	if got := table.routeAfterSupervisor(st); got != string(domain.AgentRAG) {
		t.Fatalf("route = %q, want rag", got)
	}

	st = &domain.ChatState{Planned: []domain.AgentTag{domain.AgentWebSearch}}
	if got := table.routeAfterSupervisor(st); got != domain.NodeSynthesizer {
		t.Fatalf("route = %q, want synthesizer for unroutable plan", got)
	}
}

// One routeNextAgent call per planned agent, results in plan order, then
// the synthesizer.
func TestRouteNextAgentExactlyOncePerPlannedTag(t *testing.T) {
	table := fullTable()
	plan := []domain.AgentTag{domain.AgentTool, domain.AgentRAG, domain.AgentWebSearch}
	st := &domain.ChatState{Planned: plan}

	node := table.routeAfterSupervisor(st)
	routeCalls := 0
	for node != domain.NodeSynthesizer {
		table.composable[domain.AgentTag(node)](context.Background(), st, func(domain.Event) {})
		node = table.routeNextAgent(st)
		routeCalls++
	}

	if routeCalls != len(plan) {
		t.Fatalf("routeNextAgent calls = %d, want %d", routeCalls, len(plan))
	}
	if len(st.Results) != len(plan) {
		t.Fatalf("results = %d, want one per planned tag", len(st.Results))
	}
	for i, tag := range plan {
		if st.Results[i].Agent != tag {
			t.Fatalf("results[%d] = %q, want %q", i, st.Results[i].Agent, tag)
		}
	}
}

func TestNewTransitionTableRejectsMisboundTags(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for terminal tag in composable map")
		}
	}()
	newTransitionTable(map[domain.AgentTag]agentFunc{
		domain.AgentSQL: func(context.Context, *domain.ChatState, domain.EventSink) {},
	}, nil)
}
