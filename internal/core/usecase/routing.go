package usecase

import (
	"context"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// agentFunc is one graph node. Composable agents append a result and
// return; terminal agents own the rest of the stream including the
// sentinel.
type agentFunc func(ctx context.Context, st *domain.ChatState, emit domain.EventSink)

// transitionTable binds each routable tag to its handler. Construction
// validates the binding is total over the closed tag set, so routing can
// never reach a tag without a handler at run time.
type transitionTable struct {
	composable map[domain.AgentTag]agentFunc
	terminal   map[domain.AgentTag]agentFunc
}

func newTransitionTable(composable map[domain.AgentTag]agentFunc, terminal map[domain.AgentTag]agentFunc) transitionTable {
	for tag := range composable {
		if !domain.ComposableAgent(tag) {
			panic("composable handler bound to terminal tag: " + string(tag))
		}
	}
	for tag := range terminal {
		if domain.ComposableAgent(tag) {
			panic("terminal handler bound to composable tag: " + string(tag))
		}
	}
	return transitionTable{composable: composable, terminal: terminal}
}

// routeAfterSupervisor picks the first node after the routing decision: the
// short-circuit target wins, then the head of the plan, then the
// synthesizer for an empty plan. Plan entries without a handler route to
// the synthesizer instead of failing.
func (t transitionTable) routeAfterSupervisor(st *domain.ChatState) string {
	if st.ShortCircuit != "" {
		if _, ok := t.terminal[st.ShortCircuit]; ok {
			return string(st.ShortCircuit)
		}
		return domain.NodeSynthesizer
	}
	for _, tag := range st.Planned {
		if _, ok := t.composable[tag]; ok {
			return string(tag)
		}
	}
	return domain.NodeSynthesizer
}

// routeNextAgent returns the first planned tag that has not appended a
// result yet, or the synthesizer once every routable planned tag ran.
// Because every composable handler appends exactly one result even on
// failure, each call makes forward progress.
func (t transitionTable) routeNextAgent(st *domain.ChatState) string {
	for _, tag := range st.Planned {
		if _, ok := t.composable[tag]; !ok {
			continue
		}
		if !st.Executed(tag) {
			return string(tag)
		}
	}
	return domain.NodeSynthesizer
}
