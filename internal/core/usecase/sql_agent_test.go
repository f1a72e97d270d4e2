package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

func newTestSQLAgent(querier *fakeQuerier, llmResponse string) *SQLAgent {
	return NewSQLAgent(
		&fakeConnRegistry{conn: &domain.DataConnection{ID: "conn-1", SchemaSummary: "orders(id, status)"}},
		querier,
		&fakeGenerator{response: llmResponse},
		100, testLogger())
}

func sqlChatState(message string) *domain.ChatState {
	return chatState(message, domain.ChatOptions{SQLMode: true, ConnectionID: "conn-1"})
}

func TestSQLAgentRendersMarkdownTable(t *testing.T) {
	querier := &fakeQuerier{
		columns: []string{"status", "count"},
		rows:    [][]string{{"open", "12"}, {"a|b", "3"}},
	}
	agent := newTestSQLAgent(querier, `{"sql":"SELECT status, count(*) FROM orders GROUP BY status"}`)

	var collector eventCollector
	st := sqlChatState("orders by status")
	agent.Run(context.Background(), st, collector.sink())

	content := collector.contents()
	if !strings.Contains(content, "| status | count |") {
		t.Fatalf("content = %q, want header row", content)
	}
	if !strings.Contains(content, `| a\|b | 3 |`) {
		t.Fatalf("content = %q, want escaped pipe in cell", content)
	}
	if collector.sentinels() != 1 {
		t.Fatalf("sentinels = %d", collector.sentinels())
	}
	if len(st.ToolCalls) != 1 || st.ToolCalls[0].Name != "sql_query" {
		t.Fatalf("tool calls = %+v", st.ToolCalls)
	}
	if len(st.Results) != 0 {
		t.Fatal("a terminal agent never appends results")
	}
}

func TestSQLAgentEmitsQueryBeforeRows(t *testing.T) {
	querier := &fakeQuerier{columns: []string{"id"}, rows: [][]string{{"1"}}}
	agent := newTestSQLAgent(querier, `{"sql":"SELECT id FROM orders"}`)

	var collector eventCollector
	agent.Run(context.Background(), sqlChatState("list orders"), collector.sink())

	sqlIdx, contentIdx := -1, -1
	for i, ev := range collector.events {
		switch ev.(type) {
		case domain.SQLEvent:
			if sqlIdx == -1 {
				sqlIdx = i
			}
		case domain.ContentEvent:
			if contentIdx == -1 {
				contentIdx = i
			}
		}
	}
	if sqlIdx == -1 || contentIdx == -1 || sqlIdx > contentIdx {
		t.Fatalf("sql index %d, content index %d", sqlIdx, contentIdx)
	}
	if querier.query != "SELECT id FROM orders" {
		t.Fatalf("executed query = %q", querier.query)
	}
}

func TestSQLAgentRejectsMutatingQuery(t *testing.T) {
	querier := &fakeQuerier{}
	agent := newTestSQLAgent(querier, `{"sql":"DELETE FROM orders"}`)

	var collector eventCollector
	agent.Run(context.Background(), sqlChatState("delete everything"), collector.sink())

	if querier.query != "" {
		t.Fatalf("mutating query reached the database: %q", querier.query)
	}
	if !strings.Contains(collector.contents(), "could not answer") {
		t.Fatalf("content = %q", collector.contents())
	}
	if collector.sentinels() != 1 {
		t.Fatalf("sentinels = %d", collector.sentinels())
	}
}

func TestSQLAgentNoRows(t *testing.T) {
	agent := newTestSQLAgent(&fakeQuerier{columns: []string{"id"}}, `{"sql":"SELECT id FROM orders WHERE 1=0"}`)

	var collector eventCollector
	agent.Run(context.Background(), sqlChatState("impossible"), collector.sink())

	if !strings.Contains(collector.contents(), "returned no rows") {
		t.Fatalf("content = %q", collector.contents())
	}
}

func TestSQLAgentUnknownConnection(t *testing.T) {
	agent := NewSQLAgent(
		&fakeConnRegistry{err: domain.WrapError(domain.ErrNotFound, "load connection", fmt.Errorf("no row"))},
		&fakeQuerier{},
		&fakeGenerator{response: `{"sql":"SELECT 1"}`},
		100, testLogger())

	var collector eventCollector
	agent.Run(context.Background(), sqlChatState("anything"), collector.sink())

	if !strings.Contains(collector.contents(), "connection settings") {
		t.Fatalf("content = %q, want the friendly connection message", collector.contents())
	}
	if collector.sentinels() != 1 {
		t.Fatalf("sentinels = %d", collector.sentinels())
	}
}

func TestIsReadOnlyQuery(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select id from orders;  ", true},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"DELETE FROM orders", false},
		{"SELECT 1; DROP TABLE orders", false},
		{"UPDATE orders SET status='x'", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isReadOnlyQuery(tc.query); got != tc.want {
			t.Errorf("isReadOnlyQuery(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExtractSQLFromJSON(t *testing.T) {
	if got := extractSQLFromJSON("Here you go: {\"sql\":\"SELECT 1\"} done"); got != "SELECT 1" {
		t.Fatalf("got %q", got)
	}
	if got := extractSQLFromJSON("no json at all"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
