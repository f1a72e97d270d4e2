package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/core/ports"
)

// SQLAgent is a terminal node: it translates the question to a read-only
// query, executes it against the registered connection, streams the result
// table, and ends the stream itself. It never appends to the result
// accumulation; the synthesizer does not run behind it.
type SQLAgent struct {
	connections ports.ConnectionRegistry
	querier     ports.ReadOnlyQuerier
	llm         ports.TextGenerator
	maxRows     int
	logger      *slog.Logger
}

func NewSQLAgent(
	connections ports.ConnectionRegistry,
	querier ports.ReadOnlyQuerier,
	llm ports.TextGenerator,
	maxRows int,
	logger *slog.Logger,
) *SQLAgent {
	if maxRows <= 0 {
		maxRows = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAgent{
		connections: connections,
		querier:     querier,
		llm:         llm,
		maxRows:     maxRows,
		logger:      logger,
	}
}

func (a *SQLAgent) Run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) {
	tag := string(domain.AgentSQL)
	emit(domain.ThinkingEvent{Thinking: "Translating the question to SQL...", ActiveAgent: tag})
	emit(domain.AgentStatusEvent{Agent: tag, Status: "active"})

	start := time.Now()
	err := a.run(ctx, st, emit)
	elapsed := time.Since(start)

	if err != nil {
		a.logger.Warn("sql agent failed", "run_id", st.Request.RunID, "error", err)
		emit(domain.ContentEvent{Content: userFacingSQLError(err)})
	}
	emit(domain.AgentStatusEvent{Agent: tag, Status: "done", DurationMS: elapsed.Milliseconds()})
	emit(domain.StreamEnd{})
}

func (a *SQLAgent) run(ctx context.Context, st *domain.ChatState, emit domain.EventSink) error {
	req := st.Request

	conn, err := a.connections.Connection(ctx, req.UserID, req.Options.ConnectionID)
	if err != nil {
		return fmt.Errorf("resolve connection %s: %w", req.Options.ConnectionID, err)
	}

	start := time.Now()
	query, err := a.generateQuery(ctx, req, *conn)
	if err != nil {
		return err
	}
	emit(domain.SQLEvent{SQL: query})

	columns, rows, err := a.querier.Query(ctx, *conn, query, a.maxRows)
	st.AppendToolCall("sql_query", query, fmt.Sprintf("%d rows", len(rows)), time.Since(start))
	if err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	if len(rows) == 0 {
		emit(domain.ContentEvent{Content: "The query returned no rows."})
		return nil
	}
	emit(domain.ContentEvent{Content: renderMarkdownTable(columns, rows)})
	return nil
}

func (a *SQLAgent) generateQuery(ctx context.Context, req domain.ChatRequest, conn domain.DataConnection) (string, error) {
	raw, err := a.llm.GenerateJSON(ctx, req.ModelID, sqlPrompt(req.Message, conn.SchemaSummary))
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	query := strings.TrimSpace(extractSQLFromJSON(raw))
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "generate sql",
			fmt.Errorf("model produced no query"))
	}
	if !isReadOnlyQuery(query) {
		return "", domain.WrapError(domain.ErrInvalidInput, "generate sql",
			fmt.Errorf("generated query is not read-only"))
	}
	return query, nil
}

// isReadOnlyQuery accepts only plain SELECT and WITH statements, without
// statement chaining.
func isReadOnlyQuery(query string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if strings.ContainsRune(trimmed, ';') {
		return false
	}
	head := strings.ToUpper(trimmed)
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}

func renderMarkdownTable(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i := range columns {
			if i < len(row) {
				cells[i] = strings.ReplaceAll(row[i], "|", "\\|")
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

func userFacingSQLError(err error) string {
	if domain.IsKind(err, domain.ErrNotFound) {
		return "I could not find the selected data connection. Please check the connection settings and try again."
	}
	return "I could not answer from the connected database: " + err.Error()
}

func sqlPrompt(question, schemaSummary string) string {
	return fmt.Sprintf(`Write one read-only SQL query answering the question.
Return ONLY a JSON object: {"sql":"SELECT ..."}
Rules: a single SELECT (or WITH) statement, no modifications, no comments.

Database schema:
%s

Question:
%s`, schemaSummary, question)
}

func extractSQLFromJSON(raw string) string {
	var decoded struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &decoded); err == nil && decoded.SQL != "" {
		return decoded.SQL
	}
	return ""
}
