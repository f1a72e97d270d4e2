package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

type chatStreamRequest struct {
	Message          string        `json:"message"`
	UserID           string        `json:"user_id"`
	KnowledgeBaseIDs []string      `json:"knowledge_base_ids"`
	ModelID          string        `json:"model_id"`
	SystemPrompt     string        `json:"system_prompt"`
	History          []domain.Turn `json:"history"`
	Options          chatOptions   `json:"options"`
}

type chatOptions struct {
	WebSearch    bool     `json:"web_search"`
	DeepThink    bool     `json:"deep_think"`
	Rerank       bool     `json:"rerank"`
	SearchMode   string   `json:"search_mode"`
	DenseWeight  *float64 `json:"dense_weight"` // pointer so an explicit 0 is kept
	Multimodal   bool     `json:"multimodal"`
	SQLMode      bool     `json:"sql_mode"`
	ConnectionID string   `json:"connection_id"`
	ToolIDs      []string `json:"tool_ids"`
	TopK         int      `json:"top_k"`
	RerankTopN   int      `json:"rerank_top_n"`
}

// toDomain converts the payload, filling retrieval knobs the client left
// unset with the server-configured defaults.
func (p chatStreamRequest) toDomain(defaults Options) domain.ChatRequest {
	denseWeight := defaults.DefaultDenseWeight
	if p.Options.DenseWeight != nil {
		denseWeight = *p.Options.DenseWeight
	}
	topK := p.Options.TopK
	if topK <= 0 {
		topK = defaults.DefaultTopK
	}
	rerankTopN := p.Options.RerankTopN
	if rerankTopN <= 0 {
		rerankTopN = defaults.DefaultRerankTopN
	}

	return domain.ChatRequest{
		Message:          p.Message,
		UserID:           p.UserID,
		KnowledgeBaseIDs: p.KnowledgeBaseIDs,
		ModelID:          p.ModelID,
		SystemPrompt:     p.SystemPrompt,
		History:          p.History,
		Options: domain.ChatOptions{
			WebSearch:    p.Options.WebSearch,
			DeepThink:    p.Options.DeepThink,
			Rerank:       p.Options.Rerank,
			SearchMode:   domain.SearchMode(p.Options.SearchMode),
			DenseWeight:  denseWeight,
			Multimodal:   p.Options.Multimodal,
			SQLMode:      p.Options.SQLMode,
			ConnectionID: p.Options.ConnectionID,
			ToolIDs:      p.Options.ToolIDs,
			TopK:         topK,
			RerankTopN:   rerankTopN,
		},
	}
}

// chatStream writes the orchestration event stream as newline-delimited JSON.
// The sentinel has no wire form; the response simply ends.
func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var payload chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if payload.Message == "" || payload.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message and user_id are required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	req := payload.toDomain(rt.opts)

	start := time.Now()
	terminal := ""
	streaming := false
	err := rt.chat.Stream(r.Context(), req, func(ev domain.Event) error {
		rt.observeEvent(ev, &terminal)
		if _, end := ev.(domain.StreamEnd); end {
			return nil
		}
		line, err := domain.EncodeEvent(ev)
		if err != nil {
			return err
		}
		if !streaming {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		rt.logger.Warn("chat stream rejected",
			"request_id", requestIDFromContext(r.Context()), "error", err)
		if !streaming {
			writeError(w, err)
		}
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordRun(serviceName, terminal, time.Since(start))
	}
}

func (rt *Router) observeEvent(ev domain.Event, terminal *string) {
	if rt.metrics == nil {
		return
	}
	switch e := ev.(type) {
	case domain.AgentStatusEvent:
		if e.Status == "done" {
			*terminal = e.Agent
			rt.metrics.RecordAgentDuration(serviceName, e.Agent,
				time.Duration(e.DurationMS)*time.Millisecond)
		}
	case domain.SourcesEvent:
		rt.metrics.RecordCitedSources(serviceName, len(e.Sources))
	}
}
