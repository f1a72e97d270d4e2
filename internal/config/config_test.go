package config

import "testing"

func TestLoadRetrievalDefaults(t *testing.T) {
	t.Setenv("RAG_TOP_K", "")
	t.Setenv("RAG_FUSION_RRF_K", "")
	t.Setenv("RAG_OVERSAMPLE", "")
	t.Setenv("RAG_DENSE_WEIGHT", "")
	t.Setenv("STREAM_IDLE_TIMEOUT_SECONDS", "")

	cfg := Load()
	if cfg.RAGTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RAGTopK)
	}
	if cfg.RAGFusionRRFK != 60 {
		t.Fatalf("expected default fusion rrf k 60, got %d", cfg.RAGFusionRRFK)
	}
	if cfg.RAGOversample != 3 {
		t.Fatalf("expected default oversample 3, got %d", cfg.RAGOversample)
	}
	if cfg.RAGDenseWeight != 0.5 {
		t.Fatalf("expected default dense weight 0.5, got %v", cfg.RAGDenseWeight)
	}
	if cfg.StreamIdleTimeoutSeconds != 300 {
		t.Fatalf("expected default idle timeout 300s, got %d", cfg.StreamIdleTimeoutSeconds)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RAG_FUSION_RRF_K", "75")
	t.Setenv("RAG_DENSE_WEIGHT", "0.8")
	t.Setenv("SQL_MAX_ROWS", "25")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("NEO4J_DATABASE", "retrieval")

	cfg := Load()
	if cfg.RAGFusionRRFK != 75 {
		t.Fatalf("expected fusion rrf k 75, got %d", cfg.RAGFusionRRFK)
	}
	if cfg.RAGDenseWeight != 0.8 {
		t.Fatalf("expected dense weight 0.8, got %v", cfg.RAGDenseWeight)
	}
	if cfg.SQLMaxRows != 25 {
		t.Fatalf("expected sql max rows 25, got %d", cfg.SQLMaxRows)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5 rps, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.Neo4jDatabase != "retrieval" {
		t.Fatalf("expected neo4j database retrieval, got %q", cfg.Neo4jDatabase)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RAG_TOP_K", "not-a-number")
	t.Setenv("RAG_DENSE_WEIGHT", "high")

	cfg := Load()
	if cfg.RAGTopK != 5 {
		t.Fatalf("expected fallback top k 5, got %d", cfg.RAGTopK)
	}
	if cfg.RAGDenseWeight != 0.5 {
		t.Fatalf("expected fallback dense weight 0.5, got %v", cfg.RAGDenseWeight)
	}
}

func TestParseServerList(t *testing.T) {
	servers := parseServerList("crm=http://localhost:7001/mcp, billing=http://localhost:7002/mcp,broken")
	if len(servers) != 2 {
		t.Fatalf("servers = %v", servers)
	}
	if servers["crm"] != "http://localhost:7001/mcp" {
		t.Fatalf("crm = %q", servers["crm"])
	}
	if servers["billing"] != "http://localhost:7002/mcp" {
		t.Fatalf("billing = %q", servers["billing"])
	}
}
