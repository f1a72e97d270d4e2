package domain

import "time"

// ServiceType discriminates external service records in the registry.
type ServiceType string

const (
	ServiceQdrant ServiceType = "qdrant"
	ServiceNeo4j  ServiceType = "neo4j"
)

// ExternalService is a registered external vector store. Revision increments
// whenever credentials or endpoint change, which invalidates cached clients.
type ExternalService struct {
	ID         string
	UserID     string
	Type       ServiceType
	Endpoint   string
	Credential string
	Collection string
	IsDefault  bool
	Revision   int64
	UpdatedAt  time.Time
}

// DataConnection is a registered SQL database reachable by the SQL agent.
type DataConnection struct {
	ID            string
	UserID        string
	Driver        string
	DSN           string
	SchemaSummary string
}

// IngestRequest is one document handed to the indexing pipeline.
type IngestRequest struct {
	DocumentID      string   `json:"document_id"`
	UserID          string   `json:"user_id"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	Title           string   `json:"title"`
	Text            string   `json:"text"`
	Tags            []string `json:"tags,omitempty"`
}
