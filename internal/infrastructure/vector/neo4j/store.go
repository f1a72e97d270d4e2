// Package neo4j adapts a Neo4j vector index as a dense-only retrieval
// store. Sparse and hybrid search are not offered, so the retrieval
// fan-out degrades requests against this store to dense ranking.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	neo "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

const chunkLabel = "Chunk"

type Store struct {
	driver   neo.DriverWithContext
	database string
	index    string
}

// New connects to a registered Neo4j service. The credential is the
// "user:password" pair stored in the service registry, the service
// collection names the vector index to query, and database selects the
// Neo4j database, defaulting to "neo4j" when empty.
func New(ctx context.Context, endpoint, credential, database, index string) (*Store, error) {
	if database == "" {
		database = "neo4j"
	}
	user, password, ok := strings.Cut(credential, ":")
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "neo4j_dial",
			fmt.Errorf("credential must be user:password"))
	}

	driver, err := neo.NewDriverWithContext(endpoint, neo.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, domain.WrapError(domain.ErrTemporary, "neo4j_dial", err)
	}

	return &Store{driver: driver, database: database, index: index}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) SearchDense(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`CALL db.index.vector.queryNodes($index, $limit, $embedding)
YIELD node, score
%s
RETURN node.id AS id, node.text AS text, node.document_id AS document_id,
       node.title AS title, node.url AS url, score
ORDER BY score DESC`, userClause(filter))

	params := map[string]any{
		"index":     s.index,
		"limit":     limit,
		"embedding": toFloat64(vector),
	}
	if filter.UserID != "" {
		params["user_id"] = filter.UserID
	}

	result, err := neo.ExecuteQuery(ctx, s.driver, query, params,
		neo.EagerResultTransformer, neo.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "neo4j_search", err)
	}

	chunks := make([]domain.RetrievedChunk, 0, len(result.Records))
	for _, record := range result.Records {
		chunks = append(chunks, domain.RetrievedChunk{
			ID:    recordString(record, "id"),
			Text:  recordString(record, "text"),
			Score: recordFloat(record, "score"),
			Source: domain.SourceRef{
				DocumentID: recordString(record, "document_id"),
				Title:      recordString(record, "title"),
				URL:        recordString(record, "url"),
				Store:      "neo4j",
			},
		})
	}
	return chunks, nil
}

// AddPoints upserts chunk nodes keyed by chunk id. The sparse vector of a
// point is dropped because this store only indexes dense embeddings.
func (s *Store) AddPoints(ctx context.Context, points []domain.RetrievalPoint) error {
	if len(points) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, map[string]any{
			"id":          p.ID,
			"user_id":     p.UserID,
			"text":        p.Text,
			"document_id": p.Source.DocumentID,
			"title":       p.Source.Title,
			"url":         p.Source.URL,
			"embedding":   toFloat64(p.Dense),
		})
	}

	query := fmt.Sprintf(`UNWIND $points AS p
MERGE (c:%s {id: p.id})
SET c.user_id = p.user_id, c.text = p.text, c.document_id = p.document_id,
    c.title = p.title, c.url = p.url
WITH c, p
CALL db.create.setNodeVectorProperty(c, 'embedding', p.embedding)`, chunkLabel)

	_, err := neo.ExecuteQuery(ctx, s.driver, query, map[string]any{"points": rows},
		neo.EagerResultTransformer, neo.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "neo4j_add_points", err)
	}
	return nil
}

func userClause(filter domain.SearchFilter) string {
	if filter.UserID == "" {
		return ""
	}
	return "WHERE node.user_id = $user_id"
}

// toFloat64 widens the embedding because the bolt protocol has no float32
// list type.
func toFloat64(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}

func recordString(record *neo.Record, key string) string {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return ""
	}
	s, _ := value.(string)
	return s
}

func recordFloat(record *neo.Record, key string) float64 {
	value, ok := record.Get(key)
	if !ok {
		return 0
	}
	f, _ := value.(float64)
	return f
}
