package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// ServiceRepository is the registry of external vector services and the
// SQL data connections reachable by the SQL agent.
type ServiceRepository struct {
	db *sql.DB
}

func NewServiceRepository(db *sql.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `s.id, s.user_id, s.service_type, s.endpoint, s.credential, s.collection_name, s.is_default, s.revision, s.updated_at`

// LinkedService resolves the external store linked to a knowledge base.
// Returns (nil, nil) when the KB has no link.
func (r *ServiceRepository) LinkedService(ctx context.Context, kbID string) (*domain.ExternalService, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+serviceColumns+`
FROM kb_service_links l
JOIN external_services s ON s.id = l.service_id
WHERE l.kb_id = $1`, kbID)

	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("linked service for kb %s: %w", kbID, err)
	}
	return svc, nil
}

// DefaultVectorService resolves the user's default external vector database,
// if one is flagged. Returns (nil, nil) when none is configured.
func (r *ServiceRepository) DefaultVectorService(ctx context.Context, userID string) (*domain.ExternalService, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+serviceColumns+`
FROM external_services s
WHERE s.user_id = $1 AND s.is_default = TRUE
ORDER BY s.updated_at DESC
LIMIT 1`, userID)

	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("default vector service for user %s: %w", userID, err)
	}
	return svc, nil
}

// Connection resolves a data connection owned by the user.
func (r *ServiceRepository) Connection(ctx context.Context, userID, connectionID string) (*domain.DataConnection, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, driver, dsn, schema_summary
FROM data_connections
WHERE id = $1 AND user_id = $2`, connectionID, userID)

	var conn domain.DataConnection
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Driver, &conn.DSN, &conn.SchemaSummary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrNotFound, "data connection", fmt.Errorf("id %s", connectionID))
	}
	if err != nil {
		return nil, fmt.Errorf("load data connection: %w", err)
	}
	return &conn, nil
}

func scanService(row *sql.Row) (*domain.ExternalService, error) {
	var svc domain.ExternalService
	var serviceType string
	err := row.Scan(&svc.ID, &svc.UserID, &serviceType, &svc.Endpoint, &svc.Credential,
		&svc.Collection, &svc.IsDefault, &svc.Revision, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	svc.Type = domain.ServiceType(serviceType)
	return &svc, nil
}
