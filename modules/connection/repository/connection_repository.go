package repository

import (
	"context"

	"calendar-sync/core/database"
	"calendar-sync/modules/connection/entity"

	"github.com/google/uuid"
)

// ConnectionRepository getters return (nil, nil) when the row does not exist.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *entity.Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error)
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*entity.Connection, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]entity.Connection, error)
	Update(ctx context.Context, conn *entity.Connection) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.ConnectionStatus, lastError string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db database.IDatabase
}

func NewConnectionRepository(db database.IDatabase) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, user_id, provider, status, enabled, account_id, account_email, server_url,
	username, webhook_secret, sync_interval_minutes, last_error, created_at, updated_at`

func (r *connectionRepository) Create(ctx context.Context, conn *entity.Connection) error {
	query := `
		INSERT INTO connections (id, user_id, provider, status, enabled, account_id, account_email, server_url,
			username, webhook_secret, sync_interval_minutes, last_error, created_at, updated_at)
		VALUES (:id, :user_id, :provider, :status, :enabled, :account_id, :account_email, :server_url,
			:username, :webhook_secret, :sync_interval_minutes, :last_error, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, conn)
	return err
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Connection, error) {
	var conn entity.Connection
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	if err := r.db.GetContext(ctx, &conn, query, id); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*entity.Connection, error) {
	var conn entity.Connection
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &conn, query, id, userID); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]entity.Connection, error) {
	var conns []entity.Connection
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &conns, query, userID); err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *connectionRepository) Update(ctx context.Context, conn *entity.Connection) error {
	query := `
		UPDATE connections
		SET status = :status, enabled = :enabled, account_id = :account_id, account_email = :account_email,
			server_url = :server_url, username = :username, webhook_secret = :webhook_secret,
			sync_interval_minutes = :sync_interval_minutes, last_error = :last_error, updated_at = NOW()
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, conn)
	return err
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.ConnectionStatus, lastError string) error {
	query := `UPDATE connections SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`
	return r.db.ExecContext(ctx, query, status, lastError, id)
}

// Delete cascades to sources, tokens and mappings.
func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
}
