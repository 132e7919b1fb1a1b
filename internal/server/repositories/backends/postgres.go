package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// PostgresRepository implements backend storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, kind, name, role, client_id, encrypted_client_secret, access_token, refresh_token, expiry,
	root_folder_id, root_folder_name, public_url, used_bytes, file_count, selection_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBackend(s scanner) (*models.StorageBackend, error) {
	b := &models.StorageBackend{}
	var role string
	var expiry sql.NullTime
	if err := s.Scan(&b.ID, &b.Kind, &b.Name, &role, &b.ClientID, &b.EncryptedClientSecret,
		&b.AccessToken, &b.RefreshToken, &expiry, &b.RootFolderID, &b.RootFolderName, &b.PublicURL,
		&b.UsedBytes, &b.FileCount, &b.SelectionCount, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Role = models.Role(role)
	if expiry.Valid {
		t := expiry.Time
		b.Expiry = &t
	}
	return b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Create inserts a new backend. A duplicate name yields ErrBackendNameTaken.
func (r *PostgresRepository) Create(ctx context.Context, b *models.StorageBackend) error {
	query := `
		INSERT INTO storage_backends (id, kind, name, role, client_id, encrypted_client_secret,
			access_token, refresh_token, expiry, root_folder_id, root_folder_name, public_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		b.ID, b.Kind, b.Name, string(b.Role), b.ClientID, b.EncryptedClientSecret,
		b.AccessToken, b.RefreshToken, nullTime(b.Expiry), b.RootFolderID, b.RootFolderName, b.PublicURL,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrBackendNameTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.StorageBackend, error) {
	query := `SELECT ` + columns + ` FROM storage_backends WHERE id = $1`
	b, err := scanBackend(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.StorageBackend, error) {
	return r.query(ctx, `SELECT `+columns+` FROM storage_backends ORDER BY id`)
}

func (r *PostgresRepository) ListByRole(ctx context.Context, role models.Role) ([]*models.StorageBackend, error) {
	return r.query(ctx, `SELECT `+columns+` FROM storage_backends WHERE role = $1 ORDER BY id`, string(role))
}

func (r *PostgresRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.StorageBackend, error) {
	query := `SELECT ` + columns + ` FROM storage_backends
		WHERE refresh_token <> '' AND (expiry IS NULL OR expiry < $1)
		ORDER BY id`
	return r.query(ctx, query, before)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.StorageBackend, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select backends: %w", err)
	}
	defer rows.Close()

	var result []*models.StorageBackend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM storage_backends`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Update rewrites the operator-editable fields of a backend.
func (r *PostgresRepository) Update(ctx context.Context, b *models.StorageBackend) error {
	query := `
		UPDATE storage_backends SET name = $2, client_id = $3, encrypted_client_secret = $4,
			root_folder_id = $5, root_folder_name = $6, public_url = $7, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		b.ID, b.Name, b.ClientID, b.EncryptedClientSecret, b.RootFolderID, b.RootFolderName, b.PublicURL)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrBackendNameTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM storage_backends WHERE id = $1 AND file_count = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backend: %w", err)
	}
	return expectOne(res, common.ErrBackendHasFiles)
}

// SetRole assigns role. A second backend claiming the same image role yields
// ErrRoleAlreadyAssigned via the partial unique index.
func (r *PostgresRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE storage_backends SET role = $2, updated_at = now() WHERE id = $1`, id, string(role))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrRoleAlreadyAssigned
		}
		return fmt.Errorf("failed to set role: %w", err)
	}
	return expectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) ClearRole(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE storage_backends SET role = '', updated_at = now() WHERE id = $1 AND file_count = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to clear role: %w", err)
	}
	return expectOne(res, common.ErrBackendHasFiles)
}

func (r *PostgresRepository) SaveToken(ctx context.Context, id string, t *models.OAuthToken) error {
	query := `
		UPDATE storage_backends
		SET access_token = $2, refresh_token = COALESCE(NULLIF($3, ''), refresh_token), expiry = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, t.AccessToken, t.RefreshToken, t.Expiry)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return expectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) AddUsage(ctx context.Context, id string, bytes, files int64) error {
	query := `
		UPDATE storage_backends
		SET used_bytes = GREATEST(used_bytes + $2, 0), file_count = GREATEST(file_count + $3, 0)
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, bytes, files)
	if err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	return expectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) IncrementSelection(ctx context.Context, id string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE storage_backends SET selection_count = selection_count + 1 WHERE id = $1 RETURNING selection_count`,
		id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, zero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return zero
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
