package repository

import (
	"context"

	"dshare-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FileRepository handles database operations for file metadata
type FileRepository struct {
	db *pgxpool.Pool
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *pgxpool.Pool) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, filename, owner, owner_address, description, visibility, shared_with, cid, file_hash, size, mime_type, scan_status, created_at`

// Create creates a new file metadata record
func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (
			filename, owner, owner_address, description, visibility, shared_with,
			cid, file_hash, size, mime_type, scan_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		file.Filename,
		file.Owner,
		file.OwnerAddress,
		file.Description,
		file.Visibility,
		file.SharedWith,
		file.CID,
		file.FileHash,
		file.Size,
		file.MimeType,
		file.ScanStatus,
	).Scan(&file.ID, &file.CreatedAt)

	return err
}

func scanFile(row pgx.Row) (*models.File, error) {
	file := &models.File{}
	err := row.Scan(
		&file.ID,
		&file.Filename,
		&file.Owner,
		&file.OwnerAddress,
		&file.Description,
		&file.Visibility,
		&file.SharedWith,
		&file.CID,
		&file.FileHash,
		&file.Size,
		&file.MimeType,
		&file.ScanStatus,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// GetByID retrieves a file by ID
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return scanFile(r.db.QueryRow(ctx, query, id))
}

// GetByFileHash retrieves a file by its ledger file hash
func (r *FileRepository) GetByFileHash(ctx context.Context, fileHash string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_hash = $1`
	return scanFile(r.db.QueryRow(ctx, query, fileHash))
}

// ListPublic retrieves all public files, newest first
func (r *FileRepository) ListPublic(ctx context.Context) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE visibility = 'public' ORDER BY created_at DESC`
	return r.list(ctx, query)
}

// ListShared retrieves all shared files, newest first
func (r *FileRepository) ListShared(ctx context.Context) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE visibility = 'shared' ORDER BY created_at DESC`
	return r.list(ctx, query)
}

// ListByOwnerAddress retrieves all files owned by a wallet address
func (r *FileRepository) ListByOwnerAddress(ctx context.Context, ownerAddress string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_address = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, ownerAddress)
}

// ListPrivateByOwner retrieves an owner's private files
func (r *FileRepository) ListPrivateByOwner(ctx context.Context, ownerAddress string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_address = $1 AND visibility = 'private' ORDER BY created_at DESC`
	return r.list(ctx, query, ownerAddress)
}

// ListRecent retrieves the most recent files for the dashboard
func (r *FileRepository) ListRecent(ctx context.Context, limit int) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY created_at DESC LIMIT $1`
	return r.list(ctx, query, limit)
}

// Count returns the total number of file records
func (r *FileRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	return count, err
}

// UpdateAccess changes a file's visibility and grantee list
func (r *FileRepository) UpdateAccess(ctx context.Context, id uuid.UUID, visibility models.Visibility, sharedWith []string) (*models.File, error) {
	query := `
		UPDATE files SET visibility = $2, shared_with = $3
		WHERE id = $1
		RETURNING ` + fileColumns
	return scanFile(r.db.QueryRow(ctx, query, id, visibility, sharedWith))
}

func (r *FileRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, rows.Err()
}
