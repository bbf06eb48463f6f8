package repository

import (
	"context"

	"dshare-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ScanLogRepository handles database operations for scan audit records
type ScanLogRepository struct {
	db *pgxpool.Pool
}

// NewScanLogRepository creates a new scan log repository
func NewScanLogRepository(db *pgxpool.Pool) *ScanLogRepository {
	return &ScanLogRepository{db: db}
}

// Create writes one audit record for a scan attempt
func (r *ScanLogRepository) Create(ctx context.Context, log *models.VirusScanLog) error {
	query := `
		INSERT INTO virus_scan_logs (
			username, wallet_address, filename, description, status,
			malicious, suspicious, undetected, harmless
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		log.Username,
		log.WalletAddress,
		log.Filename,
		log.Description,
		log.Status,
		log.Summary.Malicious,
		log.Summary.Suspicious,
		log.Summary.Undetected,
		log.Summary.Harmless,
	).Scan(&log.ID, &log.CreatedAt)

	return err
}

// ListByWalletAddress retrieves a submitter's scan history, newest first
func (r *ScanLogRepository) ListByWalletAddress(ctx context.Context, walletAddress string) ([]*models.VirusScanLog, error) {
	query := `
		SELECT id, username, wallet_address, filename, description, status,
			malicious, suspicious, undetected, harmless, created_at
		FROM virus_scan_logs
		WHERE wallet_address = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, walletAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.VirusScanLog
	for rows.Next() {
		log := &models.VirusScanLog{}
		err := rows.Scan(
			&log.ID,
			&log.Username,
			&log.WalletAddress,
			&log.Filename,
			&log.Description,
			&log.Status,
			&log.Summary.Malicious,
			&log.Summary.Suspicious,
			&log.Summary.Undetected,
			&log.Summary.Harmless,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// UploadsSummary aggregates scan verdicts per user for the admin dashboard
func (r *ScanLogRepository) UploadsSummary(ctx context.Context) ([]*models.UploadsSummary, error) {
	query := `
		SELECT username,
			COUNT(*) FILTER (WHERE status = 'MALICIOUS') AS malicious_upload_count,
			COUNT(*) FILTER (WHERE status = 'CLEAN') AS clean_upload_count
		FROM virus_scan_logs
		GROUP BY username
		ORDER BY malicious_upload_count DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.UploadsSummary
	for rows.Next() {
		s := &models.UploadsSummary{}
		if err := rows.Scan(&s.Username, &s.MaliciousUploadCount, &s.CleanUploadCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}
