package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrPostRecordNotFound = errors.New("post record not found")
)

// User holds the per-creator settings the pipeline needs: the Bluesky handle,
// the vault-encrypted app password, and the stable provenance page id minted
// at first settings save and never regenerated.
type User struct {
	UserID               string
	Handle               string
	CredentialCiphertext string
	ProvenancePageID     string
	CreatedAt            time.Time
}

// PostRecord is the durable record of one successfully published post. It
// exists if and only if the external publish succeeded. Readers must treat a
// non-nil DeletedAt as "not found".
type PostRecord struct {
	PostID           string
	UserID           string
	ExternalHandle   string
	Text             string
	ImageMetadata    []byte
	ContentLabels    []string
	ExternalPostURI  string
	PostedAt         time.Time
	CreatedAt        time.Time
	ProvenancePageID string
	DeletedAt        *time.Time
}

type Repository interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	CreatePostRecord(ctx context.Context, record *PostRecord) error
	ListUserPosts(ctx context.Context, userID string) ([]PostRecord, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT user_id, handle, credential_ciphertext, provenance_page_id, created_at
		FROM users
		WHERE user_id = $1
	`

	var user User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Handle,
		&user.CredentialCiphertext,
		&user.ProvenancePageID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepo) CreatePostRecord(ctx context.Context, record *PostRecord) error {
	query := `
		INSERT INTO post_records
			(post_id, user_id, external_handle, text, image_metadata, content_labels,
			 external_post_uri, posted_at, provenance_page_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		record.PostID,
		record.UserID,
		record.ExternalHandle,
		record.Text,
		record.ImageMetadata,
		record.ContentLabels,
		record.ExternalPostURI,
		record.PostedAt,
		record.ProvenancePageID,
	).Scan(&record.CreatedAt)
}

// ListUserPosts returns the user's non-deleted posts, newest first. Used by
// the reindex step to rebuild the public listing page.
func (r *PostgresRepo) ListUserPosts(ctx context.Context, userID string) ([]PostRecord, error) {
	query := `
		SELECT post_id, user_id, external_handle, text, image_metadata, content_labels,
		       external_post_uri, posted_at, created_at, provenance_page_id
		FROM post_records
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PostRecord
	for rows.Next() {
		var record PostRecord
		err := rows.Scan(
			&record.PostID,
			&record.UserID,
			&record.ExternalHandle,
			&record.Text,
			&record.ImageMetadata,
			&record.ContentLabels,
			&record.ExternalPostURI,
			&record.PostedAt,
			&record.CreatedAt,
			&record.ProvenancePageID,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
