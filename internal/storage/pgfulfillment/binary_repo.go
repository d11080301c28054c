package pgfulfillment

import (
	"context"
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var extByContentType = map[string]string{
	"application/pdf":   ".pdf",
	"image/png":         ".png",
	"application/x-zpl": ".zpl",
}

// Blobs хранит бинарные файлы (этикетки) в postgres и отдаёт их по публичному URL.
type Blobs struct {
	s       *Storage
	baseURL string
}

func (s *Storage) Blobs(publicBaseURL string) *Blobs {
	return &Blobs{s: s, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

// URL is where the api serves a stored key.
func (b *Blobs) URL(key string) string {
	return b.baseURL + "/v1/labels/" + key
}

func (b *Blobs) UploadBinary(ctx context.Context, prefix string, data []byte, contentType string) (string, string, error) {
	key := strings.Trim(prefix, "/") + "/" + uuid.NewString() + extByContentType[contentType]
	key = strings.TrimPrefix(key, "/")

	_, err := b.s.db.Exec(ctx, `
INSERT INTO binary_objects (key, content_type, size, data) VALUES ($1, $2, $3, $4)
`, key, contentType, len(data), data)
	if err != nil {
		return "", "", errors.Wrap(err, "insert binary object")
	}
	return key, b.URL(key), nil
}

func (b *Blobs) GetBinary(ctx context.Context, key string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := b.s.db.QueryRow(ctx, `SELECT data, content_type FROM binary_objects WHERE key = $1`, key).Scan(&data, &contentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", models.ErrNotFound
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "select binary object")
	}
	return data, contentType, nil
}
