package chat

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"pairchat/internal/blob"
	"pairchat/internal/domain"
	pairchat_errors "pairchat/pkg/errors"
	"pairchat/pkg/logger"
)

// File is a caller-supplied attachment payload, not yet uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader writes attachment payloads to blob storage and returns durable
// references. An upload failure is fatal to the send that requested it.
type Uploader struct {
	blobs    blob.Store
	maxBytes int64
	log      *logger.Logger
}

func NewUploader(blobs blob.Store, maxBytes int64, log *logger.Logger) *Uploader {
	return &Uploader{blobs: blobs, maxBytes: maxBytes, log: log}
}

func (u *Uploader) Upload(ctx context.Context, uploaderID string, f File) (domain.Attachment, error) {
	if uploaderID == "" || f.Name == "" || len(f.Data) == 0 {
		return domain.Attachment{}, fmt.Errorf("%w: attachment needs a name and a non-empty payload", pairchat_errors.ErrInvalidInput)
	}
	if u.maxBytes > 0 && int64(len(f.Data)) > u.maxBytes {
		return domain.Attachment{}, fmt.Errorf("%w: attachment exceeds %d bytes", pairchat_errors.ErrTooLarge, u.maxBytes)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := buildObjectKey(uploaderID, f.Name)
	url, err := u.blobs.Put(ctx, key, contentType, f.Data)
	if err != nil {
		u.log.Errorf("attachment upload failed for %s: %v", key, err)
		return domain.Attachment{}, fmt.Errorf("%w: %v", pairchat_errors.ErrNotUploaded, err)
	}

	return domain.Attachment{
		Name: f.Name,
		Type: contentType,
		Size: int64(len(f.Data)),
		URL:  url,
	}, nil
}

// buildObjectKey namespaces blobs by uploader and upload time so concurrent
// uploads by the same or different users never collide.
func buildObjectKey(uploaderID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	base := fmt.Sprintf("chat-uploads/%s/%d-%s", uploaderID, time.Now().UTC().UnixNano(), uuid.New().String())
	if ext == "" {
		return base
	}
	return base + ext
}
