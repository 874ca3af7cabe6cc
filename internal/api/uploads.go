package api

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"scribe/internal/objectstore"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// UploadRequest is one screenshot to store under the filename convention.
type UploadRequest struct {
	Kind     string
	Args     map[string]string
	Filename string
	Data     []byte
}

// UploadService stores screenshots where discovery will find them.
type UploadService struct {
	objects objectstore.Store
	newGUID func() string
}

// NewUploadService creates an upload service.
func NewUploadService(objects objectstore.Store) *UploadService {
	return &UploadService{
		objects: objects,
		newGUID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Upload validates req and writes it to the object store, returning the key.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (string, workitem.Kind, error) {
	kind, err := workitem.ParseKind(req.Kind)
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, "api", "upload", err.Error(), nil)
	}
	if len(req.Data) == 0 {
		return "", "", services.Wrap(services.ErrValidation, "api", "upload", "image is empty", nil)
	}
	contentType := http.DetectContentType(req.Data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", services.Wrap(services.ErrValidation, "api", "upload", fmt.Sprintf("unsupported content type %q", contentType), nil)
	}
	if fromName := strings.TrimPrefix(strings.ToLower(path.Ext(req.Filename)), "."); fromName == "jpeg" || fromName == ext {
		ext = fromName
	}
	key, err := workitem.ObjectKey(kind, req.Args, s.newGUID(), ext)
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, "api", "upload", err.Error(), nil)
	}
	if err := s.objects.Put(ctx, key, req.Data, contentType); err != nil {
		return "", "", err
	}
	return key, kind, nil
}
