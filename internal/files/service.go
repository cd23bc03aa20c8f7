package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ThumbnailQueue is the queue image uploads are dispatched to
const ThumbnailQueue = "fileQueue"

// DefaultContentType is served when the record name has no known extension
const DefaultContentType = "application/octet-stream"

// Service provides application-level file operations
type Service struct {
	catalog    Catalog
	storage    ContentStore
	identities IdentityResolver
	dispatcher Dispatcher
	cfg        Config
}

// NewService creates a new file service
func NewService(catalog Catalog, storage ContentStore, identities IdentityResolver, dispatcher Dispatcher, cfg Config) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Service{
		catalog:    catalog,
		storage:    storage,
		identities: identities,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// UploadRequest represents a file or folder creation request
type UploadRequest struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	IsPublic bool     `json:"isPublic"`
	ParentID ParentID `json:"parentId"`
	Data     string   `json:"data"` // base64
}

// UploadResult represents the result of an upload. Warning is set when the
// post-processing job could not be enqueued.
type UploadResult struct {
	File    Projection
	Warning *DispatchWarning
}

// ThumbnailJob is the payload consumed by the image worker
type ThumbnailJob struct {
	UserID    string `json:"userId"`
	FileID    string `json:"fileId"`
	LocalPath string `json:"localPath"`
}

// Content is the raw body of a file together with its MIME type
type Content struct {
	Data        []byte
	ContentType string
}

// Upload validates the request, stores the content and records its metadata
func (s *Service) Upload(ctx context.Context, token string, req *UploadRequest) (*UploadResult, error) {
	ownerID, err := s.Identify(ctx, token)
	if err != nil {
		return nil, err
	}

	if req.Name == "" {
		return nil, ErrMissingName
	}
	kind, ok := ParseKind(req.Type)
	if !ok {
		return nil, ErrMissingType
	}
	if req.Data == "" && kind != KindFolder {
		return nil, ErrMissingData
	}
	if err := s.checkParent(ctx, req.ParentID); err != nil {
		return nil, err
	}

	record := &Record{
		OwnerID:  ownerID,
		Name:     req.Name,
		Kind:     kind,
		IsPublic: req.IsPublic,
		ParentID: req.ParentID,
	}

	if kind == KindFolder {
		if err := s.catalog.Insert(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save folder metadata: %w", err)
		}
		return &UploadResult{File: record.Project()}, nil
	}

	data, err := decodeData(req.Data)
	if err != nil {
		return nil, ErrInvalidData
	}

	record.LocalPath = ContentPath(s.cfg.StorageRoot, uuid.NewString())
	if err := s.storage.Write(record.LocalPath, data); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	if err := s.catalog.Insert(ctx, record); err != nil {
		// Clean up file if metadata save fails
		if rmErr := s.storage.Remove(record.LocalPath); rmErr != nil {
			slog.Warn("Failed to remove orphaned file", "error", rmErr, "path", record.LocalPath)
		}
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}

	result := &UploadResult{File: record.Project()}
	if kind == KindImage {
		job := ThumbnailJob{UserID: ownerID, FileID: record.ID, LocalPath: record.LocalPath}
		if err := s.dispatcher.Enqueue(ctx, ThumbnailQueue, job); err != nil {
			result.Warning = &DispatchWarning{Queue: ThumbnailQueue, FileID: record.ID, Err: err}
		}
	}

	return result, nil
}

// Show returns a single record to any authenticated user
func (s *Service) Show(ctx context.Context, token, id string) (Projection, error) {
	if _, err := s.Identify(ctx, token); err != nil {
		return Projection{}, err
	}

	record, err := s.find(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	return record.Project(), nil
}

// List returns one page of records under parentID. Pages are zero-based.
func (s *Service) List(ctx context.Context, token string, parentID ParentID, page int) ([]Projection, error) {
	if _, err := s.Identify(ctx, token); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}

	records, err := s.catalog.Find(ctx, ListFilter{
		ParentID: parentID,
		Offset:   page * s.cfg.PageSize,
		Limit:    s.cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	projections := make([]Projection, 0, len(records))
	for _, r := range records {
		projections = append(projections, r.Project())
	}
	return projections, nil
}

// Publish makes a record owned by the caller public
func (s *Service) Publish(ctx context.Context, token, id string) (Projection, error) {
	return s.setVisibility(ctx, token, id, true)
}

// Unpublish makes a record owned by the caller private
func (s *Service) Unpublish(ctx context.Context, token, id string) (Projection, error) {
	return s.setVisibility(ctx, token, id, false)
}

// Content returns the bytes of a file. An empty or unknown token reads as
// anonymous; private files are reported as not found to anyone but the owner.
// A positive size selects the matching variant when the worker has produced it.
func (s *Service) Content(ctx context.Context, token, id string, size int) (*Content, error) {
	requester, err := s.Identify(ctx, token)
	if err != nil && !errors.Is(err, ErrUnauthorized) {
		return nil, err
	}

	record, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.IsPublic && (requester == "" || requester != record.OwnerID) {
		return nil, ErrNotFound
	}
	if record.Kind == KindFolder {
		return nil, ErrFolderContent
	}

	path := record.LocalPath
	if size > 0 {
		if variant := VariantPath(record.LocalPath, size); s.storage.Exists(variant) {
			path = variant
		}
	}
	if !s.storage.Exists(path) {
		return nil, ErrNotFound
	}

	data, err := s.storage.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve file content: %w", err)
	}

	return &Content{Data: data, ContentType: ContentType(record.Name)}, nil
}

// decodeData accepts padded and unpadded standard base64
func decodeData(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ContentType resolves a MIME type from the extension of name
func ContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return DefaultContentType
}

func (s *Service) setVisibility(ctx context.Context, token, id string, isPublic bool) (Projection, error) {
	ownerID, err := s.Identify(ctx, token)
	if err != nil {
		return Projection{}, err
	}

	record, err := s.find(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	if record.OwnerID != ownerID {
		return Projection{}, ErrNotFound
	}

	updated, err := s.catalog.UpdateVisibility(ctx, record.ID, isPublic)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Projection{}, ErrNotFound
		}
		return Projection{}, fmt.Errorf("failed to update file visibility: %w", err)
	}
	return updated.Project(), nil
}

func (s *Service) checkParent(ctx context.Context, parentID ParentID) error {
	if parentID.IsRoot() {
		return nil
	}
	parent, err := s.find(ctx, string(parentID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrParentNotFound
		}
		return err
	}
	if parent.Kind != KindFolder {
		return ErrParentNotFolder
	}
	return nil
}

// Identify resolves the token to a user ID
func (s *Service) Identify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	userID, err := s.identities.ResolveIdentity(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// find looks up a record, mapping malformed IDs and absence to ErrNotFound
func (s *Service) find(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	record, err := s.catalog.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return record, nil
}

// ValidID reports whether id is a well-formed record identifier
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID generates a record identifier
func NewID() string {
	return uuid.NewString()
}
