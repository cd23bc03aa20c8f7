package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a catalog record
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
	KindImage  Kind = "image"
)

// ParseKind returns the kind named by s, or false if s is not a known kind
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindFolder, KindFile, KindImage:
		return k, true
	}
	return "", false
}

// Root is the parent of every top-level record
const Root ParentID = ""

// ParentID references the folder a record lives in. The zero value is Root.
//
// On the wire root is rendered as the number 0; 0, "0", "" and null all decode to Root.
type ParentID string

// IsRoot reports whether p is the top level
func (p ParentID) IsRoot() bool {
	return p == Root
}

func (p ParentID) String() string {
	if p.IsRoot() {
		return "0"
	}
	return string(p)
}

func (p ParentID) MarshalJSON() ([]byte, error) {
	if p.IsRoot() {
		return []byte("0"), nil
	}
	return json.Marshal(string(p))
}

func (p *ParentID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*p = Root
	case float64:
		// A numeric id can never name a folder, but it is still a non-root reference.
		*p = ParseParentID(strconv.FormatFloat(v, 'f', -1, 64))
	case string:
		*p = ParseParentID(v)
	default:
		return fmt.Errorf("invalid parentId")
	}
	return nil
}

// ParseParentID maps the query/body form of a parent reference to a ParentID
func ParseParentID(s string) ParentID {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return Root
	}
	return ParentID(s)
}

// Record is a file or folder entry in the metadata catalog
type Record struct {
	ID        string
	OwnerID   string
	Name      string
	Kind      Kind
	IsPublic  bool
	ParentID  ParentID
	LocalPath string // empty for folders
	CreatedAt time.Time
}

// Projection is the public view of a record returned to clients
type Projection struct {
	ID       string   `json:"id"`
	UserID   string   `json:"userId"`
	Name     string   `json:"name"`
	Type     Kind     `json:"type"`
	IsPublic bool     `json:"isPublic"`
	ParentID ParentID `json:"parentId"`
}

// Project returns the public view of r
func (r *Record) Project() Projection {
	return Projection{
		ID:       r.ID,
		UserID:   r.OwnerID,
		Name:     r.Name,
		Type:     r.Kind,
		IsPublic: r.IsPublic,
		ParentID: r.ParentID,
	}
}

// ListFilter selects a page of records. A Root parent matches every record.
type ListFilter struct {
	ParentID ParentID
	Offset   int
	Limit    int
}

// Catalog defines the interface for file metadata persistence
type Catalog interface {
	// Insert stores a new record and assigns its ID
	Insert(ctx context.Context, record *Record) error

	// FindByID retrieves a record, returning ErrRecordNotFound if absent
	FindByID(ctx context.Context, id string) (*Record, error)

	// Find returns records matching the filter in insertion order
	Find(ctx context.Context, filter ListFilter) ([]*Record, error)

	// UpdateVisibility sets isPublic and returns the updated record
	UpdateVisibility(ctx context.Context, id string, isPublic bool) (*Record, error)
}

// IdentityResolver maps a session token to a user ID
type IdentityResolver interface {
	// ResolveIdentity returns ErrUnauthorized when the token is unknown
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// Dispatcher enqueues post-processing work for an external worker
type Dispatcher interface {
	Enqueue(ctx context.Context, queue string, payload any) error
}

// Config holds the recognized options of the file service
type Config struct {
	StorageRoot string
	PageSize    int
}

// DefaultPageSize is used when Config.PageSize is not positive
const DefaultPageSize = 20
