package files

import (
	"fmt"
	"path/filepath"
)

// ContentStore defines the interface for the physical file storage
type ContentStore interface {
	// Write stores data at path, creating parent directories as needed
	Write(path string, data []byte) error

	// Exists checks if a file exists at path
	Exists(path string) bool

	// Read returns the content stored at path
	Read(path string) ([]byte, error)

	// Remove deletes the file at path. Missing files are ignored.
	Remove(path string) error
}

// ContentPath returns the on-disk location of the blob named id under root
func ContentPath(root, id string) string {
	return filepath.Join(root, id)
}

// VariantPath returns where the worker stores the size variant of a blob
func VariantPath(localPath string, size int) string {
	return fmt.Sprintf("%s_%d", localPath, size)
}
