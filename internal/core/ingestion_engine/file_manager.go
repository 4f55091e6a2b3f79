package ingestion_engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileManager validates uploads and persists them under a stable,
// collision-free path derived from the document id.
type FileManager struct {
	uploadsDir string
}

func NewFileManager(uploadsDir string) (*FileManager, error) {
	if uploadsDir == "" {
		return nil, fmt.Errorf("uploads dir is empty")
	}
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &FileManager{uploadsDir: uploadsDir}, nil
}

// GenerateDocID returns a fresh opaque document identifier.
func (m *FileManager) GenerateDocID() string {
	return uuid.NewString()
}

// Validate is the only format-level gate before expensive extraction work:
// PDF extension and non-empty content.
func (m *FileManager) Validate(filename string, content []byte) (bool, string) {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return false, "Only PDF files are supported"
	}
	if len(content) == 0 {
		return false, "Empty file"
	}
	return true, ""
}

// Save writes the upload to <uploadsDir>/ingestion_<docID><ext> and returns
// the path. The name carries no user-controlled path components.
func (m *FileManager) Save(content []byte, filename, docID string) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	if ext == "" {
		ext = ".pdf"
	}
	path := filepath.Join(m.uploadsDir, "ingestion_"+docID+ext)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// Delete removes a saved upload; a file that is already gone is not an
// error.
func (m *FileManager) Delete(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
