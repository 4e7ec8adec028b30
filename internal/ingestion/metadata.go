package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Metadata describes an ingested file.
type Metadata struct {
	Filename string `json:"filename"`
	Format   Format `json:"format"`
	Hash     string `json:"hash"` // SHA256 hex digest of the cleaned text
	Title    string `json:"title"`
	Length   int    `json:"length"`
}

// Ingest extracts the text of a raw file and describes it.
func Ingest(data []byte, filename, mimeType string) (string, *Metadata, error) {
	format, err := DetectFormat(data, filename, mimeType)
	if err != nil {
		return "", nil, err
	}
	text, err := ExtractText(data, filename, mimeType)
	if err != nil {
		return "", nil, fmt.Errorf("failed to extract %s: %w", filename, err)
	}
	return text, &Metadata{
		Filename: filepath.Base(filename),
		Format:   format,
		Hash:     computeHash(text),
		Title:    titleOf(text, filename),
		Length:   len(text),
	}, nil
}

// ShortID is a stable document identifier derived from the content hash.
func (m *Metadata) ShortID() string {
	if len(m.Hash) < 12 {
		return m.Hash
	}
	return m.Hash[:12]
}

// titleOf uses the first Markdown heading, falling back to the file name.
func titleOf(text, filename string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
	}
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func computeHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
