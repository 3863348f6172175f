package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

const errLoggerKey = "err"

// Document is one file of the reference knowledge base.
type Document struct {
	Name    string
	Content string
}

// Knowledge is the reference context loaded from a directory.
type Knowledge struct {
	Documents []Document
}

var knowledgeExts = []string{".txt", ".md", ".pdf"}

// LoadKnowledge reads every text and PDF document of dir in name order. Files with other extensions and
// empty files are skipped. A file that cannot be read or decoded is logged and skipped. Text content that
// is not valid UTF-8 is decoded as Latin-1; PDF documents contribute the plain text of their pages.
func LoadKnowledge(dir string, logger *slog.Logger) (Knowledge, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Knowledge{}, fmt.Errorf("failed to read knowledge dir: %w", err)
	}

	var k Knowledge
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !slices.Contains(knowledgeExts, ext) {
			continue
		}

		content, err := readDocument(filepath.Join(dir, e.Name()), ext)
		if err != nil {
			logger.Warn("Skipping knowledge file", slog.String("file", e.Name()), slog.String(errLoggerKey, err.Error()))
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		k.Documents = append(k.Documents, Document{Name: e.Name(), Content: content})
	}

	return k, nil
}

func readDocument(path, ext string) (string, error) {
	if ext == ".pdf" {
		return readPDF(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read: %w", err)
	}
	content, err := decodeText(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}
	return content, nil
}

func readPDF(path string) (_ string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(t))
	}
	return strings.Join(pages, "\n"), nil
}

func decodeText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	b, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Text joins the documents into one reference section, each introduced by its file name.
func (k Knowledge) Text() string {
	parts := make([]string, len(k.Documents))
	for i, d := range k.Documents {
		parts[i] = fmt.Sprintf("=== %s ===\n%s\n", d.Name, d.Content)
	}
	return strings.Join(parts, "\n")
}

// Size returns the total number of content bytes.
func (k Knowledge) Size() int {
	n := 0
	for _, d := range k.Documents {
		n += len(d.Content)
	}
	return n
}

// LoadPersona reads the persona instructions from path. A missing file or an empty path yields
// DefaultPersona.
func LoadPersona(path string) (string, error) {
	if path == "" {
		return DefaultPersona, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPersona, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read persona: %w", err)
	}
	persona := strings.TrimSpace(string(b))
	if persona == "" {
		return DefaultPersona, nil
	}
	return persona, nil
}
