package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/exportd/internal/artifact"
)

// documentRecord is one document in a converted workspace export.
type documentRecord struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// convertMarkdownExport converts a workspace markdown dump (one .md file per
// document) into a single envelope at outPath.
func convertMarkdownExport(dir, outPath string, meta artifact.Meta) error {
	var records []json.RawMessage

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", filepath.Base(path), err)
		}

		text := string(data)
		rec := documentRecord{
			Title: documentTitle(path, text),
			Text:  strings.TrimSpace(text),
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		records = append(records, raw)
		return nil
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		return fmt.Errorf("workspace export contained no documents")
	}
	return writeConverted(outPath, meta, records)
}

// documentTitle prefers the first markdown heading, falling back to the file
// name with the export hash suffix trimmed.
func documentTitle(path, text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if line != "" {
			break
		}
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	// Workspace exports suffix file names with a 32-char hex id.
	if idx := strings.LastIndex(name, " "); idx > 0 && len(name)-idx-1 == 32 {
		name = name[:idx]
	}
	return name
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
