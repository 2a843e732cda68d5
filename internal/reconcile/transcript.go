package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonathan/exportd/internal/artifact"
)

// transcriptMessage is one message within a converted conversation, ordered by
// creation time.
type transcriptMessage struct {
	Text      string  `json:"text"`
	Role      string  `json:"role"`
	Timestamp float64 `json:"timestamp"`
}

// conversationRecord is one conversation in the converted chat export.
type conversationRecord struct {
	Title    string              `json:"title"`
	Messages []transcriptMessage `json:"messages"`
}

// exportedConversation mirrors the chat export's conversations.json entries.
// Messages live in an id->node mapping rather than an ordered list.
type exportedConversation struct {
	Title   string `json:"title"`
	Mapping map[string]struct {
		Message *struct {
			Author struct {
				Role string `json:"role"`
			} `json:"author"`
			CreateTime float64 `json:"create_time"`
			Content    struct {
				Parts []json.RawMessage `json:"parts"`
			} `json:"content"`
		} `json:"message"`
	} `json:"mapping"`
}

// convertTranscripts converts a chat transcript export (conversations.json)
// into one record per conversation. Messages are sorted ascending by creation
// time; nodes with empty content are excluded.
func convertTranscripts(dir, outPath string, meta artifact.Meta) error {
	srcPath, err := findConversationsFile(dir)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read transcript export: %w", err)
	}

	var conversations []exportedConversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return fmt.Errorf("failed to parse transcript export: %w", err)
	}

	var records []json.RawMessage
	for _, conv := range conversations {
		rec := conversationRecord{Title: conv.Title, Messages: []transcriptMessage{}}
		for _, node := range conv.Mapping {
			if node.Message == nil {
				continue
			}
			text := joinParts(node.Message.Content.Parts)
			if text == "" {
				continue
			}
			rec.Messages = append(rec.Messages, transcriptMessage{
				Text:      text,
				Role:      node.Message.Author.Role,
				Timestamp: node.Message.CreateTime,
			})
		}
		sort.Slice(rec.Messages, func(i, j int) bool {
			return rec.Messages[i].Timestamp < rec.Messages[j].Timestamp
		})

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		records = append(records, raw)
	}

	if len(records) == 0 {
		return fmt.Errorf("transcript export contained no conversations")
	}
	return writeConverted(outPath, meta, records)
}

func findConversationsFile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "conversations.json" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("transcript export has no conversations.json")
	}
	return found, nil
}

// joinParts flattens message content parts; non-string parts (images, tool
// payloads) are skipped.
func joinParts(parts []json.RawMessage) string {
	var texts []string
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			texts = append(texts, s)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
