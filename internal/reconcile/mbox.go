package reconcile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/types"
)

// mailRecord is one message in the converted mailbox artifact.
type mailRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Timestamp int64  `json:"timestamp"`
	Body      string `json:"body"`
}

// convertMailbox converts every .mbox file under dir into a single envelope at
// outPath, one record per message.
func convertMailbox(dir, outPath string, meta artifact.Meta) error {
	var records []json.RawMessage

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mbox") {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open mailbox %s: %w", filepath.Base(path), err)
		}
		defer f.Close()

		fileRecords, err := parseMbox(f)
		if err != nil {
			return fmt.Errorf("failed to parse mailbox %s: %w", filepath.Base(path), err)
		}
		records = append(records, fileRecords...)
		return nil
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		return fmt.Errorf("mailbox export contained no messages")
	}
	return writeConverted(outPath, meta, records)
}

// parseMbox splits an mbox stream on "From " separator lines and parses each
// message with net/mail.
func parseMbox(r io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []json.RawMessage
	var current strings.Builder

	flush := func() error {
		if current.Len() == 0 {
			return nil
		}
		rec, err := parseMessage(current.String())
		current.Reset()
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "From ") {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		// mbox quoting: ">From " at line start is a literal "From ".
		line = strings.TrimPrefix(line, ">")
		current.WriteString(line)
		current.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

func parseMessage(raw string) (json.RawMessage, error) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	rec := mailRecord{
		From:    msg.Header.Get("From"),
		To:      msg.Header.Get("To"),
		Subject: msg.Header.Get("Subject"),
		Body:    strings.TrimSpace(string(body)),
	}
	if date, err := msg.Header.Date(); err == nil {
		rec.Timestamp = date.UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func writeConverted(outPath string, meta artifact.Meta, records []json.RawMessage) error {
	env := &types.Envelope{
		Company:   meta.Company,
		Name:      meta.Name,
		RunID:     meta.RunID,
		Timestamp: nowMilli(),
		Content:   records,
	}
	return artifact.WriteEnvelope(outPath, env)
}
