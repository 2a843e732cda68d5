package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/credentials"
	"github.com/jonathan/exportd/internal/types"
)

const gmailPageSize = 100

// messageRecord is one captured message header set.
type messageRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Timestamp int64  `json:"timestamp"`
	Snippet   string `json:"snippet,omitempty"`
}

// gmailExtractor reads the mailbox through the REST API using the session
// captured from the browser, instead of walking the mail UI. The UI renders
// messages in a virtualized list that defeats DOM scraping.
type gmailExtractor struct{}

func (x *gmailExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	if env.Credentials == nil || len(env.Credentials.Headers) == 0 {
		env.Log("no captured session for gmail, sign-in required")
		return types.ReconnectOutcome(), nil
	}

	env.Progress("connecting to mailbox")
	client := &http.Client{Transport: &sessionTransport{
		creds: env.Credentials,
		base:  http.DefaultTransport,
	}}
	svc, err := gmail.NewService(ctx,
		option.WithoutAuthentication(),
		option.WithHTTPClient(client))
	if err != nil {
		return types.Outcome{}, fmt.Errorf("failed to create mail client: %w", err)
	}

	identity := artifact.TruncatedTimestampIdentity("subject")
	pageToken := ""
	fetch := func(ctx context.Context) ([]json.RawMessage, error) {
		call := svc.Users.Messages.List("me").MaxResults(gmailPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		pageToken = list.NextPageToken

		var batch []json.RawMessage
		for _, ref := range list.Messages {
			msg, err := svc.Users.Messages.Get("me", ref.Id).
				Format("metadata").
				MetadataHeaders("From", "To", "Subject").
				Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("failed to fetch message %s: %w", ref.Id, err)
			}
			raw, err := json.Marshal(toMessageRecord(msg))
			if err != nil {
				return nil, err
			}
			batch = append(batch, raw)
		}
		return batch, nil
	}

	env.Progress("reading messages")
	records, err := collectIncremental(ctx, env, identity, fetch)
	if err != nil {
		if isAuthError(err) {
			env.Log("mailbox session rejected, sign-in required")
			return types.ReconnectOutcome(), nil
		}
		return types.Outcome{}, err
	}
	return types.RecordsOutcome(records), nil
}

func toMessageRecord(msg *gmail.Message) messageRecord {
	rec := messageRecord{Timestamp: msg.InternalDate, Snippet: msg.Snippet}
	if msg.Payload == nil {
		return rec
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			rec.From = h.Value
		case "To":
			rec.To = h.Value
		case "Subject":
			rec.Subject = h.Value
		}
	}
	return rec
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "403")
}

// sessionTransport replays the captured cookies and headers on every request.
type sessionTransport struct {
	creds *credentials.Record
	base  http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for name, value := range t.creds.Headers {
		clone.Header.Set(name, value)
	}
	if len(t.creds.Cookies) > 0 {
		pairs := make([]string, 0, len(t.creds.Cookies))
		for name, value := range t.creds.Cookies {
			pairs = append(pairs, name+"="+value)
		}
		clone.Header.Set("Cookie", strings.Join(pairs, "; "))
	}
	return t.base.RoundTrip(clone)
}
