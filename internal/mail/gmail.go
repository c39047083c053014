// Package mail imports bank spend alerts from a Gmail label into the raw
// transactions sheet.
package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const me = "me"

// ErrLabelNotFound is returned when a label name does not exist.
var ErrLabelNotFound = errors.New("mail: label not found")

// Message is the part of a Gmail message the importer needs.
type Message struct {
	ID           string
	InternalDate int64 // milliseconds since the epoch
	From         string
	Body         string
	LabelIDs     []string
}

// Mailbox is the Gmail surface used by the importer.
type Mailbox interface {
	LabelID(ctx context.Context, name string, create bool) (string, error)
	ListMessageIDs(ctx context.Context, labelID string) ([]string, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	AddLabel(ctx context.Context, messageID, labelID string) error
	Reconnect(ctx context.Context) error
}

// GmailMailbox implements Mailbox with the Gmail API and an installed-app
// OAuth token.
type GmailMailbox struct {
	opts []option.ClientOption

	mu  sync.RWMutex
	svc *gmail.Service
}

var _ Mailbox = (*GmailMailbox)(nil)

// OAuthConfig reads an installed-app client secret file.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("OAuthConfig: reading %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("OAuthConfig: parsing client secret: %w", err)
	}
	return cfg, nil
}

// NewGmailMailbox connects with the client secret in credentialsFile and
// the token saved in tokenFile by Authorize.
func NewGmailMailbox(ctx context.Context, credentialsFile, tokenFile string) (*GmailMailbox, error) {
	cfg, err := OAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return NewGmailMailboxWithOptions(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
}

// NewGmailMailboxWithOptions connects with arbitrary client options.
func NewGmailMailboxWithOptions(ctx context.Context, opts ...option.ClientOption) (*GmailMailbox, error) {
	m := &GmailMailbox{opts: opts}
	if err := m.Reconnect(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Reconnect builds a new Gmail service.
func (m *GmailMailbox) Reconnect(ctx context.Context) error {
	svc, err := gmail.NewService(ctx, m.opts...)
	if err != nil {
		return fmt.Errorf("gmail.Reconnect: creating service: %w", err)
	}
	m.mu.Lock()
	m.svc = svc
	m.mu.Unlock()
	return nil
}

func (m *GmailMailbox) service() *gmail.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.svc
}

// LabelID resolves a label name, creating the label when create is set.
func (m *GmailMailbox) LabelID(ctx context.Context, name string, create bool) (string, error) {
	resp, err := m.service().Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("LabelID: listing labels: %w", err)
	}
	for _, l := range resp.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	if !create {
		return "", fmt.Errorf("%w: %s", ErrLabelNotFound, name)
	}

	label, err := m.service().Users.Labels.Create(me, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("LabelID: creating %s: %w", name, err)
	}
	return label.Id, nil
}

// ListMessageIDs returns the IDs of every message carrying labelID.
func (m *GmailMailbox) ListMessageIDs(ctx context.Context, labelID string) ([]string, error) {
	var ids []string
	err := m.service().Users.Messages.List(me).
		LabelIds(labelID).
		MaxResults(500).
		Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, msg := range resp.Messages {
				ids = append(ids, msg.Id)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ListMessageIDs: %w", err)
	}
	return ids, nil
}

// GetMessage fetches one message with its decoded text body.
func (m *GmailMailbox) GetMessage(ctx context.Context, id string) (Message, error) {
	msg, err := m.service().Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return Message{}, fmt.Errorf("GetMessage: %s: %w", id, err)
	}

	out := Message{
		ID:           msg.Id,
		InternalDate: msg.InternalDate,
		LabelIDs:     msg.LabelIds,
	}
	if msg.Payload != nil {
		out.From = header(msg.Payload.Headers, "From")
		out.Body = messageBody(msg.Payload)
	}
	if out.Body == "" {
		out.Body = msg.Snippet
	}
	return out, nil
}

// AddLabel applies labelID to a message.
func (m *GmailMailbox) AddLabel(ctx context.Context, messageID, labelID string) error {
	_, err := m.service().Users.Messages.Modify(me, messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("AddLabel: %s: %w", messageID, err)
	}
	return nil
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var (
	htmlTag    = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// messageBody returns the first text/plain part, falling back to the first
// text/html part with tags stripped.
func messageBody(part *gmail.MessagePart) string {
	if text := findPart(part, "text/plain"); text != "" {
		return text
	}
	if markup := findPart(part, "text/html"); markup != "" {
		text := html.UnescapeString(htmlTag.ReplaceAllString(markup, " "))
		return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) string {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(b)
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadToken: %w (run import-mail --authorize first)", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("loadToken: decoding %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("saveToken: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("saveToken: encoding: %w", err)
	}
	return nil
}

// Authorize runs the installed-app consent flow on the terminal: it prints
// the consent URL to out, reads the authorization code from in and saves
// the resulting token to tokenFile.
func Authorize(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) error {
	cfg, err := OAuthConfig(credentialsFile)
	if err != nil {
		return err
	}

	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open this link in your browser, then paste the authorization code:\n%s\n> ", url)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("Authorize: reading code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("Authorize: exchanging code: %w", err)
	}
	return saveToken(tokenFile, tok)
}
