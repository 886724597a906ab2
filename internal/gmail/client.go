// Package gmail wraps the Gmail API surface the sync engine needs:
// idempotent label creation and raw message import.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Label ids Gmail predefines. Imported messages land in the inbox,
// unread, tagged with the per-account label.
const (
	labelInbox  = "INBOX"
	labelUnread = "UNREAD"
)

// Client wraps the Gmail Users service.
type Client struct {
	svc *gmail.UsersService

	// labels caches name → id so EnsureLabel issues at most one
	// creation call per name.
	labels map[string]string
}

// NewClient creates a Gmail client over an authorized HTTP client.
// Extra options are mainly for tests (endpoint override).
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}
	return &Client{
		svc:    svc.Users,
		labels: make(map[string]string),
	}, nil
}

// EnsureLabel returns the id of the label with the given name,
// creating it when absent. Lookup-by-name is idempotent: calling it
// twice returns the same id and issues at most one creation call.
func (c *Client) EnsureLabel(name string) (string, error) {
	if id, ok := c.labels[name]; ok {
		return id, nil
	}

	res, err := c.svc.Labels.List("me").Do()
	if err != nil {
		return "", fmt.Errorf("listing labels: %w", err)
	}
	for _, l := range res.Labels {
		if l.Name == name {
			c.labels[name] = l.Id
			return l.Id, nil
		}
	}

	created, err := c.svc.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Do()
	if err != nil {
		return "", fmt.Errorf("creating label %q: %w", name, err)
	}
	c.labels[name] = created.Id
	return created.Id, nil
}

// Import submits a raw RFC 822 message for delivery, tagged with the
// given label plus the inbox/unread markers. The delivered item's
// timestamp is taken from the message's own Date header, not the
// import time, so the target mailbox keeps chronological order.
//
// The returned id is the Gmail-assigned message id; callers must not
// treat the message as delivered unless it is non-empty.
func (c *Client) Import(raw []byte, labelID string) (string, error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		LabelIds: []string{labelID, labelInbox, labelUnread},
	}

	imported, err := c.svc.Messages.Import("me", msg).
		InternalDateSource("dateHeader").
		Do()
	if err != nil {
		return "", fmt.Errorf("importing message: %w", err)
	}
	return imported.Id, nil
}
