// Package mailbox is the source-side collaborator: a minimal
// list/fetch/delete view of a POP3 mailbox. Message indices are
// 1-based and re-enumerated fresh each session; deletion is the only
// durable state change on the mailbox side.
package mailbox

import (
	"context"
	"fmt"

	"github.com/teemow/mailferry/internal/config"
)

// ConnectError is an account-level failure: the session could not be
// established or authenticated. The account is skipped for the cycle.
type ConnectError struct {
	Account string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to mailbox for account %s: %v", e.Account, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Session is an open, authenticated mailbox session.
type Session interface {
	// Count returns the number of messages currently in the mailbox.
	Count() (int, error)

	// Retr fetches message i (1-based) in full.
	Retr(i int) ([]byte, error)

	// Dele marks message i (1-based) for deletion.
	Dele(i int) error

	// Quit commits pending deletions and closes the session.
	Quit() error
}

// Dialer opens sessions. Implementations must return a *ConnectError
// for connection and authentication failures.
type Dialer interface {
	Dial(ctx context.Context, account config.Account) (Session, error)
}
