package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/teemow/mailferry/internal/config"
)

// DefaultDialTimeout bounds the TCP connect to the POP3 server.
const DefaultDialTimeout = 30 * time.Second

// POP3Dialer opens POP3 sessions with go-pop3.
type POP3Dialer struct {
	// DialTimeout overrides DefaultDialTimeout when non-zero.
	DialTimeout time.Duration
}

// Dial connects and authenticates. The ctx is honored up to the
// protocol handshake; go-pop3 has no context plumbing beyond the dial.
func (d *POP3Dialer) Dial(ctx context.Context, account config.Account) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectError{Account: account.Name, Err: err}
	}

	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	client := pop3.New(pop3.Opt{
		Host:          account.Host,
		Port:          account.Port,
		DialTimeout:   timeout,
		TLSEnabled:    account.Security == config.SecurityTLS,
		TLSSkipVerify: account.TLSSkipVerify,
	})

	conn, err := client.NewConn()
	if err != nil {
		return nil, &ConnectError{Account: account.Name, Err: err}
	}

	if err := conn.Auth(account.Username, account.Password); err != nil {
		_ = conn.Quit()
		return nil, &ConnectError{Account: account.Name, Err: fmt.Errorf("authentication: %w", err)}
	}

	return &pop3Session{conn: conn}, nil
}

type pop3Session struct {
	conn *pop3.Conn
}

func (s *pop3Session) Count() (int, error) {
	count, _, err := s.conn.Stat()
	if err != nil {
		return 0, fmt.Errorf("STAT: %w", err)
	}
	return count, nil
}

func (s *pop3Session) Retr(i int) ([]byte, error) {
	buf, err := s.conn.RetrRaw(i)
	if err != nil {
		return nil, fmt.Errorf("RETR %d: %w", i, err)
	}
	return buf.Bytes(), nil
}

func (s *pop3Session) Dele(i int) error {
	if err := s.conn.Dele(i); err != nil {
		return fmt.Errorf("DELE %d: %w", i, err)
	}
	return nil
}

func (s *pop3Session) Quit() error {
	return s.conn.Quit()
}
