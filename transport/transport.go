// Package transport carries JSON frames to and from the live endpoint over a
// single bidirectional channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Send and Recv once either side closed the channel.
var ErrClosed = errors.New("channel closed")

type Channel interface {
	// Send writes one text frame.
	Send(ctx context.Context, msg []byte) error
	// Recv blocks for the next frame, text or binary.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Channel, DialStats, error)
}

// DialStats breaks down the time spent opening a channel.
type DialStats struct {
	DNS       time.Duration
	TCP       time.Duration
	TLS       time.Duration
	Handshake time.Duration
	Total     time.Duration
}

// CloseError reports a close initiated by the remote side.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("channel closed by peer (%d)", e.Code)
	}
	return fmt.Sprintf("channel closed by peer (%d): %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return ErrClosed }
