package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Inbound model audio arrives base64 inside JSON, so frames run well past
// the library's 32 KiB default.
const readLimit = 16 << 20

const GeminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

type WebsocketDialer struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
}

// NewGeminiDialer targets the live endpoint with the key passed as a query
// parameter. An empty endpoint uses GeminiLiveURL.
func NewGeminiDialer(endpoint, apiKey string) (*WebsocketDialer, error) {
	if endpoint == "" {
		endpoint = GeminiLiveURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("key", apiKey)
		u.RawQuery = q.Encode()
	}
	return &WebsocketDialer{URL: u.String()}, nil
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Channel, DialStats, error) {
	var stats DialStats
	var dnsStart, tcpStart, tlsStart time.Time
	trace := &httptrace.ClientTrace{
		DNSStart:          func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { stats.DNS = time.Since(dnsStart) },
		ConnectStart:      func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { stats.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { stats.TLS = time.Since(tlsStart) },
	}

	start := time.Now()
	conn, _, err := websocket.Dial(httptrace.WithClientTrace(ctx, trace), d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	stats.Total = time.Since(start)
	stats.Handshake = stats.Total - stats.DNS - stats.TCP - stats.TLS
	if err != nil {
		return nil, stats, fmt.Errorf("dial %s: %w", redact(d.URL), err)
	}
	conn.SetReadLimit(readLimit)

	// The dial context only bounds the handshake; the connection lives until Close.
	connCtx, cancel := context.WithCancel(context.Background())
	return &wsChannel{conn: conn, ctx: connCtx, cancel: cancel}, stats, nil
}

// redact drops the query string so API keys never reach the logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

type wsChannel struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) Send(ctx context.Context, msg []byte) error {
	ctx, stop := mergeDone(ctx, c.ctx)
	defer stop()
	if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return c.mapErr(err)
	}
	return nil
}

func (c *wsChannel) Recv(ctx context.Context) ([]byte, error) {
	ctx, stop := mergeDone(ctx, c.ctx)
	defer stop()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, c.mapErr(err)
	}
	return data, nil
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return c.closeErr
}

func (c *wsChannel) mapErr(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
