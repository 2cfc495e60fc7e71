package chat

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karmacadabra/agent/internal/resilience"
)

// outboxCapacity bounds the non-blocking send queue per spec §4.6
// ("send is non-blocking up to a small per-channel outbox, then drops with
// a metric").
const outboxCapacity = 32

// Conn is a line-oriented TLS TCP channel with channels-as-topics. recv
// supports a deadline and cooperative cancellation; send never blocks the
// caller once the outbox has capacity.
type Conn struct {
	addr        string
	tlsConfig   *tls.Config
	log         zerolog.Logger
	onDropped   func(channel string)

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	outbox  chan outboundLine
	done    chan struct{}
	closeOnce sync.Once
}

type outboundLine struct {
	channel string
	text    string
}

// Config configures a Conn.
type Config struct {
	ServerAddr  string
	InsecureTLS bool
	Logger      zerolog.Logger
}

// Dial connects to the chat server over TLS and starts the background
// writer goroutine draining the outbox.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}

	c := &Conn{
		addr:      cfg.ServerAddr,
		tlsConfig: tlsConfig,
		log:       cfg.Logger,
		outbox:    make(chan outboundLine, outboxCapacity),
		done:      make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.writeLoop()
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	dialer := &tls.Dialer{Config: c.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect to chat server %s: %w", c.addr, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()
	c.log.Info().Str("addr", c.addr).Msg("chat connected")
	return nil
}

// Join subscribes to a channel by sending its join directive.
func (c *Conn) Join(channel string) error {
	return c.writeLine(fmt.Sprintf("JOIN: %s", channel))
}

// Send enqueues a line for channel without blocking the caller. If the
// outbox is full, the line is dropped and onDropped (if set) is invoked.
func (c *Conn) Send(channel, line string) {
	select {
	case c.outbox <- outboundLine{channel: channel, text: line}:
	default:
		c.log.Warn().Str("channel", channel).Msg("chat outbox full, dropping line")
		if c.onDropped != nil {
			c.onDropped(channel)
		}
	}
}

// SetDropHandler installs a callback invoked whenever Send drops a line.
func (c *Conn) SetDropHandler(fn func(channel string)) {
	c.onDropped = fn
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.outbox:
			if err := c.writeLine(fmt.Sprintf("%s> %s", line.channel, line.text)); err != nil {
				c.log.Warn().Err(err).Msg("chat write failed")
			}
		}
	}
}

func (c *Conn) writeLine(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("chat connection not established")
	}
	_, err := conn.Write([]byte(text + "\n"))
	return err
}

// Recv reads the next line with a deadline and cooperative cancellation
// from ctx, per spec §4.6. Returns a parsed Line or an error on timeout,
// cancellation, or connection failure.
func (c *Conn) Recv(ctx context.Context, deadline time.Duration) (Line, error) {
	c.mu.Lock()
	conn := c.conn
	reader := c.reader
	c.mu.Unlock()
	if conn == nil || reader == nil {
		return Line{}, fmt.Errorf("chat connection not established")
	}

	if deadline > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	}

	type result struct {
		text string
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		text, err := reader.ReadString('\n')
		resultCh <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return Line{}, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return Line{}, r.err
		}
		return parseLine(r.text), nil
	}
}

// parseLine splits a raw "<channel>> <sender>: <text>" wire line. A line not
// matching the expected shape is returned with an empty channel/sender and
// the full trimmed text -- recv tolerates malformed lines per §4.6.
func parseLine(raw string) Line {
	raw = strings.TrimRight(raw, "\r\n")
	channel, rest, hasChannel := strings.Cut(raw, ">")
	if !hasChannel {
		return Line{Time: time.Now(), Text: raw}
	}
	sender, text, hasSender := strings.Cut(strings.TrimSpace(rest), ":")
	if !hasSender {
		return Line{Time: time.Now(), Channel: strings.TrimSpace(channel), Text: strings.TrimSpace(rest)}
	}
	return Line{
		Time:    time.Now(),
		Channel: strings.TrimSpace(channel),
		Sender:  strings.TrimSpace(sender),
		Text:    strings.TrimSpace(text),
	}
}

// Reconnect tears down the current connection and redials with capped
// backoff, tolerating chat failures without impairing the core loop
// (spec §4.6).
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return c.connect(ctx)
	})
}

// Close stops the writer goroutine and closes the underlying connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}
