// Package device is the client side of the device protocol, as used by
// cameras and barrier controllers: one connection per message.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

var ErrNoReply = errors.New("device: no reply")

type Client struct {
	addr       string
	timeout    time.Duration
	readBuffer int
	logger     *logrus.Logger
}

type Option func(*Client)

// WithTimeout bounds the whole exchange when ctx carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:       addr,
		timeout:    5 * time.Second,
		readBuffer: 1024,
		logger:     logging.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Addr() string {
	return c.addr
}

// Send encodes msg, sends it and returns the raw reply.
func (c *Client) Send(ctx context.Context, msg protocol.Message) (string, error) {
	return c.SendLine(ctx, protocol.EncodeMessage(msg))
}

// SendLine sends line verbatim.
func (c *Client) SendLine(ctx context.Context, line string) (string, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("device: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(line)); err != nil {
		return "", fmt.Errorf("device: send: %w", err)
	}

	buf := make([]byte, c.readBuffer)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", ErrNoReply
		}
		return "", fmt.Errorf("device: receive: %w", err)
	}

	reply := string(buf[:n])
	logging.FromContext(ctx, c.logger).WithFields(logrus.Fields{
		"request": line,
		"reply":   reply,
	}).Debug("device exchange")
	return reply, nil
}
