package rcon

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultPort            = 27015
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
)

// Config holds everything needed to reach and authenticate against a server.
type Config struct {
	Host            string
	Port            int
	Password        string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	MaxRetries      int
	// RetryDelay is multiplied by the attempt number between reconnect attempts.
	RetryDelay time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Conn owns one TCP socket to an RCON server. It is not safe for concurrent
// use: at most one Send may be outstanding, which the Executor guarantees.
type Conn struct {
	cfg    Config
	conn   net.Conn
	logger zerolog.Logger

	authenticated bool
	nextID        int32
}

// NewConn creates an unconnected Conn.
func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:    cfg,
		nextID: 1,
		logger: log.With().
			Str("component", "rcon").
			Str("addr", cfg.Addr()).
			Logger(),
	}
}

// Connect dials the server. Calling it on an open Conn is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errContextDone, ctx.Err())
		}
		if isTimeout(err) {
			return &TimeoutError{Phase: PhaseConnection, After: c.cfg.ConnectTimeout}
		}
		return &ConnectionError{Addr: c.cfg.Addr(), Err: err}
	}

	c.conn = conn
	c.authenticated = false
	c.logger.Debug().Msg("rcon socket connected")
	return nil
}

// Authenticate performs the AUTH handshake with the configured password.
// A response id of -1 means the password was rejected, whatever the body.
func (c *Conn) Authenticate() error {
	if c.conn == nil {
		return &ConnectionError{Addr: c.cfg.Addr(), Err: fmt.Errorf("not connected")}
	}

	id := c.allocateID()
	if err := c.write(id, TypeAuth, c.cfg.Password); err != nil {
		return err
	}

	resp, _, err := readResponse(c.conn, c.cfg.ResponseTimeout)
	if err != nil {
		return err
	}

	if resp.ID == AuthFailedID {
		c.logger.Warn().Msg("rcon authentication rejected")
		return &AuthenticationError{Addr: c.cfg.Addr()}
	}

	c.authenticated = true
	c.logger.Info().Msg("rcon authenticated")
	return nil
}

// Send executes one command and returns the response body with trailing
// NULs trimmed.
func (c *Conn) Send(command string) (string, error) {
	if c.conn == nil || !c.authenticated {
		return "", ErrNotAuthenticated
	}

	id := c.allocateID()
	if err := c.write(id, TypeExecCommand, command); err != nil {
		return "", err
	}

	resp, discarded, err := readResponse(c.conn, c.cfg.ResponseTimeout)
	if err != nil {
		return "", err
	}

	if discarded > 0 {
		c.logger.Debug().Int("bytes", discarded).Msg("discarded trailing response data")
	}
	if resp.ID != id {
		c.logger.Warn().Int32("sent_id", id).Int32("recv_id", resp.ID).Msg("response id mismatch")
		return "", &ParseError{Reason: fmt.Sprintf("response id %d does not match request id %d", resp.ID, id)}
	}

	body := strings.TrimRight(resp.Body, "\x00")
	c.logger.Debug().
		Str("command", command).
		Int("response_len", len(body)).
		Msg("rcon command completed")
	return body, nil
}

// Close releases the socket. It is safe to call repeatedly and never fails.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("error closing rcon socket")
	}
	c.conn = nil
	c.authenticated = false
	c.logger.Debug().Msg("rcon connection closed")
	return nil
}

// Authenticated reports whether the handshake succeeded on the current socket.
func (c *Conn) Authenticated() bool {
	return c.conn != nil && c.authenticated
}

// allocateID returns the next request id. Ids run 1..MaxInt32 and then wrap
// to 1; negative ids are reserved for the authentication failure signal.
func (c *Conn) allocateID() int32 {
	id := c.nextID
	if c.nextID == math.MaxInt32 {
		c.nextID = 1
	} else {
		c.nextID++
	}
	return id
}

func (c *Conn) write(id int32, typ PacketType, body string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ResponseTimeout)); err != nil {
		return &ConnectionError{Addr: c.cfg.Addr(), Err: err}
	}
	defer c.conn.SetWriteDeadline(time.Time{})

	if err := WritePacket(c.conn, Packet{ID: id, Type: typ, Body: body}); err != nil {
		if isTimeout(err) {
			return &TimeoutError{Phase: PhaseResponse, After: c.cfg.ResponseTimeout}
		}
		return &ConnectionError{Addr: c.cfg.Addr(), Err: err}
	}
	return nil
}

// Probe performs a throwaway connect, authenticate and close cycle. It is
// used to detect that a freshly started server accepts RCON logins.
func Probe(ctx context.Context, cfg Config) error {
	c := NewConn(cfg)
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Authenticate()
}
