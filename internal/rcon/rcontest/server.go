// Package rcontest provides a scriptable RCON peer on a loopback listener
// for use in tests, in the manner of net/http/httptest.
package rcontest

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/energizer-project/rconbridge/internal/rcon"
)

// HandlerFunc produces the response body for an executed command.
type HandlerFunc func(command string) string

// Server is a fake RCON server. The zero behaviour accepts the configured
// password and echoes every command back as its response body.
type Server struct {
	Password string

	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	handler     HandlerFunc
	commands    []string
	authCount   int
	rejectAuths int
	silent      bool
	fragment    bool
	idOffset    int32
	conns       map[net.Conn]struct{}
	closed      bool
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer(password string) *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: failed to listen: " + err.Error())
	}
	s := &Server{
		Password: password,
		listener: l,
		handler:  func(cmd string) string { return cmd },
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Config returns a client config pointed at this server with short timeouts.
func (s *Server) Config() rcon.Config {
	return rcon.Config{
		Host:            s.Host(),
		Port:            s.Port(),
		Password:        s.Password,
		ConnectTimeout:  time.Second,
		ResponseTimeout: time.Second,
		MaxRetries:      0,
		RetryDelay:      time.Millisecond,
	}
}

// SetHandler replaces the command handler.
func (s *Server) SetHandler(h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// RejectAuths makes the next n authentication attempts fail with id -1.
func (s *Server) RejectAuths(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAuths = n
}

// SetSilent stops the server from answering commands (authentication is
// still answered).
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// SetFragmented makes the server write every response one byte at a time.
func (s *Server) SetFragmented(fragment bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragment = fragment
}

// SetReplyIDOffset shifts the id of every command response by n, as a
// stale reply to an earlier request would appear.
func (s *Server) SetReplyIDOffset(n int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idOffset = n
}

// Commands returns every executed command in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// AuthCount returns how many AUTH packets were received.
func (s *Server) AuthCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// DropConnections closes every accepted connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and all connections, then waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		pkt, err := rcon.ReadPacket(conn)
		if err != nil {
			return
		}

		var reply *rcon.Packet
		s.mu.Lock()
		switch pkt.Type {
		case rcon.TypeAuth:
			s.authCount++
			id := pkt.ID
			if s.rejectAuths > 0 || pkt.Body != s.Password {
				if s.rejectAuths > 0 {
					s.rejectAuths--
				}
				id = rcon.AuthFailedID
			}
			reply = &rcon.Packet{ID: id, Type: rcon.TypeAuthResponse}
		case rcon.TypeExecCommand:
			s.commands = append(s.commands, pkt.Body)
			if !s.silent {
				reply = &rcon.Packet{ID: pkt.ID + s.idOffset, Type: rcon.TypeResponseValue, Body: s.handler(pkt.Body)}
			}
		}
		fragment := s.fragment
		s.mu.Unlock()

		if reply == nil {
			continue
		}
		if err := write(conn, *reply, fragment); err != nil {
			return
		}
	}
}

func write(conn net.Conn, p rcon.Packet, fragment bool) error {
	if !fragment {
		return rcon.WritePacket(conn, p)
	}
	for _, b := range rcon.Encode(p.ID, p.Type, p.Body) {
		if _, err := conn.Write([]byte{b}); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
