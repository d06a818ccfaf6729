package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/store/model"
)

type fakeUserStore struct {
	users map[string]*model.User
}

func (f *fakeUserStore) GetUser(_ context.Context, email string) (*model.User, error) {
	return f.users[email], nil
}

type fakeMailStore struct {
	ingested []*model.Email
}

func (f *fakeMailStore) ListEmails(context.Context, string, string, int64, int) ([]model.Email, error) {
	return nil, nil
}
func (f *fakeMailStore) FetchEmail(context.Context, string, int64) (*model.Email, error) { return nil, nil }
func (f *fakeMailStore) MarkRead(context.Context, string, int64, bool) error             { return nil }
func (f *fakeMailStore) Delete(context.Context, string, int64) error                     { return nil }
func (f *fakeMailStore) HighestEmailID(context.Context, string, string) (int64, error)   { return 0, nil }

func (f *fakeMailStore) Ingest(_ context.Context, e *model.Email) (int64, error) {
	e.ID = int64(len(f.ingested) + 1)
	f.ingested = append(f.ingested, e)
	return e.ID, nil
}

// sessionHarness wires a Server.serveConn to one end of an in-memory pipe
// and exposes a line-buffered reader/writer for the test to drive the
// other end, mirroring a real SMTP client.
type sessionHarness struct {
	t      *testing.T
	client net.Conn
	r      *bufio.Reader
	mail   *fakeMailStore
	users  *fakeUserStore
	bus    *changebus.Bus
	done   chan struct{}
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	bus, err := changebus.Start()
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	server, client := net.Pipe()
	mail := &fakeMailStore{}
	users := &fakeUserStore{users: map[string]*model.User{
		"a@example.com": {Email: "a@example.com", Active: true},
	}}
	srv := NewServer(mail, users, bus, "mail.example.com")

	h := &sessionHarness{t: t, client: client, r: bufio.NewReader(client), mail: mail, users: users, bus: bus, done: make(chan struct{})}
	go func() {
		srv.serveConn(context.Background(), server, Listener{Addr: ":25"})
		close(h.done)
	}()
	t.Cleanup(func() { client.Close() })
	return h
}

func (h *sessionHarness) expect(prefix string) string {
	h.t.Helper()
	line, err := h.r.ReadString('\n')
	require.NoError(h.t, err)
	require.True(h.t, strings.HasPrefix(line, prefix), "expected prefix %q, got %q", prefix, line)
	return line
}

func (h *sessionHarness) send(line string) {
	h.t.Helper()
	_, err := h.client.Write([]byte(line + "\r\n"))
	require.NoError(h.t, err)
}

func TestServeConnAcceptsFullDeliveryTransaction(t *testing.T) {
	h := newSessionHarness(t)

	h.expect("220 ")
	h.send("EHLO client.example.com")
	h.expect("250 ")
	h.send("MAIL FROM:<b@example.com>")
	h.expect("250 ")
	h.send("RCPT TO:<a@example.com>")
	h.expect("250 ")
	h.send("DATA")
	h.expect("354 ")
	h.send("Subject: hello")
	h.send("")
	h.send("hi there")
	h.send(".")
	h.expect("250 ")
	h.send("QUIT")
	h.expect("221 ")

	<-h.done
	require.Len(t, h.mail.ingested, 1)
	require.Equal(t, "a@example.com", h.mail.ingested[0].UserEmail)
	require.Equal(t, "hello", h.mail.ingested[0].Subject)
}

func TestServeConnRejectsRcptWithoutMailFrom(t *testing.T) {
	h := newSessionHarness(t)

	h.expect("220 ")
	h.send("HELO client.example.com")
	h.expect("250 ")
	h.send("RCPT TO:<a@example.com>")
	h.expect("503 ")
	h.send("QUIT")
	h.expect("221 ")
	<-h.done
	require.Empty(t, h.mail.ingested)
}

func TestServeConnRejectsMalformedMailFrom(t *testing.T) {
	h := newSessionHarness(t)

	h.expect("220 ")
	h.send("HELO client.example.com")
	h.expect("250 ")
	h.send("MAIL FROM:notanaddress")
	h.expect("501 ")
	h.send("QUIT")
	h.expect("221 ")
	<-h.done
}

func TestServeConnRsetClearsSession(t *testing.T) {
	h := newSessionHarness(t)

	h.expect("220 ")
	h.send("HELO client.example.com")
	h.expect("250 ")
	h.send("MAIL FROM:<b@example.com>")
	h.expect("250 ")
	h.send("RSET")
	h.expect("250 ")
	h.send("RCPT TO:<a@example.com>")
	h.expect("503 ")
	h.send("QUIT")
	h.expect("221 ")
	<-h.done
}

func TestServeConnUnknownCommandReturns502(t *testing.T) {
	h := newSessionHarness(t)

	h.expect("220 ")
	h.send("BOGUS")
	h.expect("502 ")
	h.send("QUIT")
	h.expect("221 ")
	<-h.done
}

func TestSplitCommandSeparatesVerbAndArgument(t *testing.T) {
	cmd, arg := splitCommand("MAIL FROM:<a@b.com>")
	require.Equal(t, "MAIL", cmd)
	require.Equal(t, "FROM:<a@b.com>", arg)

	cmd, arg = splitCommand("QUIT")
	require.Equal(t, "QUIT", cmd)
	require.Empty(t, arg)
}

func TestParseAddrArgExtractsBracketedAddress(t *testing.T) {
	require.Equal(t, "a@b.com", parseAddrArg("FROM:<a@b.com>", "FROM:"))
	require.Equal(t, "a@b.com", parseAddrArg("TO:<a@b.com> SIZE=100", "TO:"))
	require.Empty(t, parseAddrArg("FROM:<a@b.com>", "TO:"))
	require.Empty(t, parseAddrArg("FROM:noaddress", "FROM:"))
}
