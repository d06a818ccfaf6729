// Package changebus notifies waiting Ping requests of new mailbox
// activity. It embeds a nats-server instance and talks to it over a loopback
// nats.go connection, the same in-process broker shape the teacher's
// syncapi consumers assume a jetstream.NATS instance provides — but here the
// change set is small and short-lived, so core NATS pub/sub is used instead
// of a durable JetStream stream.
package changebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/exchangecore/excore/internal/store/model"
)

// Bus publishes and subscribes to ChangeEvents, per spec.md §4.7
// subscribe_changes/publish_change.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// Start boots an embedded, loopback-only nats-server and connects to it.
func Start() (*Bus, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("changebus: new server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("changebus: server did not become ready")
	}
	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("changebus: connect: %w", err)
	}
	return &Bus{srv: srv, conn: conn}, nil
}

// Close drains the connection and shuts the embedded server down.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		log.WithError(err).Warn("changebus: drain failed")
	}
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}

func subject(userEmail, collectionID string) string {
	return "excore.changes." + userEmail + "." + collectionID
}

// Publish announces that collectionID's contents changed for userEmail. It
// is fire-and-forget: a missed notification only delays the next Ping
// cycle's wake-up, it never loses mail, since ListEmails always re-reads
// current state from the store.
func (b *Bus) Publish(ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Error("changebus: marshal change event")
		return
	}
	if err := b.conn.Publish(subject(ev.UserEmail, ev.CollectionID), data); err != nil {
		sentry.CaptureException(err)
		log.WithFields(log.Fields{
			"user_email":    ev.UserEmail,
			"collection_id": ev.CollectionID,
		}).WithError(err).Error("changebus: publish failed")
	}
}

// Subscribe blocks until either a change arrives on any of collectionIDs for
// userEmail, or ctx is cancelled (the Ping heartbeat elapsing). It returns
// the collection ids that changed, or nil if ctx was the reason it returned.
func (b *Bus) Subscribe(ctx context.Context, userEmail string, collectionIDs []string) ([]string, error) {
	if len(collectionIDs) == 0 {
		<-ctx.Done()
		return nil, nil
	}

	msgs := make(chan *nats.Msg, len(collectionIDs))
	subs := make([]*nats.Subscription, 0, len(collectionIDs))
	for _, cid := range collectionIDs {
		sub, err := b.conn.ChanSubscribe(subject(userEmail, cid), msgs)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("changebus: subscribe: %w", err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	var changed []string
	seen := make(map[string]struct{})

	select {
	case msg := <-msgs:
		collectChanged(msg, seen, &changed)
	case <-ctx.Done():
		return nil, nil
	}

	// Drain any further changes that arrived in the same instant without
	// blocking, so a single Ping wake-up reports every collection that
	// changed rather than just the first.
	for {
		select {
		case msg := <-msgs:
			collectChanged(msg, seen, &changed)
		default:
			return changed, nil
		}
	}
}

func collectChanged(msg *nats.Msg, seen map[string]struct{}, changed *[]string) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Error("changebus: unmarshal change event")
		return
	}
	if _, ok := seen[ev.CollectionID]; ok {
		return
	}
	seen[ev.CollectionID] = struct{}{}
	*changed = append(*changed, ev.CollectionID)
}
