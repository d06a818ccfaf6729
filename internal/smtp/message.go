package smtp

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/exchangecore/excore/internal/store/model"
)

// inboxCollectionID is the well-known Inbox folder every mailbox seeds on
// first FolderSync (see store/postgres/collections.go's defaultHierarchy).
const inboxCollectionID = "1"

// maxPartSize bounds how much of a single text/plain or text/html part we
// buffer; larger parts are truncated rather than held in memory whole.
const maxPartSize = 512 * 1024

// BuildEmail parses raw as an RFC 5322 message addressed to rcpt and
// extracts the fields the Sync handler serves, grounded on the reference
// corpus's mail.CreateReader/NextPart walk (go-message/mail), tolerating
// unknown-charset warnings as non-fatal the same way that walk does.
func BuildEmail(rcpt string, raw []byte) (*model.Email, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}

	e := &model.Email{
		UserEmail:    rcpt,
		CollectionID: inboxCollectionID,
		RawMIME:      raw,
		MessageClass: model.MessageClassNote,
		DateReceived: time.Now().UTC(),
	}

	if r != nil {
		if subj, err := r.Header.Subject(); err == nil {
			e.Subject = subj
		}
		if date, err := r.Header.Date(); err == nil && !date.IsZero() {
			e.DateReceived = date.UTC()
		}
		if from, err := r.Header.AddressList("From"); err == nil && len(from) > 0 {
			e.From = formatAddress(from[0])
		}
		if to, err := r.Header.AddressList("To"); err == nil && len(to) > 0 {
			addrs := make([]string, len(to))
			for i, a := range to {
				addrs[i] = formatAddress(a)
			}
			e.To = strings.Join(addrs, ", ")
		}

		for {
			part, perr := r.NextPart()
			if perr == io.EOF {
				break
			}
			if perr != nil && !message.IsUnknownCharset(perr) {
				break
			}
			if part == nil {
				continue
			}
			inline, ok := part.Header.(*mail.InlineHeader)
			if !ok {
				continue
			}
			contentType, _, _ := inline.ContentType()
			switch contentType {
			case "text/plain":
				if e.BodyPlain == "" {
					e.BodyPlain = readTruncated(part.Body)
				}
			case "text/html":
				if e.BodyHTML == "" {
					e.BodyHTML = readTruncated(part.Body)
				}
			}
		}
	}

	if e.Subject == "" {
		e.Subject = "(no subject)"
	}
	return e, nil
}

func readTruncated(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxPartSize))
	if err != nil {
		return ""
	}
	return string(body)
}

func formatAddress(a *mail.Address) string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}

func changeEventFor(rcpt string) model.ChangeEvent {
	return model.ChangeEvent{UserEmail: rcpt, CollectionID: inboxCollectionID}
}
