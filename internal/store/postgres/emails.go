package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

const emailColumns = `id, user_email, collection_id, subject, sender, recipients,
		date_received, is_read, message_class, raw_mime, body_plain, body_html, deleted`

func scanEmailRow(row *sql.Row) (*model.Email, error) {
	var e model.Email
	err := row.Scan(&e.ID, &e.UserEmail, &e.CollectionID, &e.Subject, &e.From, &e.To,
		&e.DateReceived, &e.IsRead, &e.MessageClass, &e.RawMIME, &e.BodyPlain, &e.BodyHTML, &e.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmails returns up to limit emails in collectionID with id > sinceID,
// ordered oldest-first, the order the sync cursor advances in.
func (d *DB) ListEmails(ctx context.Context, userEmail, collectionID string, sinceID int64, limit int) ([]model.Email, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM excore_emails
		WHERE user_email = $1 AND collection_id = $2 AND id > $3 AND deleted = FALSE
		ORDER BY id ASC
		LIMIT $4`,
		userEmail, collectionID, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list emails: %w", err)
	}
	defer rows.Close()

	var out []model.Email
	for rows.Next() {
		var e model.Email
		if err := rows.Scan(&e.ID, &e.UserEmail, &e.CollectionID, &e.Subject, &e.From, &e.To,
			&e.DateReceived, &e.IsRead, &e.MessageClass, &e.RawMIME, &e.BodyPlain, &e.BodyHTML, &e.Deleted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FetchEmail looks an email up by its globally-unique id.
func (d *DB) FetchEmail(ctx context.Context, userEmail string, emailID int64) (*model.Email, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+`
		FROM excore_emails WHERE user_email = $1 AND id = $2`,
		userEmail, emailID)
	e, err := scanEmailRow(row)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch email: %w", err)
	}
	return e, nil
}

func (d *DB) MarkRead(ctx context.Context, userEmail string, emailID int64, read bool) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE excore_emails SET is_read = $1 WHERE user_email = $2 AND id = $3`,
		read, userEmail, emailID)
	if err != nil {
		return fmt.Errorf("postgres: mark read: %w", err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, userEmail string, emailID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE excore_emails SET deleted = TRUE WHERE user_email = $1 AND id = $2`,
		userEmail, emailID)
	if err != nil {
		return fmt.Errorf("postgres: delete email: %w", err)
	}
	return nil
}

// Ingest inserts a message delivered by the SMTP front end and returns its
// assigned id. Callers publish a ChangeEvent after this returns, per
// spec.md §4.7 — the store itself does not know about the change bus.
func (d *DB) Ingest(ctx context.Context, e *model.Email) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO excore_emails
			(user_email, collection_id, subject, sender, recipients, date_received,
			 is_read, message_class, raw_mime, body_plain, body_html, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9, $10, FALSE)
		RETURNING id`,
		e.UserEmail, e.CollectionID, e.Subject, e.From, e.To, e.DateReceived,
		e.MessageClass, e.RawMIME, e.BodyPlain, e.BodyHTML,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: ingest email: %w", err)
	}
	return id, nil
}

// HighestEmailID reports the largest assigned id in collectionID (0 when
// the collection is empty). A fresh sync state starts with
// MaxPendingEmailID 0 and does not consult it.
func (d *DB) HighestEmailID(ctx context.Context, userEmail, collectionID string) (int64, error) {
	var id sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM excore_emails WHERE user_email = $1 AND collection_id = $2`,
		userEmail, collectionID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: highest email id: %w", err)
	}
	return id.Int64, nil
}
