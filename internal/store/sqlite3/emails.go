package sqlite3

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

func (d *DB) ListEmails(ctx context.Context, userEmail, collectionID string, sinceID int64, limit int) ([]model.Email, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM excore_emails
		WHERE user_email = ? AND collection_id = ? AND id > ? AND deleted = 0
		ORDER BY id ASC
		LIMIT ?`,
		userEmail, collectionID, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: list emails: %w", err)
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

func (d *DB) FetchEmail(ctx context.Context, userEmail string, emailID int64) (*model.Email, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+`
		FROM excore_emails WHERE user_email = ? AND id = ?`,
		userEmail, emailID)
	e, err := scanEmailRow(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: fetch email: %w", err)
	}
	return e, nil
}

func (d *DB) MarkRead(ctx context.Context, userEmail string, emailID int64, read bool) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE excore_emails SET is_read = ? WHERE user_email = ? AND id = ?`,
		read, userEmail, emailID)
	if err != nil {
		return fmt.Errorf("sqlite3: mark read: %w", err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, userEmail string, emailID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE excore_emails SET deleted = 1 WHERE user_email = ? AND id = ?`,
		userEmail, emailID)
	if err != nil {
		return fmt.Errorf("sqlite3: delete email: %w", err)
	}
	return nil
}

func (d *DB) Ingest(ctx context.Context, e *model.Email) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO excore_emails
			(user_email, collection_id, subject, sender, recipients, date_received,
			 is_read, message_class, raw_mime, body_plain, body_html, deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, 0)`,
		e.UserEmail, e.CollectionID, e.Subject, e.From, e.To, e.DateReceived,
		e.MessageClass, e.RawMIME, e.BodyPlain, e.BodyHTML,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite3: ingest email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite3: ingest email: last insert id: %w", err)
	}
	return id, nil
}

func (d *DB) HighestEmailID(ctx context.Context, userEmail, collectionID string) (int64, error) {
	var id sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM excore_emails WHERE user_email = ? AND collection_id = ?`,
		userEmail, collectionID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite3: highest email id: %w", err)
	}
	return id.Int64, nil
}
