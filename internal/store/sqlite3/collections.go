package sqlite3

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

var defaultHierarchy = []model.Collection{
	{CollectionID: "1", ParentID: "0", DisplayName: "Inbox", Class: model.ClassEmail},
	{CollectionID: "2", ParentID: "0", DisplayName: "Drafts", Class: model.ClassEmail},
	{CollectionID: "3", ParentID: "0", DisplayName: "Deleted Items", Class: model.ClassEmail},
	{CollectionID: "4", ParentID: "0", DisplayName: "Sent Items", Class: model.ClassEmail},
	{CollectionID: "5", ParentID: "0", DisplayName: "Outbox", Class: model.ClassEmail},
	{CollectionID: "6", ParentID: "0", DisplayName: "Calendar", Class: model.ClassCalendar},
	{CollectionID: "7", ParentID: "0", DisplayName: "Contacts", Class: model.ClassContacts},
	{CollectionID: "8", ParentID: "0", DisplayName: "Notes", Class: model.ClassNotes},
	{CollectionID: "9", ParentID: "0", DisplayName: "Journal", Class: model.ClassNotes},
	{CollectionID: "10", ParentID: "0", DisplayName: "Tasks", Class: model.ClassTasks},
}

func (d *DB) EnsureDefaultHierarchy(ctx context.Context, userEmail string) error {
	for _, c := range defaultHierarchy {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO excore_collections (user_email, collection_id, parent_id, display_name, class)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_email, collection_id) DO NOTHING`,
			userEmail, c.CollectionID, c.ParentID, c.DisplayName, string(c.Class))
		if err != nil {
			return fmt.Errorf("sqlite3: ensure hierarchy: %w", err)
		}
	}
	return nil
}

func (d *DB) ListCollections(ctx context.Context, userEmail string) ([]model.Collection, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_email, collection_id, parent_id, display_name, class
		FROM excore_collections WHERE user_email = ? ORDER BY collection_id`, userEmail)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: list collections: %w", err)
	}
	defer rows.Close()

	var out []model.Collection
	for rows.Next() {
		var c model.Collection
		var class string
		if err := rows.Scan(&c.UserEmail, &c.CollectionID, &c.ParentID, &c.DisplayName, &class); err != nil {
			return nil, err
		}
		c.Class = model.CollectionClass(class)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) GetCollection(ctx context.Context, userEmail, collectionID string) (*model.Collection, error) {
	var c model.Collection
	var class string
	err := d.db.QueryRowContext(ctx, `
		SELECT user_email, collection_id, parent_id, display_name, class
		FROM excore_collections WHERE user_email = ? AND collection_id = ?`,
		userEmail, collectionID,
	).Scan(&c.UserEmail, &c.CollectionID, &c.ParentID, &c.DisplayName, &class)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get collection: %w", err)
	}
	c.Class = model.CollectionClass(class)
	return &c, nil
}
