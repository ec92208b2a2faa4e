package flagstore

import "time"

// Flags holds the three feature-namespaced flag sets, each keyed by
// conversation id.
type Flags struct {
	Favorites map[string]bool
	Pins      map[string]bool
	Archived  map[string]bool
}

// LoadAll reads every flag set. Called once at startup.
func (db *DB) LoadAll() (*Flags, error) {
	f := &Flags{
		Favorites: make(map[string]bool),
		Pins:      make(map[string]bool),
		Archived:  make(map[string]bool),
	}
	for table, dest := range map[string]map[string]bool{
		"favorites": f.Favorites,
		"pins":      f.Pins,
		"archived":  f.Archived,
	} {
		if err := db.loadSet(table, dest); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (db *DB) loadSet(table string, dest map[string]bool) error {
	rows, err := db.Query(`SELECT conversation_id FROM ` + table)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		dest[id] = true
	}
	return rows.Err()
}

// SetFavorite adds or removes a conversation from the favorites set.
func (db *DB) SetFavorite(conversationID string, v bool) error {
	return db.setFlag("favorites", conversationID, v)
}

// SetPinned adds or removes a conversation from the pins set.
func (db *DB) SetPinned(conversationID string, v bool) error {
	return db.setFlag("pins", conversationID, v)
}

// SetArchived adds or removes a conversation from the archived set.
func (db *DB) SetArchived(conversationID string, v bool) error {
	return db.setFlag("archived", conversationID, v)
}

func (db *DB) setFlag(table, conversationID string, v bool) error {
	if !v {
		_, err := db.Exec(`DELETE FROM `+table+` WHERE conversation_id = ?`, conversationID)
		return err
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO `+table+` (conversation_id, updated_at)
		VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, now)
	return err
}
