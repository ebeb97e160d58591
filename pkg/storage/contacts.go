package storage

import "database/sql"

// SaveContact adds or updates a contact
func (b *AddressBook) SaveContact(contact *Contact) error {
	query := `
		INSERT INTO contacts (pubkey, name, about, picture, added_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			name      = excluded.name,
			about     = excluded.about,
			picture   = excluded.picture,
			last_seen = excluded.last_seen
	`
	_, err := b.db.Exec(query,
		contact.PubKey, contact.Name, contact.About, contact.Picture,
		contact.AddedAt, contact.LastSeen)
	return err
}

// GetContact retrieves a contact by public key
func (b *AddressBook) GetContact(pubkey string) (*Contact, error) {
	row := b.db.QueryRow(`
		SELECT pubkey, name, about, picture, added_at, last_seen
		FROM contacts WHERE pubkey = ?`, pubkey)

	var c Contact
	err := row.Scan(&c.PubKey, &c.Name, &c.About, &c.Picture, &c.AddedAt, &c.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by name
func (b *AddressBook) ListContacts() ([]*Contact, error) {
	rows, err := b.db.Query(`
		SELECT pubkey, name, about, picture, added_at, last_seen
		FROM contacts ORDER BY name, pubkey`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.PubKey, &c.Name, &c.About, &c.Picture, &c.AddedAt, &c.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact
func (b *AddressBook) DeleteContact(pubkey string) error {
	_, err := b.db.Exec(`DELETE FROM contacts WHERE pubkey = ?`, pubkey)
	return err
}
