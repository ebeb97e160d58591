package storage

import "database/sql"

// SaveChannel adds or updates a channel
func (b *AddressBook) SaveChannel(channel *Channel) error {
	query := `
		INSERT INTO channels (channel_id, name, about, creator, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			name  = excluded.name,
			about = excluded.about
	`
	_, err := b.db.Exec(query,
		channel.ID, channel.Name, channel.About, channel.Creator, channel.CreatedAt)
	return err
}

// GetChannel retrieves a channel by id
func (b *AddressBook) GetChannel(id string) (*Channel, error) {
	row := b.db.QueryRow(`
		SELECT channel_id, name, about, creator, created_at
		FROM channels WHERE channel_id = ?`, id)

	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.About, &ch.Creator, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns all known channels ordered by creation time
func (b *AddressBook) ListChannels() ([]*Channel, error) {
	rows, err := b.db.Query(`
		SELECT channel_id, name, about, creator, created_at
		FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.About, &ch.Creator, &ch.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// DeleteChannel removes a channel
func (b *AddressBook) DeleteChannel(id string) error {
	_, err := b.db.Exec(`DELETE FROM channels WHERE channel_id = ?`, id)
	return err
}
