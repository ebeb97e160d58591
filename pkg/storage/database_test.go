package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBook(t *testing.T) *AddressBook {
	t.Helper()
	b, err := NewMemoryAddressBook()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestContactUpsert(t *testing.T) {
	b := testBook(t)

	c := &Contact{PubKey: "key-a", Name: "Alice", AddedAt: 100, LastSeen: 100}
	require.NoError(t, b.SaveContact(c))

	// Saving the same key again updates rather than duplicating
	c.Name = "Alice Cooper"
	c.LastSeen = 200
	require.NoError(t, b.SaveContact(c))

	got, err := b.GetContact("key-a")
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", got.Name)
	assert.EqualValues(t, 200, got.LastSeen)

	all, err := b.ListContacts()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestContactNotFound(t *testing.T) {
	b := testBook(t)

	_, err := b.GetContact("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteContact(t *testing.T) {
	b := testBook(t)

	require.NoError(t, b.SaveContact(&Contact{PubKey: "key-b", Name: "Bob", AddedAt: 1}))
	require.NoError(t, b.DeleteContact("key-b"))

	_, err := b.GetContact("key-b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannelUpsert(t *testing.T) {
	b := testBook(t)

	ch := &Channel{ID: "ch-1", Name: "general", Creator: "key-a", CreatedAt: 50}
	require.NoError(t, b.SaveChannel(ch))

	ch.About = "everything else"
	require.NoError(t, b.SaveChannel(ch))

	got, err := b.GetChannel("ch-1")
	require.NoError(t, err)
	assert.Equal(t, "general", got.Name)
	assert.Equal(t, "everything else", got.About)
	// Creator is immutable on conflict
	assert.Equal(t, "key-a", got.Creator)

	all, err := b.ListChannels()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListChannelsOrdered(t *testing.T) {
	b := testBook(t)

	require.NoError(t, b.SaveChannel(&Channel{ID: "later", CreatedAt: 200}))
	require.NoError(t, b.SaveChannel(&Channel{ID: "earlier", CreatedAt: 100}))

	all, err := b.ListChannels()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "earlier", all[0].ID)
	assert.Equal(t, "later", all[1].ID)
}
