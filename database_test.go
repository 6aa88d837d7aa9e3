package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseRoundTrip(t *testing.T) {
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.close()

	messages, err := db.getMessages()
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)

	first, second := uuid.New(), uuid.New()
	text := "on frequency"

	db.now = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, db.insertMessage(&text, first))
	db.now = func() time.Time { return time.Unix(1700000060, 0) }
	require.NoError(t, db.insertMessage(nil, second))

	messages, err = db.getMessages()
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, second, messages[0].Audio)
	assert.Nil(t, messages[0].Text)
	assert.Equal(t, int64(1700000060), messages[0].Date.Unix())

	assert.Equal(t, first, messages[1].Audio)
	require.NotNil(t, messages[1].Text)
	assert.Equal(t, text, *messages[1].Text)
}

func TestDatabaseRejectsDuplicateAudio(t *testing.T) {
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.close()

	id := uuid.New()
	require.NoError(t, db.insertMessage(nil, id))
	assert.Error(t, db.insertMessage(nil, id))
}

func TestOpenDatabaseBadPath(t *testing.T) {
	_, err := openDatabase("/nonexistent-dir/for/sure/data.db")
	assert.Error(t, err)
}
