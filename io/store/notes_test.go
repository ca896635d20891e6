package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerNotes {
	t.Helper()
	notes, err := New(filepath.Join(t.TempDir(), "notes"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })
	return notes
}

func TestNotes_SaveAndGet(t *testing.T) {
	notes := newTestStore(t)

	note := Note{
		ID:        "note-1",
		Title:     "standup",
		Body:      "talked about the release",
		Source:    "transcription",
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, notes.Save(note))

	got, err := notes.Get("note-1")
	require.NoError(t, err)
	require.Equal(t, note, got)
}

func TestNotes_GetMissing(t *testing.T) {
	notes := newTestStore(t)

	_, err := notes.Get("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotes_SaveRejectsEmptyID(t *testing.T) {
	notes := newTestStore(t)
	require.Error(t, notes.Save(Note{Body: "no id"}))
}

func TestNotes_ListAndDelete(t *testing.T) {
	notes := newTestStore(t)

	require.NoError(t, notes.Save(Note{ID: "a", Body: "first"}))
	require.NoError(t, notes.Save(Note{ID: "b", Body: "second"}))

	all, err := notes.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, notes.Delete("a"))
	require.NoError(t, notes.Delete("a"), "deleting a missing id is a no-op")

	all, err = notes.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "b", all[0].ID)
}

func TestNotes_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notes")

	notes, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, notes.Save(Note{ID: "keep", Body: "persisted"}))
	require.NoError(t, notes.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("keep")
	require.NoError(t, err)
	require.Equal(t, "persisted", got.Body)
}
