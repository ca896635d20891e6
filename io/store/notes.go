// Package store persists note records in BadgerDB. The protocol core
// never touches it directly; consumers depend on the NoteStore
// interface and receive an implementation at wiring time.
package store

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a note id does not exist in the store.
var ErrNotFound = errors.New("note not found")

// Note is a stored note record.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Source    string    `json:"source"` // e.g. "transcription", "manual"
	CreatedAt time.Time `json:"createdAt"`
}

// NoteStore creates, reads and deletes note records.
type NoteStore interface {
	Save(note Note) error
	Get(id string) (Note, error)
	List() ([]Note, error)
	Delete(id string) error
	Close() error
}

// BadgerNotes is the BadgerDB-backed NoteStore.
type BadgerNotes struct {
	db *badger.DB
	mu sync.RWMutex
}

// New opens (or creates) the note database at path.
func New(path string) (*BadgerNotes, error) {
	if path == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, "create notes directory")
	}

	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open notes db")
	}
	return &BadgerNotes{db: db}, nil
}

// Save stores the note, overwriting any record with the same id.
func (n *BadgerNotes) Save(note Note) error {
	if note.ID == "" {
		return errors.New("note id is empty")
	}

	value, err := json.Marshal(note)
	if err != nil {
		return errors.Wrap(err, "marshal note")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(note.ID), value)
	})
}

// Get retrieves a note by id. Returns ErrNotFound if it does not exist.
func (n *BadgerNotes) Get(id string) (Note, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var note Note
	err := n.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &note)
		})
	})
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// List returns all stored notes.
func (n *BadgerNotes) List() ([]Note, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var notes []Note
	err := n.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var note Note
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &note)
			}); err != nil {
				return err
			}
			notes = append(notes, note)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// Delete removes a note. Deleting a missing id is a no-op.
func (n *BadgerNotes) Delete(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(id)); err != nil && !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Close closes the underlying database.
func (n *BadgerNotes) Close() error {
	return n.db.Close()
}
