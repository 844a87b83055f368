package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB stores sessions with their transcripts, locally created assistants, and uploaded files in a bbolt
// database.
type BoltDB struct {
	db *bolt.DB
}

var (
	sessionsBucket   = []byte("sessions")
	assistantsBucket = []byte("assistants")
	filesBucket      = []byte("files")
	fileDataBucket   = []byte("file-data")
)

// NewBoltDB opens or creates the database at path and makes sure the top level buckets exist. The database
// file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, assistantsBucket, filesBucket, fileDataBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// AddSession stores a new session and creates its message bucket.
func (b BoltDB) AddSession(_ context.Context, session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(session.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		return tx.Bucket(sessionsBucket).Put([]byte(session.ID), v)
	})
}

// Session returns the session with the given ID, or models.ErrNotFound.
func (b BoltDB) Session(_ context.Context, id string) (models.Session, error) {
	var session models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return models.ErrNotFound
		}
		if err := json.Unmarshal(v, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		return nil
	})
	return session, err
}

// Messages returns the finalized messages of a session in the order they were appended.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}

		return mb.ForEach(func(_, v []byte) error {
			var message models.ChatMessage
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessages appends messages to a session. Keys are zero padded sequence numbers, so iteration order is
// append order.
func (b BoltDB) AddMessages(_ context.Context, sessionID string, messages ...models.ChatMessage) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
		}

		for _, message := range messages {
			seq, err := mb.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}

			v, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := mb.Put([]byte(fmt.Sprintf("%020d-%s", seq, message.ID)), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Assistants returns the stored assistants ordered by name.
func (b BoltDB) Assistants(_ context.Context) ([]models.Assistant, error) {
	var assistants []models.Assistant
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(assistantsBucket).ForEach(func(_, v []byte) error {
			var a models.Assistant
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("failed to unmarshal assistant: %w", err)
			}
			assistants = append(assistants, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return assistants, nil
}

// AddAssistant stores an assistant under its name. It returns models.ErrAssistantExists if the name is taken.
func (b BoltDB) AddAssistant(_ context.Context, assistant models.Assistant) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		ab := tx.Bucket(assistantsBucket)
		if ab.Get([]byte(assistant.Name)) != nil {
			return fmt.Errorf("%s: %w", assistant.Name, models.ErrAssistantExists)
		}

		v, err := json.Marshal(assistant)
		if err != nil {
			return fmt.Errorf("failed to marshal assistant: %w", err)
		}
		return ab.Put([]byte(assistant.Name), v)
	})
}

// Files returns the metadata of the uploaded files, newest first.
func (b BoltDB) Files(_ context.Context) ([]models.StoredFile, error) {
	var files []models.StoredFile
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			var f models.StoredFile
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("failed to unmarshal file: %w", err)
			}
			files = append(files, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(files)
	return files, nil
}

// AddFile stores an uploaded file. The file ID is prefixed with a sequence number so that files are listed in
// upload order; the stored metadata is returned.
func (b BoltDB) AddFile(_ context.Context, file models.StoredFile, data []byte) (models.StoredFile, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		fb := tx.Bucket(filesBucket)

		seq, err := fb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		file.ID = fmt.Sprintf("%020d-%s", seq, file.ID)
		file.Size = int64(len(data))

		v, err := json.Marshal(file)
		if err != nil {
			return fmt.Errorf("failed to marshal file: %w", err)
		}
		if err := fb.Put([]byte(file.ID), v); err != nil {
			return err
		}
		return tx.Bucket(fileDataBucket).Put([]byte(file.ID), data)
	})
	if err != nil {
		return models.StoredFile{}, err
	}
	return file, nil
}

// File returns the metadata and content of an uploaded file, or models.ErrNotFound.
func (b BoltDB) File(_ context.Context, id string) (models.StoredFile, []byte, error) {
	var (
		file models.StoredFile
		data []byte
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(filesBucket).Get([]byte(id))
		if v == nil {
			return models.ErrNotFound
		}
		if err := json.Unmarshal(v, &file); err != nil {
			return fmt.Errorf("failed to unmarshal file: %w", err)
		}
		// Bytes returned by Get are only valid inside the transaction.
		data = slices.Clone(tx.Bucket(fileDataBucket).Get([]byte(id)))
		return nil
	})
	return file, data, err
}
