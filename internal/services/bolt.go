package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the transcript and settings stores on a BoltDB file. The transcript keeps messages in
// append order under big-endian sequence keys; settings live in their own bucket, one key per preference.
type BoltDB struct {
	db *bolt.DB
}

var (
	transcriptBucket = []byte("transcript")
	settingsBucket   = []byte("settings")

	streamingKey = []byte("streaming")
	endpointKey  = []byte("endpoint")
	themeKey     = []byte("theme")
)

// NewBoltDB opens the database at path, creating the file with 0600 permissions and the required buckets
// when they don't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(transcriptBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// Append stores message after every message already in the transcript.
func (b BoltDB) Append(_ context.Context, message models.Message) error {
	if !message.Role.Valid() {
		return fmt.Errorf("invalid role %q", message.Role)
	}

	v, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transcriptBucket)
		if b == nil {
			return errors.New("transcript bucket is missing")
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		return b.Put(key, v)
	})
}

// All returns the transcript in append order.
func (b BoltDB) All(_ context.Context) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(transcriptBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var message models.Message
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

// Clear removes every message of the transcript. Sequence numbers restart from one.
func (b BoltDB) Clear(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(transcriptBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete transcript: %w", err)
		}
		_, err := tx.CreateBucket(transcriptBucket)
		return err
	})
}

// Settings returns the saved preferences, falling back to models.DefaultSettings for anything never saved.
func (b BoltDB) Settings(_ context.Context) (models.Settings, error) {
	s := models.DefaultSettings()
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if b == nil {
			return nil
		}

		if v := b.Get(streamingKey); v != nil {
			streaming, err := strconv.ParseBool(string(v))
			if err != nil {
				return fmt.Errorf("failed to parse streaming flag: %w", err)
			}
			s.Streaming = streaming
		}
		if v := b.Get(endpointKey); v != nil {
			s.Endpoint = string(v)
		}
		if v := b.Get(themeKey); v != nil {
			theme, err := models.ParseTheme(string(v))
			if err != nil {
				return err
			}
			s.Theme = theme
		}
		return nil
	})
	if err != nil {
		return models.Settings{}, err
	}
	return s, nil
}

// SaveSettings replaces the saved preferences. An empty endpoint removes the override.
func (b BoltDB) SaveSettings(_ context.Context, s models.Settings) error {
	if _, err := models.ParseTheme(string(s.Theme)); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if b == nil {
			return errors.New("settings bucket is missing")
		}

		if err := b.Put(streamingKey, []byte(strconv.FormatBool(s.Streaming))); err != nil {
			return err
		}
		if s.Endpoint == "" {
			if err := b.Delete(endpointKey); err != nil {
				return err
			}
		} else if err := b.Put(endpointKey, []byte(s.Endpoint)); err != nil {
			return err
		}
		theme := s.Theme
		if theme == "" {
			theme = models.ThemeLight
		}
		return b.Put(themeKey, []byte(theme))
	})
}
