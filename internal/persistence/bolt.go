package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"learning-agent/internal/domain"
	"learning-agent/internal/logger"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	conversationsBucket = []byte("conversations")
	metaBucket          = []byte("meta")
	activeKey           = []byte("active")
)

// Ensure BoltAdapter implements Adapter
var _ Adapter = (*BoltAdapter)(nil)

// BoltAdapter keeps conversations in a single bbolt file.
// Every write is one bbolt transaction, so it is applied entirely or not at all.
type BoltAdapter struct {
	mu sync.Mutex
	db *bolt.DB
}

// OpenBolt opens (or creates) the store file at path
func OpenBolt(path string) (*BoltAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating store directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(conversationsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error creating buckets: %w", err)
	}

	logger.Log.WithField("path", path).Debug("Opened conversation store")
	return &BoltAdapter{db: db}, nil
}

// Load reads every conversation and the active pointer.
// Malformed entries are skipped instead of failing the whole load.
func (b *BoltAdapter) Load() (*State, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	state := NewState()
	err = db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(conversationsBucket); bucket != nil {
			if err := bucket.ForEach(func(k, v []byte) error {
				var rec record
				if len(v) == 0 {
					return nil
				}
				if err := json.Unmarshal(v, &rec); err != nil {
					logger.Log.WithFields(logrus.Fields{
						"conversation_id": string(k),
						"error":           err.Error(),
					}).Warn("Skipping malformed conversation record")
					return nil
				}
				id := string(k)
				state.Conversations[id] = rec.conversation(id)
				return nil
			}); err != nil {
				return err
			}
		}
		if bucket := tx.Bucket(metaBucket); bucket != nil {
			state.ActiveID = string(bucket.Get(activeKey))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error loading conversations: %w", err)
	}

	logger.Log.WithField("conversations", len(state.Conversations)).Debug("Loaded conversation store")
	return state, nil
}

// Save replaces the stored snapshot with state
func (b *BoltAdapter) Save(state *State) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if state == nil {
		state = NewState()
	}

	return db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(conversationsBucket) != nil {
			if err := tx.DeleteBucket(conversationsBucket); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket(conversationsBucket)
		if err != nil {
			return err
		}
		for id, conv := range state.Conversations {
			enc, err := json.Marshal(toRecord(conv))
			if err != nil {
				return fmt.Errorf("error encoding conversation %s: %w", id, err)
			}
			if err := bucket.Put([]byte(id), enc); err != nil {
				return err
			}
		}
		return putActive(tx, state.ActiveID)
	})
}

// SaveConversation writes a single conversation
func (b *BoltAdapter) SaveConversation(conv domain.Conversation) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	enc, err := json.Marshal(toRecord(conv))
	if err != nil {
		return fmt.Errorf("error encoding conversation %s: %w", conv.ID, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(conversationsBucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(conv.ID), enc)
	})
	if err != nil {
		return fmt.Errorf("error saving conversation %s: %w", conv.ID, err)
	}
	return nil
}

// DeleteConversation removes a conversation; missing ids are ignored
func (b *BoltAdapter) DeleteConversation(id string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(conversationsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("error deleting conversation %s: %w", id, err)
	}
	return nil
}

// SaveActive records which conversation is active; an empty id clears it
func (b *BoltAdapter) SaveActive(id string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bolt.Tx) error { return putActive(tx, id) }); err != nil {
		return fmt.Errorf("error saving active conversation: %w", err)
	}
	return nil
}

// Close releases the file lock
func (b *BoltAdapter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BoltAdapter) handle() (*bolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, ErrClosed
	}
	return b.db, nil
}

func putActive(tx *bolt.Tx, id string) error {
	bucket, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	if id == "" {
		return bucket.Delete(activeKey)
	}
	return bucket.Put(activeKey, []byte(id))
}
