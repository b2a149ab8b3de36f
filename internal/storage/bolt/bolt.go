package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/storage"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketSubscriptions = []byte("subscriptions")
	bucketNotices       = []byte("notices")
	bucketDeliveryLogs  = []byte("delivery_logs")
	bucketMeta          = []byte("meta")
)

// Store is a BoltDB-backed Store implementation.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSubscriptions, bucketNotices, bucketDeliveryLogs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSubscription stores or updates a subscription keyed by endpoint.
func (s *Store) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSubscriptions)
		if existing := bkt.Get([]byte(sub.Endpoint)); existing != nil {
			var prev model.Subscription
			if err := json.Unmarshal(existing, &prev); err == nil {
				if sub.ID == "" {
					sub.ID = prev.ID
				}
				if sub.CreatedAt.IsZero() {
					sub.CreatedAt = prev.CreatedAt
				}
			}
		}
		if sub.ID == "" {
			sub.ID = uuid.NewString()
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		sub.UpdatedAt = now
		payload, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(sub.Endpoint), payload)
	})
}

// GetSubscription fetches a subscription by endpoint.
func (s *Store) GetSubscription(ctx context.Context, endpoint string) (*model.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result *model.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSubscriptions).Get([]byte(endpoint))
		if v == nil {
			return storage.ErrNotFound
		}
		var sub model.Subscription
		if err := json.Unmarshal(v, &sub); err != nil {
			return err
		}
		result = &sub
		return nil
	})
	return result, err
}

// ListSubscriptions returns all subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	return s.listSubscriptions(ctx, func(*model.Subscription) bool { return true })
}

// ListActiveSubscriptions returns ACTIVE subscriptions only.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	return s.listSubscriptions(ctx, func(sub *model.Subscription) bool {
		status := strings.ToUpper(strings.TrimSpace(sub.Status))
		return status == "" || status == model.SubscriptionStatusActive
	})
}

func (s *Store) listSubscriptions(ctx context.Context, filter func(*model.Subscription) bool) ([]*model.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var subs []*model.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(_, v []byte) error {
			var sub model.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if filter(&sub) {
				copied := sub
				subs = append(subs, &copied)
			}
			return nil
		})
	})
	return subs, err
}

// DeleteSubscription removes one subscription.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSubscriptions)
		if bkt.Get([]byte(endpoint)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Delete([]byte(endpoint))
	})
}

// DeleteAllSubscriptions drops every subscription and reports how many there were.
func (s *Store) DeleteAllSubscriptions(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSubscriptions).Stats().KeyN
		if err := tx.DeleteBucket(bucketSubscriptions); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSubscriptions)
		return err
	})
	return n, err
}

// AppendNotice stores a history entry.
func (s *Store) AppendNotice(ctx context.Context, notice *model.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNotices)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		notice.ID = id
		payload, err := json.Marshal(notice)
		if err != nil {
			return err
		}
		return bkt.Put(itob(id), payload)
	})
}

// ListNoticesSince returns notices created at or after since, newest first.
func (s *Store) ListNoticesSince(ctx context.Context, since time.Time) ([]*model.Notice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var notices []*model.Notice
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotices).ForEach(func(_, v []byte) error {
			var n model.Notice
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if !n.CreatedAt.Before(since) {
				copied := n
				notices = append(notices, &copied)
			}
			return nil
		})
	})
	sort.SliceStable(notices, func(i, j int) bool {
		return notices[i].CreatedAt.After(notices[j].CreatedAt)
	})
	return notices, err
}

// PruneNotices deletes notices created before the cutoff.
func (s *Store) PruneNotices(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, bucketNotices, before, func(v []byte) (time.Time, error) {
		var n model.Notice
		err := json.Unmarshal(v, &n)
		return n.CreatedAt, err
	})
}

// AppendDeliveryLog stores a push log entry.
func (s *Store) AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDeliveryLogs)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		log.ID = id
		payload, err := json.Marshal(log)
		if err != nil {
			return err
		}
		return bkt.Put(itob(id), payload)
	})
}

// ListDeliveryLogs returns all delivery logs.
func (s *Store) ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var logs []*model.DeliveryLog
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryLogs).ForEach(func(_, v []byte) error {
			var log model.DeliveryLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			copied := log
			logs = append(logs, &copied)
			return nil
		})
	})
	return logs, err
}

// PruneDeliveryLogs deletes logs created before the cutoff.
func (s *Store) PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, bucketDeliveryLogs, before, func(v []byte) (time.Time, error) {
		var l model.DeliveryLog
		err := json.Unmarshal(v, &l)
		return l.CreatedAt, err
	})
}

func (s *Store) prune(ctx context.Context, bucket []byte, before time.Time, createdAt func([]byte) (time.Time, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucket)
		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			ts, err := createdAt(v)
			if err != nil {
				return err
			}
			if ts.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// GetMeta reads a small string value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		value = string(v)
		return nil
	})
	return value, err
}

// PutMeta writes a small string value.
func (s *Store) PutMeta(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), []byte(value))
	})
}

func itob(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
