// Package statecache persists the last known state of every peripheral so
// that values a device advertises rarely are available right after start-up.
package statecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/state"
	bolt "go.etcd.io/bbolt"
)

var bucketState = []byte("state")

// ErrNotFound is returned by Load when nothing is cached for an address.
var ErrNotFound = errors.New("not found")

// Cache is a bbolt-backed map from device address to its last field values.
type Cache struct {
	db     *bolt.DB
	logger *logrus.Logger
}

// Open opens or creates the cache database at path.
func Open(path string, logger *logrus.Logger) (*Cache, error) {
	if logger == nil {
		logger = logrus.New()
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save replaces the cached fields of address.
func (c *Cache) Save(address string, fields state.Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		return b.Put([]byte(device.NormalizeAddress(address)), data)
	})
}

// Load returns the cached fields of address.
func (c *Cache) Load(address string) (state.Fields, error) {
	var fields state.Fields
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		data := b.Get([]byte(device.NormalizeAddress(address)))
		if data == nil {
			return fmt.Errorf("state of %s: %w", address, ErrNotFound)
		}
		return json.Unmarshal(data, &fields)
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// Addresses lists every cached address in order.
func (c *Cache) Addresses() ([]string, error) {
	var out []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

// Restore seeds store with the cached fields of its address. A missing
// entry is not an error.
func (c *Cache) Restore(store *state.Store) error {
	fields, err := c.Load(store.Address())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	store.Seed(fields)
	c.logger.WithFields(logrus.Fields{
		"address": store.Address(),
		"fields":  len(fields),
	}).Debug("Restored cached state")
	return nil
}

// StateChanged saves every snapshot; it makes the cache a state.Subscriber.
func (c *Cache) StateChanged(s state.Snapshot) {
	if err := c.Save(s.Address, s.Fields()); err != nil {
		c.logger.WithError(err).WithField("address", s.Address).Warn("Failed to cache state")
	}
}

var _ state.Subscriber = (*Cache)(nil)
