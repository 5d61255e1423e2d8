package cib

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nodequorum/controld/pkg/ctlerr"
)

var section = []byte("cib")

// BoltClient is a reference/test Client backed by bbolt, adapted from the
// teacher's bucket-per-entity BoltStore: here the whole document tree
// lives in one bucket, keyed by scoped path, since the CIB itself has no
// entity boundaries for controld to partition on.
type BoltClient struct {
	db   *bbolt.DB
	mu   sync.RWMutex
	subs map[string][]chan Notification
}

// NewBoltClient opens (creating if needed) a bbolt-backed CIB store at path.
func NewBoltClient(path string) (*BoltClient, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, ctlerr.New(ctlerr.Io, "cib.NewBoltClient", "opening store", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(section)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, ctlerr.New(ctlerr.Io, "cib.NewBoltClient", "creating bucket", err)
	}

	return &BoltClient{db: db, subs: make(map[string][]chan Notification)}, nil
}

func (c *BoltClient) Query(_ context.Context, path string) ([]byte, error) {
	var doc []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(section).Get([]byte(path))
		if v != nil {
			doc = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, ctlerr.New(ctlerr.Io, "cib.Query", path, err)
	}
	if doc == nil {
		return nil, ctlerr.New(ctlerr.Unavailable, "cib.Query", "no such path: "+path, nil)
	}
	return doc, nil
}

func (c *BoltClient) Update(_ context.Context, path string, doc []byte) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(section).Put([]byte(path), doc)
	})
	if err != nil {
		return ctlerr.New(ctlerr.Io, "cib.Update", path, err)
	}
	c.notify(Notification{Op: ChangeUpdate, Path: path, Doc: doc})
	return nil
}

func (c *BoltClient) Remove(_ context.Context, path string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(section).Delete([]byte(path))
	})
	if err != nil {
		return ctlerr.New(ctlerr.Io, "cib.Remove", path, err)
	}
	c.notify(Notification{Op: ChangeRemove, Path: path})
	return nil
}

// Subscribe registers interest in every path with the given prefix.
func (c *BoltClient) Subscribe(pathPrefix string) <-chan Notification {
	ch := make(chan Notification, 32)
	c.mu.Lock()
	c.subs[pathPrefix] = append(c.subs[pathPrefix], ch)
	c.mu.Unlock()
	return ch
}

func (c *BoltClient) notify(n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for prefix, chans := range c.subs {
		if !strings.HasPrefix(n.Path, prefix) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- n:
			default:
			}
		}
	}
}

func (c *BoltClient) Close() error {
	c.mu.Lock()
	for _, chans := range c.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	c.subs = nil
	c.mu.Unlock()
	return c.db.Close()
}
