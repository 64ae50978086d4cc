// Package bbolt implements the store interface on a single-file bbolt
// database. This is the default durable backend: the cached challenge
// script survives restarts without any external service.
//
// Every value lives in one top-level bucket as a JSON envelope carrying
// the payload and its absolute expiry time. The cleanup pass decodes only
// envelopes, so a sweep stays cheap even when payloads are large.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipsleuth/ipsleuth/lib/store"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("ipsleuth")

type envelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Data      []byte    `json:"data"`
}

// Store implements store.Interface backed by bbolt. Not suitable for
// multiple processes sharing one cache; use the valkey backend for that.
type Store struct {
	bdb *bbolt.DB
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil || bkt.Get([]byte(key)) == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		return bkt.Delete([]byte(key))
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		raw := bkt.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("%w: %w", store.ErrCantDecode, err)
		}

		if time.Now().After(env.ExpiresAt) {
			// Leave removal to the cleanup thread, a View tx can't delete.
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		result = env.Data
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	raw, err := json.Marshal(envelope{
		ExpiresAt: time.Now().Add(expiry),
		Data:      value,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrCantEncode, err)
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("%w: %w (create bucket)", store.ErrCantEncode, err)
		}

		return bkt.Put([]byte(key), raw)
	})
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt == nil {
			return nil
		}

		cur := bkt.Cursor()
		for key, raw := cur.First(); key != nil; key, raw = cur.Next() {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("%w for key %q: %w", store.ErrCantDecode, string(key), err)
			}

			if now.After(env.ExpiresAt) {
				if err := cur.Delete(); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
