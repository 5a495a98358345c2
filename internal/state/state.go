// Package state persists authorization codes in a bbolt database.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/authcore/internal/authcode"
	"github.com/alexjbarnes/authcore/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var codesBucket = []byte("authorization_codes")

// State wraps a bbolt database. It implements authcode.Backend.
type State struct {
	db *bolt.DB
}

var _ authcode.Backend = (*State)(nil)

// DefaultPath returns ~/.authcore/state.db, falling back to the working
// directory when the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".authcore", "state.db")
	}

	return filepath.Join(home, ".authcore", "state.db")
}

// LoadAt opens a state database at the given path, creating it and its
// buckets if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(codesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Insert stores a new authorization code.
func (s *State) Insert(_ context.Context, ac *models.AuthorizationCode) error {
	data, err := json.Marshal(ac)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(codesBucket).Put([]byte(ac.Code), data)
	})
}

// Redeem runs check and flips the used flag inside one read-write
// transaction. bbolt allows a single writer at a time, which makes the
// check-and-set atomic.
func (s *State) Redeem(_ context.Context, code string, check authcode.CheckFunc) (*models.AuthorizationCode, error) {
	var redeemed *models.AuthorizationCode

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)

		var ac *models.AuthorizationCode

		if v := b.Get([]byte(code)); v != nil {
			ac = &models.AuthorizationCode{}
			if err := json.Unmarshal(v, ac); err != nil {
				return fmt.Errorf("decoding authorization code: %w", err)
			}
		}

		if err := check(ac); err != nil {
			return err
		}

		ac.Used = true

		data, err := json.Marshal(ac)
		if err != nil {
			return err
		}

		if err := b.Put([]byte(code), data); err != nil {
			return err
		}

		redeemed = ac

		return nil
	})
	if err != nil {
		return nil, err
	}

	return redeemed, nil
}

// GetCode returns a stored code without modifying it, or nil if absent.
func (s *State) GetCode(code string) (*models.AuthorizationCode, error) {
	var ac *models.AuthorizationCode

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(codesBucket).Get([]byte(code))
		if v == nil {
			return nil
		}

		ac = &models.AuthorizationCode{}

		return json.Unmarshal(v, ac)
	})

	return ac, err
}

// Purge deletes codes that expired before cutoff.
func (s *State) Purge(_ context.Context, cutoff time.Time) (int, error) {
	n := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)

		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var ac models.AuthorizationCode
			if err := json.Unmarshal(v, &ac); err != nil {
				return err
			}

			if ac.ExpiresAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		n = len(stale)

		return nil
	})

	return n, err
}

// CodeCount returns the number of stored codes, used or not.
func (s *State) CodeCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(codesBucket).Stats().KeyN
		return nil
	})

	return count
}
