package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrTokenNotFound is returned by DeleteToken for an unknown ID.
var ErrTokenNotFound = errors.New("token not found")

var (
	bucketTokens   = []byte("tokens")    // hash -> TokenInfo JSON
	bucketTokenIDs = []byte("token_ids") // id -> hash
)

// BoltTokenStore implements TokenStore on a bbolt file. Only token hashes are stored.
type BoltTokenStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltTokenStore opens or creates the token database at dbPath.
func OpenBoltTokenStore(dbPath string) (*BoltTokenStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create token directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketTokenIDs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltTokenStore{db: db, now: time.Now}, nil
}

// Close releases the bbolt database.
func (s *BoltTokenStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetByHash returns the token for hash, or nil if there is none.
func (s *BoltTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	var info *TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(hash))
		if data == nil {
			return nil
		}
		info = &TokenInfo{}
		return json.Unmarshal(data, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// UpdateLastUsed stamps the token's last use time.
func (s *BoltTokenStore) UpdateLastUsed(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		hash := tx.Bucket(bucketTokenIDs).Get([]byte(id))
		if hash == nil {
			return ErrTokenNotFound
		}
		tokens := tx.Bucket(bucketTokens)
		var info TokenInfo
		if err := json.Unmarshal(tokens.Get(hash), &info); err != nil {
			return fmt.Errorf("decode token %s: %w", id, err)
		}
		now := s.now().UTC()
		info.LastUsedAt = &now
		data, err := json.Marshal(&info)
		if err != nil {
			return err
		}
		return tokens.Put(hash, data)
	})
}

// ListTokens returns all token metadata ordered by creation time.
func (s *BoltTokenStore) ListTokens() ([]*TokenInfo, error) {
	var out []*TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			var info TokenInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			out = append(out, &info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteToken removes the token with the given ID.
func (s *BoltTokenStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketTokenIDs)
		hash := ids.Get([]byte(id))
		if hash == nil {
			return fmt.Errorf("token '%s': %w", id, ErrTokenNotFound)
		}
		if err := tx.Bucket(bucketTokens).Delete(hash); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}

// CreateToken generates a bearer token and stores its hash. The raw value is returned once.
func (s *BoltTokenStore) CreateToken(desc, userID string, repos []string, permission string) (string, *TokenInfo, error) {
	rawToken := "depot_" + randomHex(20)
	info := &TokenInfo{
		ID:         randomHex(8),
		TokenHash:  HashToken(rawToken),
		Desc:       desc,
		UserID:     userID,
		Repos:      repos,
		Permission: permission,
		CreatedAt:  s.now().UTC(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", nil, fmt.Errorf("marshal token: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTokens).Put([]byte(info.TokenHash), data); err != nil {
			return err
		}
		return tx.Bucket(bucketTokenIDs).Put([]byte(info.ID), []byte(info.TokenHash))
	})
	if err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}
	return rawToken, info, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
