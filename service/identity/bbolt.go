package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MinerWs/module/miner/model"

	"go.etcd.io/bbolt"
)

var (
	bucketMinerSign  = []byte("miner_sign")
	bucketAccountKey = []byte("account_key")
)

// BoltStore is the single-node embedded backend.
type BoltStore struct {
	db *bbolt.DB
}

var (
	_ SignStore    = (*BoltStore)(nil)
	_ AccountStore = (*BoltStore)(nil)
)

// NewBoltStoreFromFile opens (or creates) the database at path.
func NewBoltStoreFromFile(path string, openTimeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMinerSign, bucketAccountKey} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound.WrapMsg(string(bucket), "key", key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) GetByClientID(_ context.Context, clientID string) (*model.MinerSign, error) {
	var sign model.MinerSign
	if err := s.get(bucketMinerSign, clientID, &sign); err != nil {
		return nil, err
	}
	return &sign, nil
}

func (s *BoltStore) SaveSign(_ context.Context, sign model.MinerSign) error {
	data, err := json.Marshal(sign)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMinerSign).Put([]byte(sign.ClientID), data)
	})
}

func (s *BoltStore) GetAccountKeyPair(_ context.Context, loginName string) (*model.AccountKeyPair, error) {
	var kp model.AccountKeyPair
	if err := s.get(bucketAccountKey, loginName, &kp); err != nil {
		return nil, err
	}
	return &kp, nil
}

func (s *BoltStore) PersistAccountKeyPair(_ context.Context, loginName string, kp model.AccountKeyPair) error {
	data, err := json.Marshal(kp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccountKey)
		if b.Get([]byte(loginName)) != nil {
			return nil
		}
		return b.Put([]byte(loginName), data)
	})
}
