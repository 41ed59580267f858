package store

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yourusername/arcsign/internal/types"
)

// bucket names for the embedded single-node dev backend (spec §4.2).
var (
	bucketRecords = []byte("records")
	bucketStatus  = []byte("by_status")
)

// BoltStore implements Store over an embedded bbolt database, grounded on
// the bucket-transaction pattern used for durable event/transaction storage
// in the example pack's bridge SDK (db.Update(func(tx *bbolt.Tx) error
// {...})). Every mutation commits inside a single bbolt transaction, which
// bbolt fsyncs before the call returns, satisfying the store's durability
// requirement.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, types.NewStoreError("failed to open bbolt database", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketStatus); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.NewStoreError("failed to initialize bbolt buckets", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) PutIfAbsent(req types.SettlementRequest) (PutResult, error) {
	result := Inserted

	err := b.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		if records.Get([]byte(req.SourceTxHash)) != nil {
			result = AlreadyExists
			return nil
		}

		now := time.Now()
		rec := types.Record{Request: req, State: types.NewPendingState(now)}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := records.Put([]byte(req.SourceTxHash), data); err != nil {
			return err
		}
		return indexStatus(tx, req.SourceTxHash, "", types.StatusPending)
	})
	if err != nil {
		return 0, types.NewStoreError("put_if_absent failed", err)
	}

	return result, nil
}

func (b *BoltStore) Get(sourceTxHash string) (types.Record, error) {
	var rec types.Record
	var found bool

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(sourceTxHash))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return types.Record{}, types.NewStoreError("get failed", err)
	}
	if !found {
		return types.Record{}, ErrNotFound
	}
	return rec, nil
}

func (b *BoltStore) UpdateState(sourceTxHash string, expected *types.SettlementState, f UpdateFunc) (UpdateResult, types.SettlementState, error) {
	var result UpdateResult
	var next types.SettlementState

	err := b.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get([]byte(sourceTxHash))
		if data == nil {
			result = NotFound
			return nil
		}

		var rec types.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		if expected != nil && !sameVersion(rec.State, *expected) {
			result = Conflict
			next = rec.State
			return nil
		}

		prevStatus := rec.State.Status
		next = f(rec.State)
		next.UpdatedAt = time.Now()
		rec.State = next

		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := records.Put([]byte(sourceTxHash), updated); err != nil {
			return err
		}
		if err := indexStatus(tx, sourceTxHash, prevStatus, next.Status); err != nil {
			return err
		}
		result = Updated
		return nil
	})
	if err != nil {
		return 0, types.SettlementState{}, types.NewStoreError("update_state failed", err)
	}

	return result, next, nil
}

func (b *BoltStore) ListByStatus(status types.Status, limit int) ([]types.Record, error) {
	var result []types.Record

	err := b.db.View(func(tx *bbolt.Tx) error {
		statusBucket := tx.Bucket(bucketStatus).Bucket([]byte(status))
		if statusBucket == nil {
			return nil
		}
		records := tx.Bucket(bucketRecords)

		return statusBucket.ForEach(func(k, _ []byte) error {
			data := records.Get(k)
			if data == nil {
				return nil
			}
			var rec types.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			result = append(result, rec)
			return nil
		})
	})
	if err != nil {
		return nil, types.NewStoreError("list_by_status failed", err)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].State.CreatedAt.Before(result[j].State.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (b *BoltStore) CountByStatus() (map[types.Status]int, error) {
	counts := make(map[types.Status]int)

	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketStatus)
		c := root.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v != nil {
				continue // not a nested bucket
			}
			sub := root.Bucket(name)
			counts[types.Status(name)] = sub.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return nil, types.NewStoreError("count_by_status failed", err)
	}
	return counts, nil
}

func (b *BoltStore) ListRecent(limit int) ([]types.Record, error) {
	var result []types.Record

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			result = append(result, rec)
			return nil
		})
	})
	if err != nil {
		return nil, types.NewStoreError("list_recent failed", err)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].State.CreatedAt.After(result[j].State.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// indexStatus maintains the by-status secondary index used by ListByStatus
// and CountByStatus, moving the key from its previous status bucket (if any)
// into the new one within the same transaction.
func indexStatus(tx *bbolt.Tx, sourceTxHash string, prev, next types.Status) error {
	statusRoot := tx.Bucket(bucketStatus)

	if prev != "" && prev != next {
		if old := statusRoot.Bucket([]byte(prev)); old != nil {
			if err := old.Delete([]byte(sourceTxHash)); err != nil {
				return err
			}
		}
	}

	bucket, err := statusRoot.CreateBucketIfNotExists([]byte(next))
	if err != nil {
		return err
	}
	return bucket.Put([]byte(sourceTxHash), seqValue())
}

func seqValue() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	return buf
}
