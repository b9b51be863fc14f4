package webhooks

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDeliveries = []byte("deliveries")

// Record is a journaled event awaiting webhook delivery. Records survive
// process restarts and are replayed before live traffic.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Journal is a durable outbox for webhook deliveries backed by bbolt.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens or creates the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open webhook journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeliveries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init webhook journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append journals an event and returns the assigned record.
func (j *Journal) Append(eventType string, attributes map[string]string, at time.Time) (Record, error) {
	var record Record
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeliveries)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		record = Record{
			Sequence:   seq,
			Type:       eventType,
			Attributes: attributes,
			CreatedAt:  at.UTC(),
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), raw)
	})
	if err != nil {
		return Record{}, fmt.Errorf("append webhook record: %w", err)
	}
	return record, nil
}

// Delete removes a delivered record.
func (j *Journal) Delete(sequence uint64) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveries).Delete(sequenceKey(sequence))
	})
}

// Pending returns all undelivered records in sequence order.
func (j *Journal) Pending() ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveries).ForEach(func(_, value []byte) error {
			var record Record
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan webhook journal: %w", err)
	}
	return records, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
