package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"obd2-service/internal/logger"
)

const supportBucket = "pid_support"

// supportRecord is the persisted value for one discovered PID.
type supportRecord struct {
	Name      string    `json:"name"`
	Frequency float64   `json:"frequency"`
	LastSeen  time.Time `json:"last_seen"`
}

// SupportStore persists which PIDs a vehicle has reported as supported, so
// support history survives service restarts and can be inspected offline.
type SupportStore struct {
	db     *bolt.DB
	logger *logger.Logger
}

// Open opens (or creates) the bbolt database and ensures the bucket exists.
func Open(path string, l *logger.Logger) (*SupportStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open support database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(supportBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create support bucket: %w", err)
	}

	return &SupportStore{db: db, logger: l.WithTag("storage")}, nil
}

// RecordSupport upserts one discovered PID with the time it was last seen.
func (s *SupportStore) RecordSupport(pid uint16, name string, frequencyHz float64) error {
	record := supportRecord{
		Name:      name,
		Frequency: frequencyHz,
		LastSeen:  time.Now().UTC(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode support record: %w", err)
	}

	key := []byte(fmt.Sprintf("%02x", pid))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(supportBucket)).Put(key, value)
	})
}

// SupportedPIDs returns every PID ever recorded, keyed by PID number.
func (s *SupportStore) SupportedPIDs() (map[uint16]string, error) {
	out := make(map[uint16]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(supportBucket)).ForEach(func(k, v []byte) error {
			var pid uint16
			if _, err := fmt.Sscanf(string(k), "%02x", &pid); err != nil {
				return nil // skip malformed keys
			}
			var record supportRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			out[pid] = record.Name
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SupportStore) Close() error {
	return s.db.Close()
}
