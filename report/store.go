/* Copyright 2024 Rova Labs, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"

	"github.com/rovalabs/rova/core"

	bolt "go.etcd.io/bbolt"
)

var verdictsBucket = []byte("verdicts")

// Store persists verdicts in a bbolt database, keyed by run id and
// specification name, so past runs remain inspectable.
type Store struct {
	db  *bolt.DB
	run string
}

// OpenStore opens (creating if necessary) the verdict database for
// the given run id.
func OpenStore(path, runID string) (*Store, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(verdictsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, run: runID}, nil
}

func (s *Store) key(spec string) []byte {
	return []byte(s.run + "/" + spec)
}

func (s *Store) Verdict(v *core.Verdict) {
	js, err := json.Marshal(v)
	if err != nil {
		log.Printf("store: marshal verdict %s: %v", v.Spec, err)
		return
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(verdictsBucket).Put(s.key(v.Spec), js)
	})
	if err != nil {
		log.Printf("store: put verdict %s: %v", v.Spec, err)
	}
}

// Snapshot is a no-op: heartbeats are transient.
func (s *Store) Snapshot(*core.Snapshot) {}

// Verdicts returns the stored verdicts for a run.
func (s *Store) Verdicts(runID string) ([]*core.Verdict, error) {
	prefix := []byte(runID + "/")
	var acc []*core.Verdict
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(verdictsBucket).Cursor()
		for k, val := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, val = c.Next() {
			var v core.Verdict
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("bad verdict at %s: %w", k, err)
			}
			acc = append(acc, &v)
		}
		return nil
	})
	return acc, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
