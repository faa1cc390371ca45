// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const snapshotPrefix = "snap/"

// snapshot is the content a file held before the last write to it.
type snapshot struct {
	Existed bool   `json:"existed"`
	Content string `json:"content,omitempty"`
}

func snapshotKey(rel string) []byte {
	return []byte(snapshotPrefix + rel)
}

func putSnapshot(db *badger.DB, rel string, s snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(rel), data)
	})
}

func getSnapshot(db *badger.DB, rel string) (snapshot, error) {
	var s snapshot
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(rel))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	return s, err
}

func deleteSnapshot(db *badger.DB, rel string) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(rel))
	})
}

// snapshotPaths lists every path that currently has a snapshot.
func snapshotPaths(db *badger.DB) ([]string, error) {
	var paths []string
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(snapshotPrefix):]))
		}
		return nil
	})
	return paths, err
}
