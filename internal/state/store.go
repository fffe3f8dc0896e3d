// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package state persists per-source state in BadgerDB so that credentials
// and counter baselines survive restarts.
//
// Key layout:
//
//	cred:<source>   credential JSON, AES-256-GCM encrypted when a key is configured
//	state:<source>  SourceState JSON (status, last success, counter baseline)
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
)

const (
	credentialKeyPrefix = "cred:"
	stateKeyPrefix      = "state:"
)

// ErrNotFound is returned when nothing is stored for a source.
var ErrNotFound = errors.New("not found")

// Store is a BadgerDB-backed store for credentials and source state.
type Store struct {
	db        *badger.DB
	encryptor *config.CredentialEncryptor
	ownsDB    bool
}

// Open opens (or creates) the store described by cfg. A path of ":memory:"
// opens an in-memory database.
func Open(cfg *config.StateConfig) (*Store, error) {
	var opts badger.Options
	if cfg.Path == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		// Enable sync writes for durability; rotated refresh tokens must not be lost
		opts.SyncWrites = true
	}
	opts.Logger = nil                // Suppress BadgerDB internal logs
	opts.ValueLogFileSize = 16 << 20 // 16MB; state values are small

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for source state: %w", err)
	}

	var enc *config.CredentialEncryptor
	if cfg.EncryptionKey != "" {
		enc, err = config.NewCredentialEncryptor(cfg.EncryptionKey)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create credential encryptor: %w", err)
		}
	} else {
		logging.Warn().Msg("STATE_ENCRYPTION_KEY not set, provider credentials are stored unencrypted")
	}

	return &Store{db: db, encryptor: enc, ownsDB: true}, nil
}

// NewFromDB wraps an existing BadgerDB handle. The caller keeps ownership.
func NewFromDB(db *badger.DB, encryptor *config.CredentialEncryptor) *Store {
	return &Store{db: db, encryptor: encryptor}
}

// Close closes the underlying database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// LoadCredential returns the persisted credential for source.
func (s *Store) LoadCredential(_ context.Context, source models.SourceID) (models.Credential, error) {
	var cred models.Credential
	raw, err := s.get(credentialKeyPrefix + string(source))
	if err != nil {
		return cred, err
	}
	if s.encryptor != nil {
		raw, err = s.encryptor.Decrypt(string(raw))
		if err != nil {
			return cred, fmt.Errorf("decrypt credential for %s: %w", source, err)
		}
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return cred, fmt.Errorf("decode credential for %s: %w", source, err)
	}
	return cred, nil
}

// SaveCredential persists cred for source.
func (s *Store) SaveCredential(_ context.Context, source models.SourceID, cred models.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if s.encryptor != nil {
		ct, err := s.encryptor.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt credential for %s: %w", source, err)
		}
		data = []byte(ct)
	}
	return s.set(credentialKeyPrefix+string(source), data)
}

// DeleteCredential removes the persisted credential for source.
func (s *Store) DeleteCredential(_ context.Context, source models.SourceID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(credentialKeyPrefix + string(source)))
	})
}

// LoadState returns the persisted state for source.
func (s *Store) LoadState(_ context.Context, source models.SourceID) (*models.SourceState, error) {
	raw, err := s.get(stateKeyPrefix + string(source))
	if err != nil {
		return nil, err
	}
	st := models.NewSourceState(source)
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", source, err)
	}
	if st.LastCumulative == nil {
		st.LastCumulative = make(map[models.Date]map[models.Field]float64)
	}
	return st, nil
}

// SaveState persists st. ConsecutiveFailures is not stored.
func (s *Store) SaveState(_ context.Context, st *models.SourceState) error {
	if st == nil || st.Source == "" {
		return errors.New("source state must name a source")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.set(stateKeyPrefix+string(st.Source), data)
}

// RunGC reclaims value log space until there is nothing left to rewrite.
func (s *Store) RunGC(discardRatio float64) (int, error) {
	rounds := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return rounds, nil
		}
		if err != nil {
			return rounds, err
		}
		rounds++
	}
}

func (s *Store) get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (s *Store) set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value))
	})
}
