// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package persist makes the session and candidate stores survive process
// restarts. Saves are atomic: write to a temp file in the state directory,
// rename over the target, with the previous file parked at a .backup
// sibling until the replace is known good. Loads prefer the primary file
// and fall back to the backup, promoting it on success.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/unisim/upgradectl/pkg/session"
)

// SchemaVersion is the version of the on-disk snapshot layout. Snapshots
// written before the field existed decode as version 0 and are accepted as
// version 1; anything newer is rejected rather than guessed at.
const SchemaVersion = 1

const (
	sessionsFilename   = "upgrade_sessions.json"
	candidatesFilename = "candidate_software.json"
	backupSuffix       = ".backup"
)

type (
	Persister struct {
		dir string
	}

	sessionsSnapshot struct {
		SchemaVersion int                                `json:"schemaVersion"`
		Sessions      map[string]*session.UpgradeSession `json:"sessions"`
	}

	candidatesSnapshot struct {
		SchemaVersion int                                          `json:"schemaVersion"`
		Candidates    map[string]*session.CandidateSoftwareVersion `json:"candidates"`
	}
)

func New(stateDir string) *Persister {
	return &Persister{dir: stateDir}
}

func (p *Persister) SessionsPath() string {
	return filepath.Join(p.dir, sessionsFilename)
}

func (p *Persister) CandidatesPath() string {
	return filepath.Join(p.dir, candidatesFilename)
}

// SaveStore snapshots both collections. A failure on one collection does
// not prevent saving the other.
func (p *Persister) SaveStore(store *session.Store) error {
	var firstErr error
	if err := p.SaveSessions(store.SessionsSnapshot()); err != nil {
		log.Error().Err(err).Msg("failed to save upgrade sessions")
		firstErr = err
	}
	if err := p.SaveCandidates(store.CandidatesSnapshot()); err != nil {
		log.Error().Err(err).Msg("failed to save candidate software versions")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Persister) SaveSessions(sessions map[string]*session.UpgradeSession) error {
	err := p.atomicWrite(p.SessionsPath(), &sessionsSnapshot{
		SchemaVersion: SchemaVersion,
		Sessions:      sessions,
	})
	if err == nil {
		log.Debug().Int("count", len(sessions)).Str("path", p.SessionsPath()).Msg("saved upgrade sessions")
	}
	return err
}

func (p *Persister) SaveCandidates(candidates map[string]*session.CandidateSoftwareVersion) error {
	err := p.atomicWrite(p.CandidatesPath(), &candidatesSnapshot{
		SchemaVersion: SchemaVersion,
		Candidates:    candidates,
	})
	if err == nil {
		log.Debug().Int("count", len(candidates)).Str("path", p.CandidatesPath()).Msg("saved candidate software versions")
	}
	return err
}

// LoadSessions restores the session collection. A missing file yields an
// empty collection; a corrupt primary falls back to the backup.
func (p *Persister) LoadSessions() (map[string]*session.UpgradeSession, error) {
	var snap sessionsSnapshot
	if err := loadWithFallback(p.SessionsPath(), &snap); err != nil {
		return nil, err
	}
	if err := checkSchemaVersion(snap.SchemaVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", p.SessionsPath(), err)
	}
	if snap.Sessions == nil {
		snap.Sessions = map[string]*session.UpgradeSession{}
	}
	log.Info().Int("count", len(snap.Sessions)).Msg("loaded upgrade sessions")
	return snap.Sessions, nil
}

func (p *Persister) LoadCandidates() (map[string]*session.CandidateSoftwareVersion, error) {
	var snap candidatesSnapshot
	if err := loadWithFallback(p.CandidatesPath(), &snap); err != nil {
		return nil, err
	}
	if err := checkSchemaVersion(snap.SchemaVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", p.CandidatesPath(), err)
	}
	if snap.Candidates == nil {
		snap.Candidates = map[string]*session.CandidateSoftwareVersion{}
	}
	log.Info().Int("count", len(snap.Candidates)).Msg("loaded candidate software versions")
	return snap.Candidates, nil
}

// LoadStore restores both collections into the store. Load failures degrade
// to empty collections rather than preventing startup.
func (p *Persister) LoadStore(store *session.Store) {
	sessions, err := p.LoadSessions()
	if err != nil {
		log.Error().Err(err).Msg("failed to load upgrade sessions, starting from empty state")
		sessions = map[string]*session.UpgradeSession{}
	}
	candidates, err := p.LoadCandidates()
	if err != nil {
		log.Error().Err(err).Msg("failed to load candidate software versions, starting from empty state")
		candidates = map[string]*session.CandidateSoftwareVersion{}
	}
	store.Restore(sessions, candidates)
}

func checkSchemaVersion(v int) error {
	if v > SchemaVersion {
		return fmt.Errorf("snapshot schema version %d is newer than supported version %d", v, SchemaVersion)
	}
	return nil
}

func (p *Persister) atomicWrite(path string, v interface{}) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	backup := path + backupSuffix
	hadPrevious := false
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backup); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to park previous snapshot as backup")
		} else {
			hadPrevious = true
		}
	}

	err := p.writeTemp(path, v)
	if err != nil {
		// Put the previous snapshot back so a failed save loses nothing.
		if hadPrevious {
			if restoreErr := os.Rename(backup, path); restoreErr != nil {
				log.Error().Err(restoreErr).Str("path", path).Msg("failed to restore snapshot from backup")
			} else {
				log.Info().Str("path", path).Msg("restored snapshot from backup after failed save")
			}
		}
		return err
	}

	if hadPrevious {
		if err := os.Remove(backup); err != nil {
			log.Warn().Err(err).Str("path", backup).Msg("failed to remove backup snapshot")
		}
	}
	return nil
}

func (p *Persister) writeTemp(path string, v interface{}) error {
	tmp, err := os.CreateTemp(p.dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	// Atomic replace: readers observe either the old file or the new one,
	// never a partial write.
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func loadWithFallback[T any](path string, v *T) error {
	primaryErr := loadJSON(path, v)
	if primaryErr == nil {
		return nil
	}
	if os.IsNotExist(primaryErr) {
		log.Debug().Str("path", path).Msg("no snapshot found")
	} else {
		log.Error().Err(primaryErr).Str("path", path).Msg("failed to load snapshot, trying backup")
	}

	// A failed decode may have partially populated v; start clean before
	// decoding the backup.
	*v = *new(T)
	backup := path + backupSuffix
	backupErr := loadJSON(backup, v)
	if backupErr == nil {
		// Promote the backup so the next save cycle starts from a primary.
		if err := os.Rename(backup, path); err != nil {
			log.Warn().Err(err).Str("path", backup).Msg("failed to promote backup snapshot")
		} else {
			log.Info().Str("path", path).Msg("restored snapshot from backup")
		}
		return nil
	}
	if os.IsNotExist(primaryErr) && os.IsNotExist(backupErr) {
		// Nothing persisted yet; leave v zero-valued.
		return nil
	}
	if os.IsNotExist(primaryErr) {
		return backupErr
	}
	return primaryErr
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
