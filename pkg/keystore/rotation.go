// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-softtoken.
//
// go-softtoken is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-softtoken/pkg/storage"
)

// RecoveryAction describes what Recover found in the staging area.
type RecoveryAction int

const (
	// RecoveryNone means there was nothing to recover.
	RecoveryNone RecoveryAction = iota

	// RecoveryRolledForward means a committed rotation was completed.
	RecoveryRolledForward

	// RecoveryDiscarded means an uncommitted rotation was thrown away.
	RecoveryDiscarded
)

// String returns the string representation.
func (a RecoveryAction) String() string {
	switch a {
	case RecoveryNone:
		return "none"
	case RecoveryRolledForward:
		return "rolled_forward"
	case RecoveryDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// ChangePIN re-encrypts the PIN container and every key container from
// oldPIN to newPIN as one unit.
//
// Each container is decrypted with oldPIN and re-encrypted into the staging
// area. Only when all of them are staged is the journal written; from then
// on the rotation is committed and the staged files are renamed over the
// originals. A crash before the journal leaves the originals untouched, a
// crash after it is completed by Recover.
//
// Returns ErrContainerNotFound if the token is not initialized and
// ErrIncorrectPIN if oldPIN does not open the PIN container. Any other
// failure before commit is reported as ErrRotationFailed.
func (ks *KeyStore) ChangePIN(oldPIN, newPIN []byte) error {
	if len(oldPIN) == 0 || len(newPIN) == 0 {
		return ErrEmptyPIN
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, err := ks.recover(); err != nil {
		return err
	}

	if _, err := ks.read(PINContainer, PINAlias, oldPIN); err != nil {
		return err
	}

	ids, err := ks.list()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(ids)+1)
	names = append(names, PINContainer)
	for _, id := range ids {
		names = append(names, ContainerName(id))
	}

	staged := make([]string, 0, len(names))
	for _, name := range names {
		if err := ks.stage(name, oldPIN, newPIN); err != nil {
			ks.discardStaging()
			return fmt.Errorf("%w: container %s does not open with the current PIN, move it out of the token directory and retry: %w", ErrRotationFailed, name, err)
		}
		staged = append(staged, name)
	}

	journal := []byte(strings.Join(staged, "\n"))
	if err := ks.storage.Put(journalKey, journal, storage.DefaultOptions()); err != nil {
		ks.discardStaging()
		return fmt.Errorf("%w: failed to write journal: %w", ErrRotationFailed, err)
	}

	// Committed. A failure from here on is finished by the next Recover.
	if err := ks.rollForward(staged); err != nil {
		return fmt.Errorf("%w: %w", ErrRotationNotApplied, err)
	}
	if err := ks.storage.Delete(journalKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: failed to remove rotation journal: %w", ErrRotationNotApplied, err)
	}
	return nil
}

// Recover completes or discards a PIN rotation interrupted by a crash.
func (ks *KeyStore) Recover() (RecoveryAction, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	return ks.recover()
}

func (ks *KeyStore) recover() (RecoveryAction, error) {
	journal, err := ks.storage.Get(journalKey)
	switch {
	case err == nil:
		names := parseJournal(journal)
		if err := ks.rollForward(names); err != nil {
			return RecoveryNone, fmt.Errorf("keystore: failed to complete PIN rotation: %w", err)
		}
		if err := ks.storage.Delete(journalKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return RecoveryNone, fmt.Errorf("keystore: failed to remove rotation journal: %w", err)
		}
		ks.discardStaging()
		return RecoveryRolledForward, nil

	case errors.Is(err, storage.ErrNotFound):
		if ks.discardStaging() > 0 {
			return RecoveryDiscarded, nil
		}
		return RecoveryNone, nil

	default:
		return RecoveryNone, fmt.Errorf("keystore: failed to read rotation journal: %w", err)
	}
}

// stage re-encrypts one container into the staging area.
func (ks *KeyStore) stage(name string, oldPIN, newPIN []byte) error {
	data, err := ks.storage.Get(name)
	if err != nil {
		return err
	}
	key, cert, caCerts, err := decodeContainer(data, oldPIN)
	if err != nil {
		return err
	}
	out, err := encodeContainer(ks.encoder, key, cert, caCerts, newPIN)
	if err != nil {
		return err
	}
	return ks.storage.Put(stagingPrefix+name, out, storage.DefaultOptions())
}

// rollForward moves staged containers over their originals. Containers
// already moved by an earlier attempt are skipped.
func (ks *KeyStore) rollForward(names []string) error {
	for _, name := range names {
		err := ks.storage.Rename(stagingPrefix+name, name)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}
	return nil
}

// discardStaging removes every staged file and returns how many there were.
// Errors are ignored; leftovers are retried on the next recovery.
func (ks *KeyStore) discardStaging() int {
	names, err := ks.storage.List(stagingPrefix)
	if err != nil {
		return 0
	}
	for _, name := range names {
		_ = ks.storage.Delete(name)
	}
	return len(names)
}

func parseJournal(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		// Only top-level container names are ever journaled.
		if line == "" || strings.Contains(line, "/") || strings.Contains(line, "..") {
			continue
		}
		names = append(names, line)
	}
	return names
}
