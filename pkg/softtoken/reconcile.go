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

package softtoken

import (
	"context"
	"crypto"

	"github.com/jeremyhahn/go-softtoken/internal/password"
	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/metrics"
)

// reconcile aligns the registry with the containers on disk. Every failure
// is per key: it is logged and the pass moves on. Containers are only
// decrypted while the token is active; a held PIN that failed activation
// is never tried against them.
func (w *Worker) reconcile(ctx context.Context) {
	ids, err := w.keystore.List()
	if err != nil {
		w.log.WarnContext(ctx, "failed to scan key directory", logger.Error(err))
		return
	}

	var pin []byte
	active := w.isActive()
	if active {
		pin, active = w.secrets.Get(w.tokenID)
		defer password.Zero(pin)
	}

	for _, id := range ids {
		w.registerDiscovered(ctx, id, pin, active)
	}

	onDisk := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		onDisk[id] = struct{}{}
	}

	keys, err := w.registry.Keys(w.tokenID)
	if err != nil {
		w.log.WarnContext(ctx, "failed to list registered keys", logger.Error(err))
		return
	}

	for _, key := range keys {
		log := w.log.With(logger.KeyID(key.ID))

		if _, ok := onDisk[key.ID]; !ok {
			w.evictKey(key.ID)
			if key.Available {
				w.setKeyAvailable(ctx, key.ID, false)
				metrics.RecordReconcile(w.tokenID, metrics.ActionUnavailable)
				log.WarnContext(ctx, "key container missing")
			}
			continue
		}

		if !active {
			continue
		}
		if !key.Available {
			w.setKeyAvailable(ctx, key.ID, true)
		}

		signer, cached := w.cache[key.ID]
		if !cached {
			entry, err := w.keystore.Load(key.ID, pin)
			if err != nil {
				w.setKeyAvailable(ctx, key.ID, false)
				metrics.RecordReconcile(w.tokenID, metrics.ActionUnavailable)
				log.WarnContext(ctx, "failed to load key", logger.Error(err))
				continue
			}
			signer = entry.PrivateKey
			w.cacheKey(key.ID, signer)
			metrics.RecordReconcile(w.tokenID, metrics.ActionLoaded)
		}

		if key.HasPublicKey() && samePublicKey(key.PublicKey, signer.Public()) {
			continue
		}
		publicKey, err := keystore.EncodePublicKey(signer.Public())
		if err != nil {
			log.WarnContext(ctx, "failed to encode public key", logger.Error(err))
			continue
		}
		if key.HasPublicKey() {
			log.WarnContext(ctx, "stored public key does not match container, replacing")
		}
		if err := w.registry.SetKeyPublicKey(w.tokenID, key.ID, publicKey); err != nil {
			log.WarnContext(ctx, "failed to store public key", logger.Error(err))
		}
	}
}

// samePublicKey reports whether the registry encoding stored decodes to pub.
func samePublicKey(stored string, pub crypto.PublicKey) bool {
	decoded, err := keystore.DecodePublicKey(stored)
	if err != nil {
		return false
	}
	eq, ok := decoded.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(pub)
}

// registerDiscovered adds a container unknown to the registry. While active
// its public key is read; otherwise it is registered without.
func (w *Worker) registerDiscovered(ctx context.Context, keyID string, pin []byte, active bool) {
	known, err := w.registry.HasKey(w.tokenID, keyID)
	if err != nil {
		w.log.WarnContext(ctx, "failed to look up key", logger.KeyID(keyID), logger.Error(err))
		return
	}
	if known {
		return
	}

	publicKey := ""
	if active {
		entry, err := w.keystore.Load(keyID, pin)
		if err != nil {
			metrics.RecordReconcile(w.tokenID, metrics.ActionSkipped)
			w.log.WarnContext(ctx, "skipping unreadable key container", logger.KeyID(keyID), logger.Error(err))
			return
		}
		publicKey, err = keystore.EncodePublicKey(entry.PublicKey())
		if err != nil {
			metrics.RecordReconcile(w.tokenID, metrics.ActionSkipped)
			w.log.WarnContext(ctx, "skipping key with unsupported public key", logger.KeyID(keyID), logger.Error(err))
			return
		}
		w.cacheKey(keyID, entry.PrivateKey)
	}

	if err := w.registry.AddKey(w.tokenID, keyID, publicKey); err != nil {
		w.log.WarnContext(ctx, "failed to register discovered key", logger.KeyID(keyID), logger.Error(err))
		return
	}
	metrics.RecordReconcile(w.tokenID, metrics.ActionRegistered)
	w.log.InfoContext(ctx, "registered key found on disk", logger.KeyID(keyID), logger.Bool("public_key", publicKey != ""))
}

func (w *Worker) setKeyAvailable(ctx context.Context, keyID string, available bool) {
	if err := w.registry.SetKeyAvailable(w.tokenID, keyID, available); err != nil {
		w.log.WarnContext(ctx, "failed to set key availability", logger.KeyID(keyID), logger.Error(err))
	}
}
