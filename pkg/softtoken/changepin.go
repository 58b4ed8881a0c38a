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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-softtoken/pkg/adapters/logger"
	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
)

// changePIN rotates every container of the token to newPIN. The keystore
// stages all re-encrypted containers before committing, so a failure leaves
// the token readable with exactly one of the two PINs.
func (w *Worker) changePIN(ctx context.Context, oldPIN, newPIN []byte) error {
	if len(oldPIN) == 0 || len(newPIN) == 0 {
		return ErrPinNotProvided
	}
	if err := w.checkPINPolicy(newPIN); err != nil {
		return err
	}

	err := w.keystore.ChangePIN(oldPIN, newPIN)
	switch {
	case err == nil:
	case errors.Is(err, keystore.ErrRotationNotApplied):
		// The new PIN is authoritative from the commit on.
		if serr := w.adoptPIN(newPIN); serr != nil {
			return serr
		}
		w.log.WarnContext(ctx, "PIN rotation committed but not applied", logger.Error(err))
		if w.recoverRotation(ctx) {
			w.log.InfoContext(ctx, "token PIN changed")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	case errors.Is(err, keystore.ErrRotationFailed):
		return fmt.Errorf("%w: %v", ErrInternal, err)
	case errors.Is(err, keystore.ErrContainerNotFound):
		return ErrTokenNotInitialized
	case errors.Is(err, keystore.ErrIncorrectPIN):
		return ErrPinIncorrect
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := w.adoptPIN(newPIN); err != nil {
		return err
	}

	w.log.InfoContext(ctx, "token PIN changed")
	return nil
}

// adoptPIN replaces a held session PIN; without a session it does nothing.
func (w *Worker) adoptPIN(pin []byte) error {
	if !w.secrets.Has(w.tokenID) {
		return nil
	}
	if err := w.secrets.Set(w.tokenID, pin); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}
