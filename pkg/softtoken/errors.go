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
)

// Errors returned by token worker commands. Callers test them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrTokenNotActive is returned by key operations while no accepted
	// session PIN is held.
	ErrTokenNotActive = errors.New("softtoken: token not active")

	// ErrTokenNotInitialized is returned when the PIN container is missing.
	ErrTokenNotInitialized = errors.New("softtoken: token not initialized")

	// ErrTokenAlreadyInitialized is returned by Initialize when the PIN
	// container exists and re-initialization is not allowed.
	ErrTokenAlreadyInitialized = errors.New("softtoken: token already initialized")

	// ErrPinIncorrect is returned when a PIN does not open the PIN container.
	ErrPinIncorrect = errors.New("softtoken: PIN incorrect")

	// ErrPinNotProvided is returned when an operation needs a PIN and none
	// was given or held.
	ErrPinNotProvided = errors.New("softtoken: PIN not provided")

	// ErrPinPolicyViolation is returned when a new PIN fails the PIN policy.
	ErrPinPolicyViolation = errors.New("softtoken: PIN policy violation")

	// ErrKeyNotAvailable is returned by Sign for keys the registry does not
	// mark available.
	ErrKeyNotAvailable = errors.New("softtoken: key not available")

	// ErrKeyNotFound is returned by Sign when the private key cannot be loaded.
	ErrKeyNotFound = errors.New("softtoken: key not found")

	// ErrUnsupportedSignAlgorithm is returned for algorithm ids outside the whitelist.
	ErrUnsupportedSignAlgorithm = errors.New("softtoken: unsupported signature algorithm")

	// ErrInvalidDigest is returned when the digest length does not match
	// the algorithm's hash.
	ErrInvalidDigest = errors.New("softtoken: invalid digest")

	// ErrInvalidKeyData is returned by ImportKey for unparseable key material.
	ErrInvalidKeyData = errors.New("softtoken: invalid key data")

	// ErrInternal wraps storage, registry and crypto failures.
	ErrInternal = errors.New("softtoken: internal error")

	// ErrWorkerStopped is returned by Execute once the worker has stopped.
	ErrWorkerStopped = errors.New("softtoken: worker stopped")

	// ErrWorkerRunning is returned when Run is called on a running worker.
	ErrWorkerRunning = errors.New("softtoken: worker already running")

	// ErrInvalidConfig is returned by New for an incomplete configuration.
	ErrInvalidConfig = errors.New("softtoken: invalid configuration")
)

// errorCodes maps sentinels to stable codes, most specific first.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrTokenNotActive, "token_not_active"},
	{ErrTokenNotInitialized, "token_not_initialized"},
	{ErrTokenAlreadyInitialized, "token_already_initialized"},
	{ErrPinIncorrect, "pin_incorrect"},
	{ErrPinNotProvided, "pin_not_provided"},
	{ErrPinPolicyViolation, "pin_policy_violation"},
	{ErrKeyNotAvailable, "key_not_available"},
	{ErrKeyNotFound, "key_not_found"},
	{ErrUnsupportedSignAlgorithm, "unsupported_sign_algorithm"},
	{ErrInvalidDigest, "invalid_digest"},
	{ErrInvalidKeyData, "invalid_key_data"},
	{ErrWorkerStopped, "worker_stopped"},
	{ErrWorkerRunning, "worker_running"},
	{ErrInvalidConfig, "invalid_config"},
	{context.DeadlineExceeded, "timeout"},
	{context.Canceled, "canceled"},
	{ErrInternal, "internal"},
}

// ErrorCode returns a stable snake_case code for err, used as a metrics
// label and in machine readable CLI output. It returns "" for nil and
// "internal" for errors outside the worker taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
