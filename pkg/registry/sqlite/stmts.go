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

package sqlite

const createTokensTable = `
	CREATE TABLE IF NOT EXISTS tokens (
		id        TEXT PRIMARY KEY,
		status    TEXT NOT NULL,
		active    INTEGER NOT NULL DEFAULT 0,
		available INTEGER NOT NULL DEFAULT 0
	)`

const createKeysTable = `
	CREATE TABLE IF NOT EXISTS keys (
		token_id   TEXT NOT NULL REFERENCES tokens(id),
		key_id     TEXT NOT NULL,
		public_key TEXT NOT NULL DEFAULT '',
		available  INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (token_id, key_id)
	)`

const createCertsTable = `
	CREATE TABLE IF NOT EXISTS certs (
		token_id    TEXT NOT NULL,
		cert_id     TEXT NOT NULL,
		key_id      TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 0,
		certificate BLOB,
		PRIMARY KEY (token_id, cert_id),
		FOREIGN KEY (token_id, key_id) REFERENCES keys(token_id, key_id) ON DELETE CASCADE
	)`

var createStmts = []string{createTokensTable, createKeysTable, createCertsTable}

// Session state does not survive a restart.
const resetActiveQuery = `UPDATE tokens SET active = 0`

const insertTokenQuery = `
	INSERT OR IGNORE INTO tokens (id, status, active, available)
	VALUES (?, ?, 0, 0)
`

const getTokenQuery = `
	SELECT id, status, active, available
	FROM tokens
	WHERE id = ?
`

const listTokensQuery = `
	SELECT id, status, active, available
	FROM tokens
	ORDER BY id
`

const updateTokenStatusQuery = `UPDATE tokens SET status = ? WHERE id = ?`

const updateTokenActiveQuery = `UPDATE tokens SET active = ? WHERE id = ?`

const updateTokenAvailableQuery = `UPDATE tokens SET available = ? WHERE id = ?`

const insertKeyQuery = `
	INSERT INTO keys (token_id, key_id, public_key, available)
	VALUES (?, ?, ?, 1)
`

const getKeyQuery = `
	SELECT key_id, public_key, available
	FROM keys
	WHERE token_id = ? AND key_id = ?
`

const listKeysQuery = `
	SELECT key_id, public_key, available
	FROM keys
	WHERE token_id = ?
	ORDER BY key_id
`

const updateKeyAvailableQuery = `UPDATE keys SET available = ? WHERE token_id = ? AND key_id = ?`

const updateKeyPublicKeyQuery = `UPDATE keys SET public_key = ? WHERE token_id = ? AND key_id = ?`

const deleteKeyQuery = `DELETE FROM keys WHERE token_id = ? AND key_id = ?`

const insertCertQuery = `
	INSERT INTO certs (token_id, cert_id, key_id, active, certificate)
	VALUES (?, ?, ?, ?, ?)
`

const listCertsQuery = `
	SELECT cert_id, key_id, active, certificate
	FROM certs
	WHERE token_id = ? AND key_id = ?
	ORDER BY rowid
`

const listTokenCertsQuery = `
	SELECT cert_id, key_id, active, certificate
	FROM certs
	WHERE token_id = ?
	ORDER BY rowid
`

const deleteCertQuery = `DELETE FROM certs WHERE token_id = ? AND cert_id = ?`

const deleteKeyCertsQuery = `DELETE FROM certs WHERE token_id = ? AND key_id = ?`
