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

package cli

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-softtoken/pkg/keystore"
	"github.com/jeremyhahn/go-softtoken/pkg/softtoken"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

const (
	testPIN  = "Abcd1234!xyz"
	otherPIN = "Zyxw9876?abc"
)

// run executes the command line with stdin as piped input.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// newTokenDir returns an empty token directory and keeps generated keys
// small.
func newTokenDir(t *testing.T) string {
	t.Helper()
	t.Setenv("SOFTTOKEN_KEY_LENGTH", "1024")
	return t.TempDir()
}

func initToken(t *testing.T, dir string) {
	t.Helper()
	_, err := run(t, testPIN+"\n"+testPIN+"\n", "init", "--dir", dir)
	require.NoError(t, err)
}

func tokenStatus(t *testing.T, dir string) *types.TokenInfo {
	t.Helper()
	out, err := run(t, "", "status", "--dir", dir, "-o", "json")
	require.NoError(t, err)

	var resp struct {
		Tokens []*types.TokenInfo `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Tokens, 1)
	return resp.Tokens[0]
}

func generateKey(t *testing.T, dir string) *softtoken.GenerateKeyResult {
	t.Helper()
	out, err := run(t, testPIN+"\n", "key", "generate", "--dir", dir, "-o", "json")
	require.NoError(t, err)

	var res softtoken.GenerateKeyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.KeyID)
	return &res
}

func listKeys(t *testing.T, stdin, dir string, extra ...string) []*types.KeyInfo {
	t.Helper()
	args := append([]string{"key", "list", "--dir", dir, "-o", "json"}, extra...)
	out, err := run(t, stdin, args...)
	require.NoError(t, err)

	var resp struct {
		Keys []*types.KeyInfo `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Keys
}

func TestInit(t *testing.T) {
	dir := newTokenDir(t)

	info := tokenStatus(t, dir)
	assert.Equal(t, DefaultTokenID, info.ID)
	assert.Equal(t, types.TokenStatusNotInitialized, info.Status)
	assert.False(t, info.Available)

	out, err := run(t, testPIN+"\n"+testPIN+"\n", "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Token default initialized")

	_, err = os.Stat(filepath.Join(dir, keystore.PINContainer))
	require.NoError(t, err)

	info = tokenStatus(t, dir)
	assert.Equal(t, types.TokenStatusOK, info.Status)
	assert.True(t, info.Available)
	assert.False(t, info.Active)

	_, err = run(t, testPIN+"\n"+testPIN+"\n", "init", "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrTokenAlreadyInitialized)
}

func TestInit_PINMismatch(t *testing.T) {
	dir := newTokenDir(t)

	_, err := run(t, testPIN+"\n"+otherPIN+"\n", "init", "--dir", dir)
	assert.ErrorIs(t, err, ErrPINMismatch)
	assert.Equal(t, types.TokenStatusNotInitialized, tokenStatus(t, dir).Status)
}

func TestInit_PINFromEnvironment(t *testing.T) {
	dir := newTokenDir(t)
	t.Setenv("SOFTTOKEN_PIN", testPIN)

	_, err := run(t, "", "init", "--dir", dir)
	require.NoError(t, err)

	out, err := run(t, "", "activate", "--dir", dir, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "TOKEN")
	assert.Contains(t, out, "true")
}

func TestActivate(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)

	out, err := run(t, testPIN+"\n", "activate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Active:    true")

	_, err = run(t, otherPIN+"\n", "activate", "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrPinIncorrect)

	_, err = run(t, "", "activate", "--dir", dir)
	assert.Error(t, err)
}

func TestActivate_NotInitialized(t *testing.T) {
	dir := newTokenDir(t)

	_, err := run(t, testPIN+"\n", "activate", "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrTokenNotInitialized)
}

func TestDeactivate(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)

	out, err := run(t, "", "deactivate", "--dir", dir, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"active": false`)
}

func TestKeyLifecycle(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)

	res := generateKey(t, dir)
	_, err := os.Stat(filepath.Join(dir, keystore.ContainerName(res.KeyID)))
	require.NoError(t, err)

	// Without a PIN the container is found but its public key is unknown.
	keys := listKeys(t, "", dir)
	require.Len(t, keys, 1)
	assert.Equal(t, res.KeyID, keys[0].ID)
	assert.True(t, keys[0].Available)
	assert.False(t, keys[0].HasPublicKey())

	keys = listKeys(t, testPIN+"\n", dir, "--login")
	require.Len(t, keys, 1)
	assert.Equal(t, res.PublicKey, keys[0].PublicKey)

	pub, err := keystore.DecodePublicKey(res.PublicKey)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("hello"))

	out, err := run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir,
		"--digest", hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(pub.(*rsa.PublicKey), crypto.SHA256, digest[:], sig))

	_, err = run(t, "", "key", "delete", res.KeyID, "--dir", dir)
	assert.Error(t, err)

	out, err = run(t, testPIN+"\n", "key", "delete", res.KeyID, "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	_, err = os.Stat(filepath.Join(dir, keystore.ContainerName(res.KeyID)))
	assert.True(t, os.IsNotExist(err))

	assert.Empty(t, listKeys(t, "", dir))
}

func TestKeyGenerate_RequiresPIN(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)

	_, err := run(t, otherPIN+"\n", "key", "generate", "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrPinIncorrect)
	assert.Empty(t, listKeys(t, "", dir))
}

func TestKeySign_File(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)
	res := generateKey(t, dir)

	in := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(in, []byte("payload"), 0600))

	out, err := run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir,
		"--algorithm", "SHA256withRSAandMGF1", "--in", in, "-o", "json")
	require.NoError(t, err)

	var resp struct {
		KeyID     string `json:"key_id"`
		Algorithm string `json:"algorithm"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, res.KeyID, resp.KeyID)
	assert.Equal(t, "SHA256withRSAandMGF1", resp.Algorithm)

	pub, err := keystore.DecodePublicKey(res.PublicKey)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))
	assert.NoError(t, rsa.VerifyPSS(pub.(*rsa.PublicKey), crypto.SHA256, digest[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))
}

func TestKeySign_HelpListsAlgorithms(t *testing.T) {
	out, err := run(t, "", "key", "sign", "--help")
	require.NoError(t, err)
	for _, alg := range types.SupportedSignatureAlgorithms() {
		assert.Contains(t, out, string(alg))
	}
}

func TestKeySign_Errors(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)
	res := generateKey(t, dir)
	digest := hex.EncodeToString(make([]byte, 32))

	_, err := run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir)
	assert.ErrorContains(t, err, "--digest or --in")

	_, err = run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir, "--digest", "zz")
	assert.ErrorContains(t, err, "invalid digest")

	_, err = run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir, "--digest", "abcd")
	assert.ErrorIs(t, err, softtoken.ErrInvalidDigest)

	_, err = run(t, testPIN+"\n", "key", "sign", res.KeyID, "--dir", dir,
		"--digest", digest, "--algorithm", "MD5withRSA")
	assert.ErrorIs(t, err, softtoken.ErrUnsupportedSignAlgorithm)

	_, err = run(t, testPIN+"\n", "key", "sign", "unknown", "--dir", dir, "--digest", digest)
	assert.ErrorIs(t, err, softtoken.ErrKeyNotAvailable)
}

func TestKeyImport(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(file, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	out, err := run(t, testPIN+"\n", "key", "import", file, "--dir", dir, "-o", "json")
	require.NoError(t, err)

	var res softtoken.GenerateKeyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	want, err := keystore.EncodePublicKey(key.Public())
	require.NoError(t, err)
	assert.Equal(t, want, res.PublicKey)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0600))
	_, err = run(t, testPIN+"\n", "key", "import", bad, "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrInvalidKeyData)

	_, err = run(t, testPIN+"\n", "key", "import", filepath.Join(dir, "missing.pem"), "--dir", dir)
	assert.Error(t, err)
}

func TestChangePIN(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)
	res := generateKey(t, dir)

	_, err := run(t, testPIN+"\n"+otherPIN+"\n"+otherPIN+"\n", "change-pin", "--dir", dir)
	require.NoError(t, err)

	_, err = run(t, testPIN+"\n", "activate", "--dir", dir)
	assert.ErrorIs(t, err, softtoken.ErrPinIncorrect)

	digest := hex.EncodeToString(make([]byte, 32))
	_, err = run(t, otherPIN+"\n", "key", "sign", res.KeyID, "--dir", dir, "--digest", digest)
	assert.NoError(t, err)
}

func TestChangePIN_Environment(t *testing.T) {
	dir := newTokenDir(t)
	initToken(t, dir)
	t.Setenv("SOFTTOKEN_PIN", testPIN)
	t.Setenv("SOFTTOKEN_NEW_PIN", otherPIN)

	_, err := run(t, "", "change-pin", "--dir", dir)
	require.NoError(t, err)

	t.Setenv("SOFTTOKEN_PIN", otherPIN)
	_, err = run(t, "", "activate", "--dir", dir)
	assert.NoError(t, err)
}

func TestCertDelete(t *testing.T) {
	dir := newTokenDir(t)

	out, err := run(t, "", "cert", "delete", "c1", "--dir", dir, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "success"`)
}

func TestStatus_MultipleTokens(t *testing.T) {
	t.Setenv("SOFTTOKEN_KEY_LENGTH", "1024")
	a, b := t.TempDir(), t.TempDir()
	t.Setenv("SOFTTOKEN_TOKENS", "a="+a+",b="+b)

	_, err := run(t, testPIN+"\n"+testPIN+"\n", "init", "--token", "b")
	require.NoError(t, err)

	out, err := run(t, "", "status", "-o", "table")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[2], "a "))
	assert.Contains(t, lines[2], string(types.TokenStatusNotInitialized))
	assert.True(t, strings.HasPrefix(lines[3], "b "))
	assert.Contains(t, lines[3], string(types.TokenStatusOK))

	_, err = run(t, testPIN+"\n", "activate")
	assert.ErrorContains(t, err, "--token")

	_, err = run(t, "", "status", "--token", "c")
	assert.ErrorContains(t, err, "not configured")
}

func TestRegistryDatabase(t *testing.T) {
	dir := newTokenDir(t)
	db := filepath.Join(t.TempDir(), "registry.db")
	initToken(t, dir)

	_, err := run(t, testPIN+"\n", "key", "generate", "--dir", dir, "--registry", db)
	require.NoError(t, err)

	// The public key recorded at generation survives in the database.
	keys := listKeys(t, "", dir, "--registry", db)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].HasPublicKey())
}

func TestNoTokenConfigured(t *testing.T) {
	t.Setenv("SOFTTOKEN_TOKENS", "")
	_, err := run(t, "", "status")
	assert.ErrorContains(t, err, "no token configured")
}

func TestInvalidGlobalFlags(t *testing.T) {
	dir := newTokenDir(t)

	_, err := run(t, "", "status", "--dir", dir, "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = run(t, "", "status", "--dir", dir, "--timeout", "-1s")
	assert.ErrorContains(t, err, "timeout")

	_, err = run(t, "", "status", "--config", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	t.Setenv("SOFTTOKEN_KEY_LENGTH", "")
	dir := t.TempDir()
	cfgFile := filepath.Join(t.TempDir(), "softtoken.yaml")
	cfg := "logging:\n  level: error\ntoken:\n  key_length: 1024\n  enforce_pin_policy: true\ntokens:\n  - id: signing\n    dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0600))

	_, err := run(t, "short\nshort\n", "init", "--config", cfgFile)
	assert.ErrorIs(t, err, softtoken.ErrPinPolicyViolation)

	_, err = run(t, testPIN+"\n"+testPIN+"\n", "init", "--config", cfgFile)
	require.NoError(t, err)

	out, err := run(t, "", "status", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Token: signing")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "softtoken version "+Version)

	out, err = run(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}
