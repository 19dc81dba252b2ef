package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func readFields(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestLoad_MigratesPlaintextPassword(t *testing.T) {
	v := New(testCipher(t, 7), nil)
	path := writeConfig(t, `{"username": "13800000000", "password": "hunter2", "note": {"keep": true}}`)

	cred, err := v.Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.Credential{Username: "13800000000", Password: "hunter2"}, cred)

	fields := readFields(t, path)
	assert.Equal(t, "13800000000", fields["username"])
	assert.NotEqual(t, "hunter2", fields["password"])
	assert.NotContains(t, mustRead(t, path), "hunter2")
	assert.Equal(t, map[string]any{"keep": true}, fields["note"], "other fields must survive")

	again, err := v.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cred, again)

	// Already encrypted: the file must not be rewritten.
	before := mustRead(t, path)
	_, err = v.Load(path)
	require.NoError(t, err)
	assert.Equal(t, before, mustRead(t, path))
}

func TestLoad_Token(t *testing.T) {
	v := New(testCipher(t, 7), nil)
	path := writeConfig(t, `{"other": 1}`)
	require.NoError(t, v.Save(model.Credential{Token: "opaque"}, path))

	cred, err := v.Load(path)
	require.NoError(t, err)
	assert.True(t, cred.IsToken())
	assert.Equal(t, "opaque", cred.Token)
	assert.EqualValues(t, 1, readFields(t, path)["other"])
}

func TestLoad_TokenUnderForeignKeyFails(t *testing.T) {
	path := writeConfig(t, `{}`)
	require.NoError(t, New(testCipher(t, 1), nil).Save(model.Credential{Token: "opaque"}, path))

	_, err := New(testCipher(t, 2), nil).Load(path)
	assert.ErrorIs(t, err, errs.ErrCredential)
}

func TestLoad_Failures(t *testing.T) {
	v := New(testCipher(t, 7), nil)

	tests := []struct {
		name    string
		content string
	}{
		{name: "empty object", content: `{}`},
		{name: "username only", content: `{"username": "u"}`},
		{name: "not json", content: `{ nope`},
		{name: "password not a string", content: `{"username": "u", "password": 12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, errs.ErrCredential)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := v.Load(filepath.Join(t.TempDir(), "absent.json"))
		assert.ErrorIs(t, err, errs.ErrCredential)
	})
}

func TestSave_CreatesMissingFile(t *testing.T) {
	v := New(testCipher(t, 7), nil)
	path := filepath.Join(t.TempDir(), "users", "alice", "accounts", "1", "config.json")

	require.NoError(t, v.Save(model.Credential{Username: "u", Password: "p"}, path))
	cred, err := v.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "p", cred.Password)
}

func TestSave_RejectsEmptyCredential(t *testing.T) {
	v := New(testCipher(t, 7), nil)
	err := v.Save(model.Credential{Username: "u"}, filepath.Join(t.TempDir(), "c.json"))
	assert.ErrorIs(t, err, errs.ErrCredential)
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}
