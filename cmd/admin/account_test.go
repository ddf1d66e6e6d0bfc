package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/matcha/internal/config"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/storage"
)

// useTempStore points loadConfig at a fresh sqlite file and seeds one
// account. The file outlives each command so state carries between runs.
func useTempStore(t *testing.T) (*config.Config, *model.User) {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"JWT_SECRET":  "test-secret-that-is-at-least-32-chars!",
		"ENVIRONMENT": "test",
		"DB_PATH":     filepath.Join(t.TempDir(), "matcha.db"),
	})
	require.NoError(t, err)

	prev := loadConfig
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })

	store, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	user := &model.User{Email: "a@b.com", Username: "u1", PasswordHash: "x"}
	require.NoError(t, store.Create(context.Background(), user))
	return cfg, user
}

func reload(t *testing.T, cfg *config.Config, id string) (*model.User, error) {
	t.Helper()
	store, err := storage.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	return store.GetUserByID(context.Background(), id)
}

func execute(args ...string) (string, error) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoot_Help(t *testing.T) {
	out, err := execute("--help")
	require.NoError(t, err)

	for _, sub := range []string{"show", "status", "delete", "verify-email", "migrate"} {
		assert.Contains(t, out, sub)
	}
}

func TestShow(t *testing.T) {
	_, user := useTempStore(t)

	out, err := execute("show", user.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "a@b.com")
	assert.Contains(t, out, "active")
	assert.Regexp(t, `VERIFIED\s+no`, out)

	out, err = execute("show", "A@B.com", "--json")
	require.NoError(t, err)
	var view accountView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, user.ID, view.ID)
	assert.Equal(t, "u1", view.Username)
	assert.NotContains(t, out, "password")
}

func TestShow_Unknown(t *testing.T) {
	useTempStore(t)

	_, err := execute("show", "ghost@b.com")

	assert.ErrorContains(t, err, `no account matches "ghost@b.com"`)
}

func TestStatus(t *testing.T) {
	cfg, user := useTempStore(t)

	out, err := execute("status", user.ID, "Suspended")
	require.NoError(t, err)
	assert.Contains(t, out, "is now suspended")

	stored, err := reload(t, cfg, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuspended, stored.Status)
}

func TestStatus_Errors(t *testing.T) {
	_, user := useTempStore(t)

	_, err := execute("status", user.ID, "frozen")
	assert.ErrorContains(t, err, "unknown account status")

	_, err = execute("status", "not-an-id", "banned")
	assert.ErrorContains(t, err, "not a valid user id")

	_, err = execute("status", user.ID)
	assert.Error(t, err, "status takes exactly two arguments")
}

func TestDelete(t *testing.T) {
	cfg, user := useTempStore(t)

	out, err := execute("delete", user.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = reload(t, cfg, user.ID)
	assert.Error(t, err, "deleted accounts are invisible to reads")

	_, err = execute("delete", user.ID)
	assert.Error(t, err, "deleting twice finds nothing")
}

func TestVerifyEmail(t *testing.T) {
	cfg, user := useTempStore(t)

	_, err := execute("verify-email", user.ID)
	require.NoError(t, err)

	stored, err := reload(t, cfg, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEmailVerified())

	out, err := execute("show", user.ID)
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "VERIFIED  no"))
}

func TestMigrate(t *testing.T) {
	useTempStore(t)

	out, err := execute("migrate")

	require.NoError(t, err)
	assert.Contains(t, out, "Migrations completed successfully")
}
