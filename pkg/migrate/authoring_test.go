package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWritesTimestampedTemplate(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := Create(dir, "Add payout channel!", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_payout_channel.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "-- +goose Down")

	_, err = Create(dir, "add payout channel", at)
	assert.Error(t, err, "same timestamp and slug must not overwrite")

	_, err = Create(dir, "!!!", at)
	assert.Error(t, err)
}

func TestCreatedMigrationPassesValidate(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, "seed_campus_wallets", time.Now())
	require.NoError(t, err)
	assert.NoError(t, Validate(os.DirFS(dir)))
}

func TestValidateRejections(t *testing.T) {
	both := []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")
	tests := map[string]fstest.MapFS{
		"bad name": {"create_things.sql": {Data: both}},
		"duplicate version": {
			"20260301090000_a.sql": {Data: both},
			"20260301090000_b.sql": {Data: both},
		},
		"missing down": {"20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(fsys))
		})
	}

	assert.NoError(t, Validate(fstest.MapFS{
		"20260301090000_a.sql": {Data: both},
		"README.md":            {Data: []byte("notes")},
	}))
}
