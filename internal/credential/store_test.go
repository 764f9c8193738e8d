package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	t.Cleanup(s.Close)
	return s
}

func writeAccounts(t *testing.T, path string, records []map[string]any) {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	creds, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, creds)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	creds, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, creds)
}

func TestStoreLoadAssignsProjectID(t *testing.T) {
	s := newTestStore(t)
	writeAccounts(t, s.Path(), []map[string]any{
		{"refresh_token": "rt-alpha-000"},
		{"refresh_token": "rt-beta-1111", "project_id": "useful-fuze-ab12c"},
	})

	creds, err := s.Load()
	require.NoError(t, err)
	require.Len(t, creds, 2)

	idPattern := regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9a-z]{5}$`)
	require.Regexp(t, idPattern, creds[0].ProjectID)
	require.Equal(t, "useful-fuze-ab12c", creds[1].ProjectID)

	// The generated id was written back.
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var onDisk []Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, creds[0].ProjectID, onDisk[0].ProjectID)

	// A second load sees the same id.
	again, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, creds[0].ProjectID, again[0].ProjectID)
}

func TestStoreLoadAssignsSessionIDs(t *testing.T) {
	s := newTestStore(t)
	writeAccounts(t, s.Path(), []map[string]any{
		{"refresh_token": "rt-alpha-000"},
	})

	creds, err := s.Load()
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Negative(t, creds[0].SessionID)
	require.LessOrEqual(t, -creds[0].SessionID, int64(9_000_000_000_000_000_000))

	// Session ids are process-local and never persisted.
	require.NoError(t, s.SaveAll(creds))
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.NotContains(t, string(data), "session_id")
}

func TestStoreSaveAllPreservesDiskOnlyRecords(t *testing.T) {
	s := newTestStore(t)
	writeAccounts(t, s.Path(), []map[string]any{
		{"refresh_token": "rt-alpha-000", "project_id": "calm-atlas-00000"},
		{"refresh_token": "rt-gamma-222", "project_id": "calm-atlas-11111"},
	})

	creds, err := s.Load()
	require.NoError(t, err)

	// Drop the second credential from memory, then save the first.
	require.NoError(t, s.SaveAll(creds[:1]))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var onDisk []Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 2)

	tokens := []string{onDisk[0].RefreshToken, onDisk[1].RefreshToken}
	require.Contains(t, tokens, "rt-gamma-222")
}

func TestStoreRoundTripsUnknownKeys(t *testing.T) {
	s := newTestStore(t)
	writeAccounts(t, s.Path(), []map[string]any{
		{"refresh_token": "rt-alpha-000", "project_id": "calm-atlas-00000", "custom_note": "keep me"},
	})

	creds, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.SaveAll(creds))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), "keep me")
}

func TestStoreSkipsRecordsWithoutRefreshToken(t *testing.T) {
	s := newTestStore(t)
	writeAccounts(t, s.Path(), []map[string]any{
		{"project_id": "calm-atlas-00000"},
		{"refresh_token": "rt-alpha-000"},
	})

	creds, err := s.Load()
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, "rt-alpha-000", creds[0].RefreshToken)
}
