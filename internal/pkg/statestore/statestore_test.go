package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.yaml"))
}

// TestGetMissingFile verifies a store with no backing file yields empty
// sections, never an error.
func TestGetMissingFile(t *testing.T) {
	s := tempStore(t)

	sec, err := s.Get(SectionToken)
	require.NoError(t, err)
	assert.Empty(t, sec)
}

// TestSetAndGet verifies a round trip through the yaml document.
func TestSetAndGet(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.Set(SectionToken, Section{"access": "abc", "refresh": "def"}))

	sec, err := s.Get(SectionToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", sec["access"])
	assert.Equal(t, "def", sec["refresh"])
}

// TestSetMergesPartial verifies Set overlays the partial section instead
// of replacing it.
func TestSetMergesPartial(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.Set(SectionDeviceHub, Section{"url": "wss://a", "token": "t1"}))
	require.NoError(t, s.Set(SectionDeviceHub, Section{"token": "t2"}))

	sec, err := s.Get(SectionDeviceHub)
	require.NoError(t, err)
	assert.Equal(t, "wss://a", sec["url"])
	assert.Equal(t, "t2", sec["token"])
}

// TestSectionsIndependent verifies writes to one section leave the others
// alone.
func TestSectionsIndependent(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.Set(SectionDeviceHub, Section{"token": "dev"}))
	require.NoError(t, s.Set(SectionChallengeHub, Section{"token": "chal"}))

	dev, err := s.Get(SectionDeviceHub)
	require.NoError(t, err)
	chal, err := s.Get(SectionChallengeHub)
	require.NoError(t, err)

	assert.Equal(t, "dev", dev["token"])
	assert.Equal(t, "chal", chal["token"])
}

// TestCorruptFileResets verifies an unparseable state file is treated as
// empty instead of wedging the client.
func TestCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0600))
	s := New(path)

	sec, err := s.Get(SectionToken)
	require.NoError(t, err)
	assert.Empty(t, sec)

	require.NoError(t, s.Set(SectionToken, Section{"access": "abc"}))
	sec, err = s.Get(SectionToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", sec["access"])
}
