package drm

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RequestJoinSucceeds(t *testing.T) {
	var closed []string
	cb := CDMCallbacks{
		OpenSession:  func(pssh []byte) (string, error) { return "sess-1", nil },
		FetchLicense: func(sessionID string, pssh []byte) error { return nil },
		CloseSession: func(sessionID string) { closed = append(closed, sessionID) },
	}
	m := New(cb, nil)

	pssh := []byte{1, 2, 3}
	m.Request(pssh)
	ok := m.Join(pssh)
	assert.True(t, ok)

	m.Close()
	assert.Equal(t, []string{"sess-1"}, closed)
}

func TestManager_RequestDeduplicatesInFlight(t *testing.T) {
	var openCalls int32
	var mu sync.Mutex
	block := make(chan struct{})
	cb := CDMCallbacks{
		OpenSession: func(pssh []byte) (string, error) {
			mu.Lock()
			openCalls++
			mu.Unlock()
			<-block
			return "sess", nil
		},
		FetchLicense: func(string, []byte) error { return nil },
	}
	m := New(cb, nil)

	pssh := []byte{9, 9}
	m.Request(pssh)
	m.Request(pssh) // should be a no-op, same pssh already in flight

	close(block)
	m.Join(pssh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), openCalls)
}

func TestManager_JoinFailsOnFetchLicenseError(t *testing.T) {
	var closeCalled bool
	cb := CDMCallbacks{
		OpenSession:  func([]byte) (string, error) { return "sess", nil },
		FetchLicense: func(string, []byte) error { return errors.New("license denied") },
		CloseSession: func(string) { closeCalled = true },
	}
	m := New(cb, nil)

	pssh := []byte{4, 5}
	m.Request(pssh)
	ok := m.Join(pssh)
	assert.False(t, ok)

	m.Close()
	assert.True(t, closeCalled)
}

func TestManager_JoinFailsOnOpenSessionError(t *testing.T) {
	cb := CDMCallbacks{
		OpenSession: func([]byte) (string, error) { return "", errors.New("cdm unavailable") },
	}
	m := New(cb, nil)

	pssh := []byte{7}
	m.Request(pssh)
	assert.False(t, m.Join(pssh))
}

func TestManager_JoinUnknownPSSHReturnsFalse(t *testing.T) {
	m := New(CDMCallbacks{}, nil)
	assert.False(t, m.Join([]byte{1}))
}

func TestManager_CloseOnlyClosesOpenedSessions(t *testing.T) {
	var closeCount int
	cb := CDMCallbacks{
		OpenSession:  func([]byte) (string, error) { return "", errors.New("fail") },
		CloseSession: func(string) { closeCount++ },
	}
	m := New(cb, nil)
	m.Request([]byte{1})
	m.Join([]byte{1})
	m.Close()
	require.Equal(t, 0, closeCount)
}
