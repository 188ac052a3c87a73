package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testJobInfo struct {
	WorkerID string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testJobInfo]()
	c.Store(
		"7_720p",
		testJobInfo{
			WorkerID: "alice_720p",
		},
	)
	require.Equal(t, "alice_720p", c.Get("7_720p").WorkerID)
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testJobInfo]()
	c.Store(
		"7_720p",
		testJobInfo{
			WorkerID: "alice_720p",
		},
	)
	require.Equal(t, "alice_720p", c.Get("7_720p").WorkerID)

	c.Remove("7_720p")
	require.Equal(t, "", c.Get("7_720p").WorkerID)
}

func TestLoadOrStore(t *testing.T) {
	c := New[testJobInfo]()

	actual, loaded := c.LoadOrStore("7_720p", testJobInfo{WorkerID: "alice_720p"})
	require.False(t, loaded)
	require.Equal(t, "alice_720p", actual.WorkerID)

	actual, loaded = c.LoadOrStore("7_720p", testJobInfo{WorkerID: "bob_720p"})
	require.True(t, loaded)
	require.Equal(t, "alice_720p", actual.WorkerID)
}
