package locks

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "out", "lockfile.lock")

	reg := NewRegistry()
	require.True(reg.TryAcquire(path), "first acquire should succeed")
	require.False(reg.TryAcquire(path), "second acquire should fail while held")

	contents, err := os.ReadFile(path)
	require.NoError(err)
	require.Equal(strconv.Itoa(os.Getpid()), string(contents))

	reg.Release(path)
	require.True(reg.TryAcquire(path), "acquire should succeed after release")
	reg.Release(path)
	_, err = os.Stat(path)
	require.True(os.IsNotExist(err))
}

func TestReleaseIgnoresAbsence(t *testing.T) {
	reg := NewRegistry()
	reg.Release(filepath.Join(t.TempDir(), "never-created.lock"))
}

func TestStaleLockfileIsStolen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "lockfile.lock")

	// A pid far beyond pid_max cannot belong to a live process
	require.NoError(os.WriteFile(path, []byte("99999999"), 0644))

	reg := NewRegistry()
	require.True(reg.TryAcquire(path), "dead owner pid should be stolen")

	contents, err := os.ReadFile(path)
	require.NoError(err)
	require.Equal(strconv.Itoa(os.Getpid()), string(contents))
}

func TestUnparseableLockfileIsNotStolen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "lockfile.lock")
	require.NoError(os.WriteFile(path, []byte("not-a-pid"), 0644))

	reg := NewRegistry()
	require.False(reg.TryAcquire(path))
}

func TestDescriptorRoundTrip(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "continuous.lock")

	written := Descriptor{Pid: 4242, WorkerID: "alice_720p_video7_720p"}
	require.NoError(WriteDescriptor(path, written))

	read, err := ReadDescriptor(path)
	require.NoError(err)
	require.Equal(written, read)

	// No tmp file left behind by the atomic write
	_, err = os.Stat(path + ".tmp")
	require.True(os.IsNotExist(err))

	RemoveDescriptor(path)
	_, err = os.Stat(path)
	require.True(os.IsNotExist(err))
	RemoveDescriptor(path)
}
