// Package locks serializes writers on encoder output directories. The
// persistent mechanism is an advisory lockfile on the shared filesystem,
// fronted by an in-process registry so that handlers in the same process
// do not race each other on file creation.
package locks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/streamplex/transcode-api/cache"
	"github.com/streamplex/transcode-api/log"
)

type heldLock struct {
	Path string
}

type Registry struct {
	held *cache.Cache[heldLock]
}

func NewRegistry() *Registry {
	return &Registry{
		held: cache.New[heldLock](),
	}
}

// TryAcquire takes the lockfile at path, creating parent directories as
// needed. It returns true only when this call created the file. A lockfile
// whose owner pid is no longer alive is treated as stale and stolen.
func (r *Registry) TryAcquire(path string) bool {
	if _, loaded := r.held.LoadOrStore(path, heldLock{Path: path}); loaded {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.held.Remove(path)
		return false
	}
	if createLockfile(path) {
		return true
	}
	if isStale(path) {
		log.LogNoRequestID("stealing stale lockfile", "path", path)
		if err := os.Remove(path); err == nil && createLockfile(path) {
			return true
		}
	}
	r.held.Remove(path)
	return false
}

// Release removes the lockfile, ignoring absence.
func (r *Registry) Release(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogNoRequestID("failed to remove lockfile", "path", path, "err", err)
	}
	r.held.Remove(path)
}

func createLockfile(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return false
	}
	return true
}

// isStale reports whether the lockfile names an owner pid that is no longer
// running. Unparseable content is treated as held, never stolen.
func isStale(path string) bool {
	contents, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return false
	}
	if pid == os.Getpid() {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !alive
}

// Descriptor identifies a running continuous encoder. It is written next to
// the encoder's output as continuous.lock so that other processes can find
// and signal it.
type Descriptor struct {
	Pid      int    `json:"pid"`
	WorkerID string `json:"worker_id"`
}

// WriteDescriptor persists the descriptor atomically via rename so readers
// never observe a partial write.
func WriteDescriptor(path string, d Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	contents, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(contents, &d); err != nil {
		return d, err
	}
	return d, nil
}

// RemoveDescriptor deletes the descriptor file, ignoring absence.
func RemoveDescriptor(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogNoRequestID("failed to remove descriptor", "path", path, "err", err)
	}
}
