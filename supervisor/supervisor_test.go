package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/heartbeat"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	require := require.New(t)
	r := NewRunner(heartbeat.NewStore())

	tests := []struct {
		name     string
		state    State
		ahead    int
		since    time.Duration
		expected action
	}{
		{"on pace keeps encoding", StateEncoding, 5, time.Second, actionNone},
		{"just below threshold keeps encoding", StateEncoding, 39, time.Second, actionNone},
		{"far ahead suspends", StateEncoding, 40, time.Second, actionSuspend},
		{"way ahead suspends", StateEncoding, 400, time.Second, actionSuspend},
		{"suspended stays suspended in between", StateSuspended, 25, time.Second, actionNone},
		{"suspended stays suspended at threshold", StateSuspended, 20, time.Second, actionNone},
		{"player caught up resumes", StateSuspended, 19, time.Second, actionResume},
		{"player seeked backwards resumes", StateSuspended, -10, time.Second, actionResume},
		{"stale heartbeat kills while encoding", StateEncoding, 5, 601 * time.Second, actionKill},
		{"stale heartbeat kills while suspended", StateSuspended, 100, 601 * time.Second, actionKill},
	}
	for _, tt := range tests {
		require.Equal(tt.expected, r.decide(tt.state, tt.ahead, tt.since), tt.name)
	}
}

func TestRunSkipsWhenStartSegmentExists(t *testing.T) {
	require := require.New(t)
	outputDir := t.TempDir()
	require.NoError(os.WriteFile(filepath.Join(outputDir, "segment_003.mp4"), []byte("data"), 0644))

	built := false
	r := NewRunner(heartbeat.NewStore())
	r.BuildCommand = func(Job) *exec.Cmd {
		built = true
		return exec.Command("true")
	}

	err := r.Run(context.Background(), Job{
		RequestID:    "req-1",
		OutputDir:    outputDir,
		StartSegment: "segment_003.mp4",
	})
	require.NoError(err)
	require.False(built)
}

func TestRunReportsEncoderFailure(t *testing.T) {
	require := require.New(t)
	outputDir := filepath.Join(t.TempDir(), "720p")
	hb := heartbeat.NewStore()
	hb.Set(12, "720p", 0)

	r := NewRunner(hb)
	r.PollInterval = 10 * time.Millisecond
	r.BuildCommand = func(Job) *exec.Cmd { return exec.Command("false") }

	err := r.Run(context.Background(), Job{
		RequestID:    "req-1",
		VideoID:      12,
		Resolution:   "720p",
		WorkerID:     "usr_720p_video12_720p",
		OutputDir:    outputDir,
		StartSegment: "segment_000.mp4",
	})
	var encodeErr apiErrs.EncodeError
	require.ErrorAs(err, &encodeErr)
	require.Equal(1, encodeErr.ExitCode)

	// lock and heartbeat are cleaned up on failure too
	require.NoFileExists(filepath.Join(outputDir, transcode.ContinuousLockName))
	_, found := hb.Get(12, "720p")
	require.False(found)
}

func TestRunFinishesWithEncoder(t *testing.T) {
	require := require.New(t)
	outputDir := filepath.Join(t.TempDir(), "720p")

	r := NewRunner(heartbeat.NewStore())
	r.PollInterval = 10 * time.Millisecond
	r.BuildCommand = func(Job) *exec.Cmd { return exec.Command("true") }

	err := r.Run(context.Background(), Job{
		RequestID:    "req-1",
		VideoID:      12,
		Resolution:   "720p",
		OutputDir:    outputDir,
		StartSegment: "segment_000.mp4",
	})
	require.NoError(err)
	require.NoFileExists(filepath.Join(outputDir, transcode.ContinuousLockName))
}

func TestRunKillsInactiveEncoder(t *testing.T) {
	require := require.New(t)
	outputDir := filepath.Join(t.TempDir(), "720p")
	hb := heartbeat.NewStore()
	hb.Set(12, "720p", 0)

	r := NewRunner(hb)
	r.PollInterval = 10 * time.Millisecond
	r.InactivityTimeout = 50 * time.Millisecond
	r.BuildCommand = func(Job) *exec.Cmd { return exec.Command("sleep", "60") }

	start := time.Now()
	err := r.Run(context.Background(), Job{
		RequestID:    "req-1",
		VideoID:      12,
		Resolution:   "720p",
		WorkerID:     "usr_720p_video12_720p",
		OutputDir:    outputDir,
		StartSegment: "segment_000.mp4",
	})
	require.ErrorIs(err, apiErrs.ErrInactiveTimeout)
	require.Less(time.Since(start), 10*time.Second, "should not wait for the encoder to finish")

	require.NoFileExists(filepath.Join(outputDir, transcode.ContinuousLockName))
	_, found := hb.Get(12, "720p")
	require.False(found)
}

func TestRunSuspendsAndResumesEncoder(t *testing.T) {
	require := require.New(t)
	outputDir := filepath.Join(t.TempDir(), "720p")
	hb := heartbeat.NewStore()
	hb.Set(12, "720p", 0)

	r := NewRunner(hb)
	r.PollInterval = 10 * time.Millisecond
	r.BuildCommand = func(Job) *exec.Cmd { return exec.Command("sleep", "60") }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx, Job{
			RequestID:    "req-1",
			VideoID:      12,
			Resolution:   "720p",
			WorkerID:     "usr_720p_video12_720p",
			OutputDir:    outputDir,
			StartSegment: "segment_000.mp4",
		})
	}()

	// wait for the encoder to come up and record its pid
	descriptorPath := filepath.Join(outputDir, transcode.ContinuousLockName)
	var descriptor locks.Descriptor
	require.Eventually(func() bool {
		var err error
		descriptor, err = locks.ReadDescriptor(descriptorPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal("usr_720p_video12_720p", descriptor.WorkerID)

	// encoder races 45 segments ahead of a player still on segment 0
	for i := 0; i < 45; i++ {
		require.NoError(os.WriteFile(filepath.Join(outputDir, transcode.SegmentFileName(i)), []byte("data"), 0644))
	}
	require.Eventually(func() bool {
		return processStopped(descriptor.Pid)
	}, 5*time.Second, 10*time.Millisecond, "encoder should be suspended")

	// player catches up, encoder is woken again
	hb.Set(12, "720p", 30)
	require.Eventually(func() bool {
		return !processStopped(descriptor.Pid)
	}, 5*time.Second, 10*time.Millisecond, "encoder should be resumed")

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.Fail("runner did not exit after cancellation")
	}
	require.NoFileExists(descriptorPath)
}

func processStopped(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := proc.Status()
	if err != nil {
		return false
	}
	for _, status := range statuses {
		if status == process.Stop {
			return true
		}
	}
	return false
}
