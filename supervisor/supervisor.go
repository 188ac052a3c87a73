// Package supervisor runs continuous segment encoders and throttles them
// against playback position. An encoder left alone would race through the
// whole source; the supervisor suspends it once it is far enough ahead of
// the player's heartbeat and resumes it when playback catches up, so seeks
// stay fast without burning CPU on segments nobody may watch.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/heartbeat"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/subprocess"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

type State int

const (
	StateIdle State = iota
	StateEncoding
	StateSuspended
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEncoding:
		return "encoding"
	case StateSuspended:
		return "suspended"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

type action int

const (
	actionNone action = iota
	actionSuspend
	actionResume
	actionKill
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultSuspendAhead      = 40
	DefaultResumeAhead       = 20
	DefaultInactivityTimeout = 600 * time.Second

	// maxSegmentScan bounds the directory scan for contiguous segments.
	maxSegmentScan = 1000
)

// Job describes one supervised encode session against a single output
// directory.
type Job struct {
	RequestID    string
	VideoID      int64
	Resolution   string
	WorkerID     string
	SourcePath   string
	OutputDir    string
	StartSegment string
	Params       video.EncodeParams
}

// Runner supervises continuous encoders. Zero tunables fall back to the
// defaults above.
type Runner struct {
	Heartbeats        *heartbeat.Store
	PollInterval      time.Duration
	SuspendAhead      int
	ResumeAhead       int
	InactivityTimeout time.Duration

	// BuildCommand compiles the encoder invocation for a job. Swapped out
	// by tests.
	BuildCommand func(job Job) *exec.Cmd
}

func NewRunner(heartbeats *heartbeat.Store) *Runner {
	return &Runner{
		Heartbeats:        heartbeats,
		PollInterval:      DefaultPollInterval,
		SuspendAhead:      DefaultSuspendAhead,
		ResumeAhead:       DefaultResumeAhead,
		InactivityTimeout: DefaultInactivityTimeout,
	}
}

// Run starts the encoder for job and supervises it until it finishes the
// source, goes inactive, fails, or ctx is cancelled. It owns the
// continuous.lock descriptor and the heartbeat entry for the output
// directory and clears both on every exit path.
func (r *Runner) Run(ctx context.Context, job Job) error {
	startIndex, err := transcode.ParseSegmentIndex(job.StartSegment)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(job.OutputDir, job.StartSegment)); err == nil {
		log.Log(job.RequestID, "start segment already encoded, nothing to do", "segment", job.StartSegment, "output_dir", job.OutputDir)
		return nil
	}
	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := r.buildCommand(job, startIndex)
	// The encoder gets its own process group so a forced kill takes any
	// children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := subprocess.LogOutputs(cmd, job.WorkerID); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start continuous encoder: %w", err)
	}

	descriptorPath := filepath.Join(job.OutputDir, transcode.ContinuousLockName)
	descriptor := locks.Descriptor{Pid: cmd.Process.Pid, WorkerID: job.WorkerID}
	if err := locks.WriteDescriptor(descriptorPath, descriptor); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("failed to write continuous lock: %w", err)
	}
	log.Log(job.RequestID, "continuous encoder started", "pid", cmd.Process.Pid, "worker_id", job.WorkerID, "start_segment", job.StartSegment)

	w := &worker{job: job, startIndex: startIndex, cmd: cmd, state: StateEncoding}
	if proc, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		w.proc = proc
	}

	metrics.Metrics.ContinuousWorkersRunning.Inc()
	defer func() {
		metrics.Metrics.ContinuousWorkersRunning.Dec()
		locks.RemoveDescriptor(descriptorPath)
		r.Heartbeats.Clear(job.VideoID, job.Resolution)
	}()

	return r.supervise(ctx, w)
}

func (r *Runner) buildCommand(job Job, startIndex int) *exec.Cmd {
	if r.BuildCommand != nil {
		return r.BuildCommand(job)
	}
	return transcode.ContinuousCommand(job.SourcePath, job.OutputDir, startIndex, job.Params)
}

func (r *Runner) supervise(ctx context.Context, w *worker) error {
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			w.transitionTo(StateIdle)
			if err != nil {
				return encodeError(err)
			}
			log.Log(w.job.RequestID, "continuous encoder finished source", "worker_id", w.job.WorkerID)
			return nil
		case <-ctx.Done():
			w.transitionTo(StateCancelling)
			w.terminate()
			<-done
			return ctx.Err()
		case <-ticker.C:
			entry, ok := r.Heartbeats.Get(w.job.VideoID, w.job.Resolution)
			if !ok {
				continue
			}
			encoded := transcode.ContiguousFrom(w.job.OutputDir, w.startIndex, maxSegmentScan)
			ahead := w.startIndex + encoded - 1 - entry.Segment
			switch r.decide(w.currentState(), ahead, time.Since(entry.TS)) {
			case actionKill:
				w.transitionTo(StateCancelling)
				metrics.Metrics.ContinuousKillCount.WithLabelValues("inactivity").Inc()
				log.Log(w.job.RequestID, "killing continuous encoder, no heartbeat", "worker_id", w.job.WorkerID, "last_heartbeat", entry.TS)
				w.terminate()
				<-done
				return apiErrs.ErrInactiveTimeout
			case actionSuspend:
				w.suspend()
			case actionResume:
				w.resume()
			}
		}
	}
}

// decide maps one observation of the worker to the throttling action. The
// suspend threshold sits well above the resume threshold so the encoder does
// not flap around a single boundary.
func (r *Runner) decide(state State, ahead int, sinceHeartbeat time.Duration) action {
	if sinceHeartbeat > r.inactivityTimeout() {
		return actionKill
	}
	switch state {
	case StateEncoding:
		if ahead >= r.suspendAhead() {
			return actionSuspend
		}
	case StateSuspended:
		if ahead < r.resumeAhead() {
			return actionResume
		}
	}
	return actionNone
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

func (r *Runner) suspendAhead() int {
	if r.SuspendAhead > 0 {
		return r.SuspendAhead
	}
	return DefaultSuspendAhead
}

func (r *Runner) resumeAhead() int {
	if r.ResumeAhead > 0 {
		return r.ResumeAhead
	}
	return DefaultResumeAhead
}

func (r *Runner) inactivityTimeout() time.Duration {
	if r.InactivityTimeout > 0 {
		return r.InactivityTimeout
	}
	return DefaultInactivityTimeout
}

// worker tracks the state of one running encoder process.
type worker struct {
	job        Job
	startIndex int
	cmd        *exec.Cmd
	proc       *process.Process

	mutex sync.Mutex
	state State
}

func (w *worker) currentState() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

func (w *worker) transitionTo(state State) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.state == state {
		return
	}
	log.Log(w.job.RequestID, "continuous encoder state change", "worker_id", w.job.WorkerID, "from", w.state, "to", state)
	w.state = state
}

func (w *worker) suspend() {
	if w.proc == nil {
		return
	}
	if err := w.proc.Suspend(); err != nil {
		log.LogError(w.job.RequestID, "failed to suspend continuous encoder", err, "pid", w.proc.Pid)
		return
	}
	metrics.Metrics.ContinuousSuspendCount.Inc()
	w.transitionTo(StateSuspended)
}

func (w *worker) resume() {
	if w.proc == nil {
		return
	}
	if err := w.proc.Resume(); err != nil {
		log.LogError(w.job.RequestID, "failed to resume continuous encoder", err, "pid", w.proc.Pid)
		return
	}
	metrics.Metrics.ContinuousResumeCount.Inc()
	w.transitionTo(StateEncoding)
}

// terminate force-kills the encoder's process group, resuming it first in
// case it is currently stopped.
func (w *worker) terminate() {
	if w.proc != nil {
		_ = w.proc.Resume()
	}
	if w.cmd.Process != nil {
		_ = syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
	}
}

func encodeError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return apiErrs.NewEncodeError(exitErr.ExitCode(), "")
	}
	return err
}
