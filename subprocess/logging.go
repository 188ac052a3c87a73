// Package subprocess forwards encoder process output onto the service's own
// streams. Continuous encoders run for minutes and their output interleaves,
// so every line carries the worker it came from.
package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/streamplex/transcode-api/log"
)

// ffmpeg writes whole progress lines; 1 MiB covers even its filter dumps.
const maxLineSize = 1024 * 1024

func forwardLines(src io.Reader, out io.Writer, tag string) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		fmt.Fprintf(out, "[%s] %s\n", tag, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.LogNoRequestID("encoder output stream closed uncleanly", "tag", tag, "err", err)
	}
}

// LogOutputs forwards cmd's stdout and stderr to ours, each line prefixed
// with tag. Must be called before cmd starts.
func LogOutputs(cmd *exec.Cmd, tag string) error {
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	go forwardLines(stderrPipe, os.Stderr, tag)
	go forwardLines(stdoutPipe, os.Stdout, tag)
	return nil
}
