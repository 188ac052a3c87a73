package transcode

import (
	"os"
	"path/filepath"
	"time"
)

// WaitForFile polls until the file at path exists with a non-empty size.
// Returns false on timeout.
func WaitForFile(path string, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// WaitForFileStable polls until the file's size has stopped changing for
// stableFor. Encoders write segments incrementally, so existence alone does
// not mean the segment is complete. Returns false on timeout.
func WaitForFileStable(path string, timeout, stableFor, pollInterval time.Duration) bool {
	var (
		deadline    = time.Now().Add(timeout)
		lastSize    = int64(-1)
		stableSince time.Time
	)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			if info.Size() == lastSize {
				if stableSince.IsZero() {
					stableSince = time.Now()
				} else if time.Since(stableSince) >= stableFor {
					return true
				}
			} else {
				stableSince = time.Time{}
				lastSize = info.Size()
			}
		} else {
			stableSince = time.Time{}
			lastSize = -1
		}
		time.Sleep(pollInterval)
	}
	return false
}

// LargestContiguousSegment scans outputDir for the last segment of the
// first unbroken run of segment files, checking at most limit indices.
// Returns -1 when no segment is found.
func LargestContiguousSegment(outputDir string, limit int) int {
	last := -1
	for i := 0; i < limit; i++ {
		if _, err := os.Stat(filepath.Join(outputDir, SegmentFileName(i))); err == nil {
			last = i
		} else if last >= 0 {
			break
		}
	}
	return last
}

// ContiguousFrom counts the segments present in an unbroken run starting at
// startIndex, checking at most limit indices.
func ContiguousFrom(outputDir string, startIndex, limit int) int {
	count := 0
	for i := startIndex; i < startIndex+limit; i++ {
		if _, err := os.Stat(filepath.Join(outputDir, SegmentFileName(i))); err == nil {
			count = i - startIndex + 1
		} else {
			break
		}
	}
	return count
}
