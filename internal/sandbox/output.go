package sandbox

import (
	"bytes"
	"fmt"
	"strings"
)

// outputTruncatedMsg is appended when output exceeds the limit.
const outputTruncatedMsg = "\n... output truncated ..."

// limitedBuffer is a bytes.Buffer that stops accepting writes after a limit.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (lb *limitedBuffer) Write(p []byte) (n int, err error) {
	if lb.truncated {
		return len(p), nil // discard silently
	}

	remaining := lb.limit - lb.buf.Len()
	if remaining <= 0 {
		lb.truncated = true
		return len(p), nil
	}

	if len(p) > remaining {
		lb.truncated = true
		lb.buf.Write(p[:remaining])
		return len(p), nil
	}

	return lb.buf.Write(p)
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}

// stripControl removes C0 and C1 control characters except tab, newline and
// carriage return.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r >= 0x7f && r <= 0x9f:
			return -1
		}
		return r
	}, s)
}

// classify splits the combined log by exit code: a clean exit is stdout,
// anything else is stderr.
func classify(logs string, truncated bool, exitCode int) (stdout, stderr string) {
	out := stripControl(logs)
	if truncated {
		out += outputTruncatedMsg
	}

	if exitCode == 0 {
		return out, ""
	}
	if out == "" {
		if isOOMKill(exitCode) {
			return "", fmt.Sprintf("Process was killed (exit code %d); the memory limit may have been exceeded", exitCode)
		}
		return "", fmt.Sprintf("Process exited with code %d", exitCode)
	}
	return "", out
}

// isOOMKill reports whether the exit code is 128+SIGKILL, which is what the
// kernel OOM killer leaves behind inside a memory-capped container.
func isOOMKill(exitCode int) bool {
	return exitCode == 137
}
