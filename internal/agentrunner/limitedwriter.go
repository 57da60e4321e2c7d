package agentrunner

import "io"

// maxCaptureBytes bounds how much of a session's stdout/stderr is written to
// its capture file. This is defense-in-depth against a runaway agent CLI
// filling disk with output — the captured stream is opaque and not parsed,
// per spec, so truncation beyond this point loses nothing the scheduler acts on.
const maxCaptureBytes = 64 * 1024 * 1024

// limitedWriter caps total bytes forwarded to an underlying writer, silently
// discarding overflow while still reporting success so exec.Cmd never sees a
// short-write error from a well-behaved child process.
type limitedWriter struct {
	w        io.Writer
	maxBytes int
	written  int
}

func newLimitedWriter(w io.Writer, maxBytes int) *limitedWriter {
	return &limitedWriter{w: w, maxBytes: maxBytes}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := lw.maxBytes - lw.written
	if remaining <= 0 {
		return originalLen, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return originalLen, nil
}
