// Package bridge relays newline-delimited JSON-RPC frames between callers
// and a compute unit's standard streams, surviving transient stream drops.
package bridge

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// maxFrameSize bounds a single JSON-RPC frame on the wire.
const maxFrameSize = 4 * 1024 * 1024

// session owns one set of attached streams. Writes are serialized through a
// mutex; stdout is read by a framing loop and stderr drained as diagnostics.
type session struct {
	streams backend.AttachStreams

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newSession(streams backend.AttachStreams) *session {
	return &session{streams: streams}
}

// send writes one frame to the unit's stdin. Concurrent senders never
// interleave bytes.
func (s *session) send(msg *protocol.Message) error {
	if s.closed.Load() {
		return errors.NewStreamError("session is closed", nil)
	}

	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to encode frame: %v", err), err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.streams.Stdin.Write(frame); err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to write frame: %v", err), err)
	}
	return nil
}

// readFrames scans stdout line by line, forwarding valid frames and
// dropping malformed ones. It returns the terminal read error, io.EOF
// included, once the stream ends or quit closes.
func (s *session) readFrames(out chan<- *protocol.Message, quit <-chan struct{}) error {
	scanner := bufio.NewScanner(s.streams.Stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.DecodeFrame(line)
		if err != nil {
			// A bad frame is the server's bug, not a session-fatal event.
			logger.Warnw("dropping malformed frame", "error", err, "bytes", len(line))
			continue
		}
		select {
		case out <- msg:
		case <-quit:
			return io.EOF
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// drainStderr logs the unit's stderr lines as diagnostics. Stderr never
// carries protocol frames.
func (s *session) drainStderr() {
	if s.streams.Stderr == nil {
		return
	}
	scanner := bufio.NewScanner(s.streams.Stderr)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			logger.Debugw("server stderr", "line", line)
		}
	}
}

func (s *session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.streams.Stdin != nil {
		s.streams.Stdin.Close()
	}
	if s.streams.Stdout != nil {
		s.streams.Stdout.Close()
	}
	if s.streams.Stderr != nil {
		s.streams.Stderr.Close()
	}
}
