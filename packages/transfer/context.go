package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// transferContext is the state of one in-flight request.
//
// Ownership contract:
//   - cancelled and resumed are the only fields touched from more than one
//     goroutine; both are atomics.
//   - every other field is written only by the native callbacks of the single
//     blocking Perform call (or the fallback read loop) and read by that same
//     goroutine after it returns. No locking is needed because Perform runs
//     the callbacks sequentially on its own goroutine. This stops holding if
//     transfers are ever multiplexed onto one goroutine.
//   - seal ends the callback phase: it moves the collected state into a
//     transferResult owned by the caller and leaves the context empty.
type transferContext struct {
	taskID    TaskID
	threshold int64
	tempDir   string
	onCancel  func()

	cancelled atomic.Bool
	resumed   atomic.Bool
	done      chan outcome

	// Owned by the transfer goroutine until seal.
	buffer        []byte
	headerLines   []string
	spill         *spillFile
	bytesReceived int64
	writeErr      error
	sealed        bool
}

type outcome struct {
	resp *Response
	err  error
}

type spillFile struct {
	f    *os.File
	path string
	keep bool
}

func newTransferContext(id TaskID, p Policy) *transferContext {
	return &transferContext{
		taskID:    id,
		threshold: p.MemoryThreshold,
		tempDir:   p.tempDir(),
		done:      make(chan outcome, 1),
	}
}

// cancel marks the transfer cancelled. Only the first call has an effect.
func (tc *transferContext) cancel() bool {
	if !tc.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if tc.onCancel != nil {
		tc.onCancel()
	}
	return true
}

func (tc *transferContext) isCancelled() bool {
	return tc.cancelled.Load()
}

// complete delivers the outcome to the waiting caller. Later calls are
// dropped.
func (tc *transferContext) complete(o outcome) bool {
	if !tc.resumed.CompareAndSwap(false, true) {
		return false
	}
	tc.done <- o
	return true
}

// write consumes one body chunk. It returns the number of bytes consumed; a
// short count makes the engine abort the transfer.
func (tc *transferContext) write(p []byte) int {
	if tc.isCancelled() || tc.sealed {
		return 0
	}
	if tc.spill == nil && tc.bytesReceived+int64(len(p)) > tc.threshold {
		if err := tc.startSpill(); err != nil {
			tc.writeErr = err
			return 0
		}
	}
	if tc.spill != nil {
		n, err := tc.spill.f.Write(p)
		tc.bytesReceived += int64(n)
		if err != nil {
			tc.writeErr = fmt.Errorf("write spill file: %w", err)
		}
		return n
	}
	tc.buffer = append(tc.buffer, p...)
	tc.bytesReceived += int64(len(p))
	return len(p)
}

// startSpill moves the buffered body into a new temporary file. From here on
// the buffer is never appended to again.
func (tc *transferContext) startSpill() error {
	f, err := os.CreateTemp(tc.tempDir, "postkit-body-*")
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	tc.spill = &spillFile{f: f, path: f.Name()}
	if len(tc.buffer) > 0 {
		if _, err := f.Write(tc.buffer); err != nil {
			return fmt.Errorf("write spill file: %w", err)
		}
	}
	tc.buffer = nil
	return nil
}

// appendHeader records one non-empty header line, trimmed.
func (tc *transferContext) appendHeader(line []byte) {
	if tc.sealed {
		return
	}
	if s := trimLine(line); s != "" {
		tc.headerLines = append(tc.headerLines, s)
	}
}

// seal ends the callback phase and hands the collected state to the caller.
// Calling it again returns an empty result.
func (tc *transferContext) seal() *transferResult {
	res := &transferResult{
		body:          tc.buffer,
		headerLines:   tc.headerLines,
		spill:         tc.spill,
		bytesReceived: tc.bytesReceived,
		writeErr:      tc.writeErr,
	}
	tc.buffer, tc.headerLines, tc.spill, tc.writeErr = nil, nil, nil, nil
	tc.sealed = true
	return res
}

// transferResult is the caller-owned state of a finished transfer.
type transferResult struct {
	body          []byte
	headerLines   []string
	spill         *spillFile
	bytesReceived int64
	writeErr      error
}

// closeSpill closes the spill file handle, keeping the file on disk.
func (r *transferResult) closeSpill() error {
	if r.spill == nil || r.spill.f == nil {
		return nil
	}
	err := r.spill.f.Close()
	r.spill.f = nil
	return err
}

// handOff marks the spill file as owned by a Response so release keeps it.
func (r *transferResult) handOff() string {
	r.spill.keep = true
	return r.spill.path
}

// release closes the spill file and deletes it unless it was handed off.
func (r *transferResult) release() error {
	if r.spill == nil {
		return nil
	}
	err := r.closeSpill()
	if !r.spill.keep {
		if rmErr := os.Remove(r.spill.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	r.spill = nil
	return err
}
