package detection

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"lintas/internal/counting"
)

const (
	// readyTimeout bounds how long the worker may take to load its model
	// and send the ready message.
	readyTimeout = 30 * time.Second
	// trackTimeout bounds one inference round trip.
	trackTimeout = 15 * time.Second
	// writeTimeout bounds a stdin write to catch a hung worker.
	writeTimeout = 2 * time.Second
	// stopGrace is how long Stop waits for a clean exit before killing.
	stopGrace = 2 * time.Second
	// maxMessageSize rejects corrupt length prefixes before allocating.
	maxMessageSize = 64 << 20
)

// ErrTrackerBroken is returned once a round trip has timed out; the
// stdout stream can no longer be trusted to be frame-aligned.
var ErrTrackerBroken = errors.New("python tracker stream broken")

// PythonTracker runs the detector/tracker pair in a managed Python
// subprocess. Messages are exchanged over stdin/stdout as msgpack with
// a 4-byte big-endian length prefix, one request and one response per
// frame.
type PythonTracker struct {
	python     string
	script     string
	model      string
	confidence float64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// reqMu serializes round trips so responses stay frame-aligned.
	reqMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
	broken atomic.Bool
}

// PythonTrackerConfig holds configuration for the subprocess oracle.
type PythonTrackerConfig struct {
	// Python is the interpreter to run, defaults to python3.
	Python string
	// Script is the path to the worker script.
	Script string
	// Model is the path to the model weights handed to the script.
	Model string
	// Confidence is the launch-time default threshold; the per-frame
	// threshold is still sent with every request.
	Confidence float64
}

type pyRequest struct {
	Frame         []byte  `msgpack:"frame_data"`
	ConfThreshold float64 `msgpack:"conf_threshold"`
	Annotate      bool    `msgpack:"annotate"`
}

type pyDetection struct {
	TrackID    int       `msgpack:"track_id"`
	Class      string    `msgpack:"class"`
	Confidence float64   `msgpack:"confidence"`
	BBox       []float64 `msgpack:"bbox"`
}

type pyResponse struct {
	Status      string        `msgpack:"status"`
	Error       string        `msgpack:"error"`
	Detections  []pyDetection `msgpack:"detections"`
	Annotated   []byte        `msgpack:"annotated"`
	InferenceMs float64       `msgpack:"inference_ms"`
}

// NewPythonTracker creates a subprocess oracle. The process is not
// started until Start is called.
func NewPythonTracker(cfg PythonTrackerConfig) (*PythonTracker, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("worker script path is required")
	}
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	confidence := cfg.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}
	return &PythonTracker{
		python:     python,
		script:     cfg.Script,
		model:      cfg.Model,
		confidence: confidence,
	}, nil
}

var _ Tracker = (*PythonTracker)(nil)

// Start spawns the worker process and blocks until it reports ready.
func (t *PythonTracker) Start(ctx context.Context) error {
	if t.active.Load() {
		return fmt.Errorf("python tracker already started")
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	args := []string{t.script, "--confidence", fmt.Sprintf("%.2f", t.confidence)}
	if t.model != "" {
		args = append(args, "--model", t.model)
	}
	t.cmd = exec.CommandContext(t.ctx, t.python, args...)

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	t.stdout = stdout

	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	t.stderr = stderr

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start python worker: %w", err)
	}

	log.Printf("[PyTracker] worker spawned pid=%d script=%s", t.cmd.Process.Pid, t.script)

	t.wg.Add(1)
	go t.logStderr()
	t.wg.Add(1)
	go t.waitProcess()

	// Model loading happens before the worker announces itself, so give
	// the handshake its own generous deadline.
	ready, err := t.readMessage(readyTimeout)
	if err != nil {
		t.teardown()
		return fmt.Errorf("worker ready handshake failed: %w", err)
	}
	if ready.Status != "ready" {
		t.teardown()
		if ready.Error != "" {
			return fmt.Errorf("worker failed to initialize: %s", ready.Error)
		}
		return fmt.Errorf("unexpected handshake status %q", ready.Status)
	}

	t.active.Store(true)
	log.Printf("[PyTracker] worker ready pid=%d", t.cmd.Process.Pid)
	return nil
}

// Track sends one frame and waits for its response.
func (t *PythonTracker) Track(frame []byte, confThreshold float64) (*Result, error) {
	if !t.active.Load() {
		return nil, fmt.Errorf("python tracker not started")
	}
	if t.broken.Load() {
		return nil, ErrTrackerBroken
	}

	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	if confThreshold <= 0 {
		confThreshold = t.confidence
	}
	req := pyRequest{Frame: frame, ConfThreshold: confThreshold, Annotate: true}
	if err := t.writeMessage(req); err != nil {
		return nil, err
	}

	resp, err := t.readMessage(trackTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("worker inference failed: %s", resp.Error)
	}

	result := &Result{
		Detections:      make([]counting.Detection, 0, len(resp.Detections)),
		Annotated:       resp.Annotated,
		InferenceTimeMs: resp.InferenceMs,
	}
	for _, d := range resp.Detections {
		if len(d.BBox) != 4 {
			continue
		}
		result.Detections = append(result.Detections, counting.Detection{
			TrackID:    d.TrackID,
			Class:      d.Class,
			Confidence: d.Confidence,
			Box: counting.BBox{
				X1: d.BBox[0], Y1: d.BBox[1],
				X2: d.BBox[2], Y2: d.BBox[3],
			},
		})
	}
	return result, nil
}

// Healthy reports whether the worker process is up and the stream is
// still frame-aligned.
func (t *PythonTracker) Healthy() bool {
	return t.active.Load() && !t.broken.Load()
}

// Stop closes stdin to let the worker exit on EOF, then kills it after
// the grace period. Safe to call more than once.
func (t *PythonTracker) Stop() error {
	if !t.active.CompareAndSwap(true, false) {
		return nil
	}

	log.Printf("[PyTracker] stopping worker pid=%d", t.cmd.Process.Pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		log.Printf("[PyTracker] worker did not exit in %s, killing", stopGrace)
		if t.cmd != nil && t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		<-done
	}

	t.cancel()
	return nil
}

// teardown reaps a worker that failed its handshake.
func (t *PythonTracker) teardown() {
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.cancel()
	t.wg.Wait()
}

// writeMessage frames and writes one request with a timeout so a hung
// worker cannot block the pipeline.
func (t *PythonTracker) writeMessage(v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))

	writeErr := make(chan error, 1)
	go func() {
		if _, err := t.stdin.Write(prefix); err != nil {
			writeErr <- err
			return
		}
		_, err := t.stdin.Write(data)
		writeErr <- err
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to worker: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		t.broken.Store(true)
		return fmt.Errorf("stdin write timed out after %s", writeTimeout)
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}

// readMessage reads one length-prefixed response. On timeout the stream
// is marked broken: a late response would misalign every frame after it.
func (t *PythonTracker) readMessage(timeout time.Duration) (*pyResponse, error) {
	type outcome struct {
		resp *pyResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		prefix := make([]byte, 4)
		if _, err := io.ReadFull(t.stdout, prefix); err != nil {
			done <- outcome{nil, fmt.Errorf("failed to read length prefix: %w", err)}
			return
		}
		length := binary.BigEndian.Uint32(prefix)
		if length > maxMessageSize {
			done <- outcome{nil, fmt.Errorf("oversized worker message (%d bytes)", length)}
			return
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(t.stdout, buf); err != nil {
			done <- outcome{nil, fmt.Errorf("failed to read message body: %w", err)}
			return
		}
		var resp pyResponse
		if err := msgpack.Unmarshal(buf, &resp); err != nil {
			done <- outcome{nil, fmt.Errorf("failed to decode worker message: %w", err)}
			return
		}
		done <- outcome{&resp, nil}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-time.After(timeout):
		t.broken.Store(true)
		return nil, fmt.Errorf("worker response timed out after %s", timeout)
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	}
}

// logStderr forwards the worker's stderr, mapping its log levels onto
// ours.
func (t *PythonTracker) logStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			log.Printf("[PyTracker] worker error: %s", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			log.Printf("[PyTracker] worker warning: %s", line)
		}
	}
}

// waitProcess reaps the worker to avoid zombies and logs unexpected
// exits.
func (t *PythonTracker) waitProcess() {
	defer t.wg.Done()

	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	err := t.cmd.Wait()
	if err == nil {
		log.Printf("[PyTracker] worker exited cleanly pid=%d", t.cmd.Process.Pid)
		return
	}
	select {
	case <-t.ctx.Done():
	default:
		if t.active.Load() {
			log.Printf("[PyTracker] worker exited unexpectedly pid=%d: %v", t.cmd.Process.Pid, err)
		}
	}
}
