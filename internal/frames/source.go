// Package frames captures JPEG frames from the configured video device
// and hands them to the pipeline. Files, RTSP and HTTP streams go
// through an ffmpeg subprocess emitting an MJPEG pipe; HTTP still-image
// endpoints are polled directly.
package frames

import (
	"bufio"
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured frame with its decoded dimensions.
type Frame struct {
	Data      []byte
	Seq       uint64
	Width     int
	Height    int
	Timestamp time.Time
}

// Stats describes capture progress. Returned by value.
type Stats struct {
	FramesCaptured uint64
	BadFrames      uint64
	LastFrameUnix  int64
}

// Config selects and shapes the capture device.
type Config struct {
	// Device is a video file path, an rtsp:// or http(s):// URL, or a
	// /dev/video* V4L2 device.
	Device string
	// FPS caps the capture rate where the device type supports it.
	FPS int
	// Width and Height are only used to configure V4L2 capture; actual
	// frame dimensions are read from each JPEG.
	Width  int
	Height int
}

// Source captures frames from one device and delivers them to a
// callback on the capture goroutine.
type Source struct {
	cfg     Config
	onFrame func(Frame)

	running  atomic.Bool
	stopCh   chan struct{}
	cmd      *exec.Cmd
	frameSeq atomic.Uint64

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a source. Frames are delivered to onFrame sequentially.
func New(cfg Config, onFrame func(Frame)) *Source {
	return &Source{
		cfg:     cfg,
		onFrame: onFrame,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the capture loop.
func (s *Source) Start() error {
	if s.cfg.Device == "" {
		return fmt.Errorf("capture device is required")
	}
	if s.running.Load() {
		return fmt.Errorf("capture already running")
	}

	go s.run()

	log.Printf("[FrameSource] started capture (device: %s, fps: %d)", s.cfg.Device, s.cfg.FPS)
	return nil
}

// Stop terminates the capture loop and the ffmpeg process.
func (s *Source) Stop() {
	select {
	case <-s.stopCh:
		return
	default:
	}
	close(s.stopCh)

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}

	log.Printf("[FrameSource] stopped capture")
}

// Running reports whether the capture loop is active.
func (s *Source) Running() bool {
	return s.running.Load()
}

// GetStats returns a copy of the capture stats.
func (s *Source) GetStats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *Source) run() {
	s.running.Store(true)
	defer s.running.Store(false)

	if isHTTPImageEndpoint(s.cfg.Device) {
		s.captureHTTPImages()
		return
	}
	s.captureFFmpeg()
}

// isHTTPImageEndpoint reports whether the device is a still-image URL
// to poll rather than a stream to demux.
func isHTTPImageEndpoint(device string) bool {
	if !strings.HasPrefix(device, "http://") && !strings.HasPrefix(device, "https://") {
		return false
	}
	return strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image")
}

func (s *Source) captureHTTPImages() {
	client := &http.Client{Timeout: 10 * time.Second}

	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			resp, err := client.Get(s.cfg.Device)
			if err != nil {
				log.Printf("[FrameSource] error fetching frame from %s: %v", s.cfg.Device, err)
				continue
			}
			frame, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				log.Printf("[FrameSource] error reading frame: %v", err)
				continue
			}
			s.deliver(frame)
		}
	}
}

// ffmpegArgs builds the demux command line for the device type.
func ffmpegArgs(cfg Config) []string {
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}

	switch {
	case strings.HasPrefix(cfg.Device, "rtsp://"):
		args := []string{"-rtsp_transport", "tcp", "-i", cfg.Device}
		if cfg.FPS > 0 {
			out = append([]string{"-r", fmt.Sprintf("%d", cfg.FPS)}, out...)
		}
		return append(args, out...)

	case strings.HasPrefix(cfg.Device, "http://") || strings.HasPrefix(cfg.Device, "https://"):
		args := []string{"-i", cfg.Device}
		if cfg.FPS > 0 {
			out = append([]string{"-r", fmt.Sprintf("%d", cfg.FPS)}, out...)
		}
		return append(args, out...)

	case strings.HasPrefix(cfg.Device, "/dev/"):
		args := []string{"-f", "v4l2"}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		if cfg.FPS > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", cfg.FPS))
		}
		return append(append(args, "-i", cfg.Device), out...)

	default:
		// Video file, read at native rate so playback paces the pipeline.
		return append([]string{"-re", "-i", cfg.Device}, out...)
	}
}

func (s *Source) captureFFmpeg() {
	s.cmd = exec.Command("ffmpeg", ffmpegArgs(s.cfg)...)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		log.Printf("[FrameSource] error creating stdout pipe: %v", err)
		return
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		log.Printf("[FrameSource] error creating stderr pipe: %v", err)
		return
	}
	if err := s.cmd.Start(); err != nil {
		log.Printf("[FrameSource] error starting ffmpeg: %v", err)
		return
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-s.stopCh:
			return
		default:
			n, err := stdout.Read(chunk)
			if err != nil {
				if err != io.EOF {
					log.Printf("[FrameSource] error reading frames: %v", err)
				} else {
					log.Printf("[FrameSource] capture ended (EOF)")
				}
				return
			}
			frameBuffer = append(frameBuffer, chunk[:n]...)

			for {
				frame := extractJPEG(&frameBuffer)
				if frame == nil {
					break
				}
				s.deliver(frame)
			}
		}
	}
}

// deliver probes the frame's dimensions and hands it to the callback.
// Frames whose header does not parse are counted and skipped.
func (s *Source) deliver(data []byte) {
	dims, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.statsMu.Lock()
		s.stats.BadFrames++
		s.statsMu.Unlock()
		return
	}

	seq := s.frameSeq.Add(1)
	now := time.Now()

	s.statsMu.Lock()
	s.stats.FramesCaptured++
	s.stats.LastFrameUnix = now.Unix()
	s.statsMu.Unlock()

	s.onFrame(Frame{
		Data:      data,
		Seq:       seq,
		Width:     dims.Width,
		Height:    dims.Height,
		Timestamp: now,
	})

	if seq%100 == 0 {
		log.Printf("[FrameSource] frame %d (%dx%d)", seq, dims.Width, dims.Height)
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// extractJPEG pops one complete JPEG off the front of the buffer, or
// returns nil when no complete frame has arrived yet.
func extractJPEG(buffer *[]byte) []byte {
	start := bytes.Index(*buffer, jpegSOI)
	if start < 0 {
		return nil
	}

	rel := bytes.Index((*buffer)[start+2:], jpegEOI)
	if rel < 0 {
		// Trim garbage ahead of the start marker, keep the partial frame.
		if start > 0 {
			*buffer = (*buffer)[start:]
		}
		return nil
	}
	end := start + 2 + rel + 2

	frame := make([]byte, end-start)
	copy(frame, (*buffer)[start:end])
	*buffer = (*buffer)[end:]
	return frame
}
