// Package stream serves the annotated pipeline output over plain HTTP:
// an MJPEG stream for live viewing plus a single-frame snapshot.
// Frames arrive already annotated; this layer only fans them out.
package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"lintas/internal/bus"
)

const clientBuffer = 5

// MJPEGStream fans annotated JPEG frames out to HTTP clients. A slow
// client skips frames instead of stalling the feed.
type MJPEGStream struct {
	clientsMu sync.RWMutex
	clients   map[chan []byte]bool

	frameMu      sync.RWMutex
	currentFrame []byte
	frameSeq     uint64
}

// NewMJPEGStream creates a stream with no clients and no frame yet.
func NewMJPEGStream() *MJPEGStream {
	return &MJPEGStream{clients: make(map[chan []byte]bool)}
}

// PublishFrame stores frame as the current snapshot and broadcasts it
// to every connected client.
func (s *MJPEGStream) PublishFrame(frame []byte) {
	s.frameMu.Lock()
	s.currentFrame = frame
	s.frameSeq++
	seq := s.frameSeq
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	s.clientsMu.RUnlock()

	if seq%100 == 0 {
		log.Printf("[MJPEGStream] frame seq: %d (%d clients)", seq, s.ClientCount())
	}
}

// OnPipelineEvent implements bus.Handler. Only frame events matter
// here.
func (s *MJPEGStream) OnPipelineEvent(event *bus.Event) {
	if event.Kind != bus.KindFrame {
		return
	}
	s.PublishFrame(event.Frame)
}

// CurrentFrame returns the most recent frame, nil before the first one.
func (s *MJPEGStream) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// ClientCount returns the number of connected stream clients.
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ServeHTTP serves the MJPEG stream to a client.
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, clientBuffer)
	s.clientsMu.Lock()
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientCh)
		s.clientsMu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	log.Printf("[MJPEGStream] client connected from %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] client disconnected (%s)", r.RemoteAddr)
			return
		case frame := <-clientCh:
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves the most recent annotated frame as one JPEG.
type SnapshotHandler struct {
	stream *MJPEGStream
}

// NewSnapshotHandler creates a snapshot handler over the given stream.
func NewSnapshotHandler(stream *MJPEGStream) *SnapshotHandler {
	return &SnapshotHandler{stream: stream}
}

// ServeHTTP serves a single JPEG snapshot.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.stream.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}

var _ bus.Handler = (*MJPEGStream)(nil)
