package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"lintas/internal/counting"
)

// healthCacheTTL bounds how often the tracking server's health endpoint
// is probed between frames.
const healthCacheTTL = 30 * time.Second

// HTTPTracker talks to a tracking server over HTTP. The server runs the
// detector/tracker pair; this client only moves frames and parses
// results.
type HTTPTracker struct {
	endpoint string
	annotate bool
	client   *http.Client

	mu        sync.RWMutex
	healthyAt time.Time
}

// HTTPTrackerConfig holds configuration for the HTTP tracking client.
type HTTPTrackerConfig struct {
	// Endpoint is the tracking server base URL, e.g. http://127.0.0.1:8050.
	Endpoint string
	// Annotate asks the server to render and return an annotated frame.
	Annotate bool
	// Timeout bounds one round trip. Defaults to 15s, model inference on
	// a cold GPU can take most of that.
	Timeout time.Duration
}

type httpDetection struct {
	TrackID    int       `json:"track_id"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

type httpTrackResponse struct {
	Detections      []httpDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	AnnotatedB64    string          `json:"annotated_b64,omitempty"`
}

type httpHealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPTracker creates a client for a remote tracking server.
func NewHTTPTracker(cfg HTTPTrackerConfig) *HTTPTracker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTracker{
		endpoint: cfg.Endpoint,
		annotate: cfg.Annotate,
		client:   &http.Client{Timeout: timeout},
	}
}

var _ Tracker = (*HTTPTracker)(nil)

// Start probes the server's health endpoint once and fails if the model
// is not loaded.
func (t *HTTPTracker) Start(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracking server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracking server health check returned status %d", resp.StatusCode)
	}

	var health httpHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if !health.ModelLoaded {
		return fmt.Errorf("tracking server model not loaded (status %q)", health.Status)
	}

	t.mu.Lock()
	t.healthyAt = time.Now()
	t.mu.Unlock()

	log.Printf("[Tracker] connected to %s (device=%s)", t.endpoint, health.Device)
	return nil
}

// Healthy reports whether the server answered a health probe recently.
// Probes are cached for healthCacheTTL.
func (t *HTTPTracker) Healthy() bool {
	t.mu.RLock()
	fresh := time.Since(t.healthyAt) < healthCacheTTL
	t.mu.RUnlock()
	if fresh {
		return true
	}

	resp, err := t.client.Get(t.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health httpHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || !health.ModelLoaded {
		return false
	}

	t.mu.Lock()
	t.healthyAt = time.Now()
	t.mu.Unlock()
	return true
}

// Track posts one frame to the server's /track endpoint.
func (t *HTTPTracker) Track(frame []byte, confThreshold float64) (*Result, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	fw.Write(frame)

	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", confThreshold))
	if t.annotate {
		w.WriteField("annotate", "1")
	}
	w.Close()

	req, err := http.NewRequest(http.MethodPost, t.endpoint+"/track", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		t.mu.Lock()
		t.healthyAt = time.Time{}
		t.mu.Unlock()
		return nil, fmt.Errorf("tracking request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tracking server returned status %d: %s", resp.StatusCode, string(body))
	}

	var wire httpTrackResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode tracking response: %w", err)
	}

	result := &Result{
		Detections:      make([]counting.Detection, 0, len(wire.Detections)),
		InferenceTimeMs: wire.InferenceTimeMs,
	}
	for _, d := range wire.Detections {
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
	if wire.AnnotatedB64 != "" {
		annotated, err := base64.StdEncoding.DecodeString(wire.AnnotatedB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode annotated frame: %w", err)
		}
		result.Annotated = annotated
	}

	return result, nil
}

// Stop is a no-op for the HTTP client.
func (t *HTTPTracker) Stop() error {
	return nil
}
