package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// stopTimeout bounds how long Stop waits for the capture loop to exit
// before releasing the device anyway.
const stopTimeout = 2 * time.Second

var (
	// ErrAlreadyStarting is returned when Start races another Start/Stop.
	ErrAlreadyStarting = errors.New("pipeline is already starting or stopping")
)

// FrameSource produces raw frames from a capture device.
type FrameSource interface {
	Open(deviceIndex, width, height, fps int) error
	Read(dst *gocv.Mat) error
	Close() error
}

// Detector is the opaque face-localization plus mask-classification
// capability consumed per inference pass.
type Detector interface {
	Detect(img gocv.Mat) []models.Detection
	Annotate(img *gocv.Mat, detections []models.Detection)
}

// Pipeline drives the capture device on its own goroutine: it reads frames,
// runs inference every N-th frame, annotates every frame with the most
// recent batch, and publishes frame plus batch into lock-protected shared
// state. Consumers (stream encoder, HTTP handlers) only ever read copies.
type Pipeline struct {
	source   FrameSource
	detector Detector
	logger   *logger.Logger
	metrics  *metrics.Metrics

	deviceIndex   int
	frameWidth    int
	frameHeight   int
	targetFPS     int
	inferInterval int

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	// callback receives each fresh non-empty batch; it must not block.
	callback func([]models.Detection)

	mu         sync.RWMutex
	frame      image.Image
	detections []models.Detection
}

func New(source FrameSource, detector Detector, config *config.Config, logger *logger.Logger, metrics *metrics.Metrics) *Pipeline {
	inferInterval := config.DetectionInterval
	if inferInterval < 1 {
		inferInterval = 1
	}
	targetFPS := config.TargetFPS
	if targetFPS < 1 {
		targetFPS = 30
	}
	return &Pipeline{
		source:        source,
		detector:      detector,
		logger:        logger,
		metrics:       metrics,
		deviceIndex:   config.CameraIndex,
		frameWidth:    config.FrameWidth,
		frameHeight:   config.FrameHeight,
		targetFPS:     targetFPS,
		inferInterval: inferInterval,
	}
}

// SetDetectionCallback registers the push notification target for fresh
// detection batches. Must be called before Start.
func (p *Pipeline) SetDetectionCallback(callback func([]models.Detection)) {
	p.callback = callback
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// IsRunning reports whether the capture loop is active.
func (p *Pipeline) IsRunning() bool {
	return p.State() == StateRunning
}

// Start opens the camera and launches the capture loop. Starting an already
// running pipeline is a no-op. If the device cannot be opened the pipeline
// stays stopped and the error is returned.
func (p *Pipeline) Start() error {
	if p.State() == StateRunning {
		return nil
	}
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyStarting
	}

	if err := p.source.Open(p.deviceIndex, p.frameWidth, p.frameHeight, p.targetFPS); err != nil {
		p.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start camera: %w", err)
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.state.Store(int32(StateRunning))

	go p.run(p.stopCh, p.doneCh)

	p.logger.Info("Detection pipeline started (device %d, %dx%d @ %d FPS, inference every %d frames)",
		p.deviceIndex, p.frameWidth, p.frameHeight, p.targetFPS, p.inferInterval)
	return nil
}

// Stop signals the capture loop to exit, waits up to a bounded timeout for
// the acknowledgement, then releases the device regardless. Idempotent.
func (p *Pipeline) Stop() error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-time.After(stopTimeout):
		p.logger.Warning("Capture loop did not acknowledge stop within %s, releasing device anyway", stopTimeout)
	}

	if err := p.source.Close(); err != nil {
		p.logger.Error("Error releasing camera: %v", err)
	}

	p.state.Store(int32(StateStopped))
	p.logger.Info("Detection pipeline stopped")
	return nil
}

// run is the capture loop. It never returns an error: per-tick failures are
// logged and skipped so the loop runs until explicitly stopped.
func (p *Pipeline) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	frame := gocv.NewMat()
	defer frame.Close()

	interval := time.Second / time.Duration(p.targetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frameCount := 0
	var active []models.Detection

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		if err := p.source.Read(&frame); err != nil {
			p.metrics.CameraReadError.Add(1)
			continue
		}
		p.metrics.FramesCaptured.Add(1)

		// Mirror horizontally, display convention.
		gocv.Flip(frame, &frame, 1)

		fresh := false
		if frameCount%p.inferInterval == 0 {
			active = p.detector.Detect(frame)
			fresh = len(active) > 0
			p.metrics.InferencePasses.Add(1)
			p.metrics.FacesDetected.Add(uint64(len(active)))
		}
		frameCount++

		p.detector.Annotate(&frame, active)

		img, err := frame.ToImage()
		if err == nil {
			p.publish(img, active)
		} else {
			p.logger.Error("Failed to convert frame: %v", err)
		}

		if fresh && p.callback != nil {
			p.callback(models.CloneBatch(active))
		}
	}
}

// publish atomically replaces the shared frame state.
func (p *Pipeline) publish(frame image.Image, detections []models.Detection) {
	p.mu.Lock()
	p.frame = frame
	p.detections = models.CloneBatch(detections)
	p.mu.Unlock()
}

// Snapshot returns an independent copy of the latest annotated frame and
// detection batch. ok is false until the first frame has been published.
func (p *Pipeline) Snapshot() (image.Image, []models.Detection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.frame == nil {
		return nil, nil, false
	}
	// The frame itself is never mutated after publish, so sharing the
	// image value is safe; the batch slice is copied.
	return p.frame, models.CloneBatch(p.detections), true
}

// CurrentDetections returns a copy of the latest detection batch.
func (p *Pipeline) CurrentDetections() []models.Detection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return models.CloneBatch(p.detections)
}
