package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrNotOpened is returned by Read when no device is open.
	ErrNotOpened = errors.New("camera not opened")
	// ErrReadFailed is returned on a transient frame read failure.
	ErrReadFailed = errors.New("failed to read frame from camera")
)

// Camera owns a single video capture device handle. Resolution and frame
// rate are best-effort hints; the device may not honor them exactly.
type Camera struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
}

func New() *Camera {
	return &Camera{}
}

// Open opens the capture device and applies resolution/FPS hints. Opening an
// already open camera releases the previous handle first.
func (c *Camera) Open(deviceIndex, width, height, fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}

	capture, err := gocv.OpenVideoCapture(deviceIndex)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", deviceIndex, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("camera %d is not available", deviceIndex)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureFPS, float64(fps))

	c.capture = capture
	return nil
}

// Read reads one frame into dst. Failures are transient: the caller is
// expected to skip the tick and retry.
func (c *Camera) Read(dst *gocv.Mat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return ErrNotOpened
	}
	if ok := c.capture.Read(dst); !ok || dst.Empty() {
		return ErrReadFailed
	}
	return nil
}

// Close releases the device handle. Idempotent and safe to call when the
// camera was never opened.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}
