package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"time"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
)

// multipart framing for MJPEG over multipart/x-mixed-replace.
const (
	StreamContentType = "multipart/x-mixed-replace; boundary=frame"

	chunkHeader  = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"
	chunkTrailer = "\r\n"
)

// FrameStore is the shared frame state the encoder samples from. The
// pipeline implements it; tests substitute their own.
type FrameStore interface {
	Snapshot() (image.Image, []models.Detection, bool)
	IsRunning() bool
}

// StreamEncoder serializes the latest annotated frame into a continuous
// sequence of boundary-framed JPEG chunks at a fixed cadence, independent of
// the pipeline's inference cadence. The sequence is lazy, infinite and
// non-restartable: it ends when the pipeline stops or the consumer context
// is cancelled.
type StreamEncoder struct {
	store    FrameStore
	logger   *logger.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	quality  int

	// encode is swappable so tests can inject failures.
	encode func(image.Image) ([]byte, error)
}

func NewStreamEncoder(store FrameStore, config *config.Config, logger *logger.Logger, metrics *metrics.Metrics) *StreamEncoder {
	fps := config.TargetFPS
	if fps < 1 {
		fps = 30
	}

	e := &StreamEncoder{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		interval: time.Second / time.Duration(fps),
		quality:  config.JPEGQuality,
	}
	e.encode = e.encodeJPEG
	return e
}

// Chunks starts the encoder and returns the chunk channel. The channel is
// closed when the stream ends; each value is one complete multipart part.
func (e *StreamEncoder) Chunks(ctx context.Context) <-chan []byte {
	ch := make(chan []byte)
	go e.stream(ctx, ch)
	return ch
}

func (e *StreamEncoder) stream(ctx context.Context, ch chan<- []byte) {
	defer close(ch)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for e.store.IsRunning() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, ok := e.store.Snapshot()
		if !ok {
			// No frame published yet, keep waiting.
			continue
		}

		data, err := e.encode(frame)
		if err != nil {
			e.metrics.EncodeErrors.Add(1)
			e.logger.Error("Failed to encode stream frame: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case ch <- wrapChunk(data):
			e.metrics.FramesStreamed.Add(1)
		}
	}
}

func (e *StreamEncoder) encodeJPEG(frame image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func wrapChunk(data []byte) []byte {
	chunk := make([]byte, 0, len(chunkHeader)+len(data)+len(chunkTrailer))
	chunk = append(chunk, chunkHeader...)
	chunk = append(chunk, data...)
	chunk = append(chunk, chunkTrailer...)
	return chunk
}
