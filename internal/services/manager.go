package services

import (
	"fmt"
	"sync"

	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
	"maskserver/internal/services/stats"
	"maskserver/internal/services/websocket"
)

const dispatchQueueSize = 100

// Manager connects the detection pipeline to the rest of the system. The
// pipeline's detection callback enqueues batches here fire-and-forget; a
// dispatch worker ingests them through the aggregator and fans the results
// out over the hub. A full queue drops the batch instead of back-pressuring
// the capture loop.
type Manager struct {
	aggregator *stats.Aggregator
	hub        *websocket.HubService
	logger     *logger.Logger
	metrics    *metrics.Metrics

	queue    chan []models.Detection
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(aggregator *stats.Aggregator, hub *websocket.HubService, logger *logger.Logger, metrics *metrics.Metrics) *Manager {
	manager := &Manager{
		aggregator: aggregator,
		hub:        hub,
		logger:     logger,
		metrics:    metrics,
		queue:      make(chan []models.Detection, dispatchQueueSize),
	}

	// A single worker keeps ingestion serialized.
	manager.wg.Add(1)
	go manager.dispatchWorker()

	return manager
}

// HandleDetections is the pipeline detection callback. It never blocks.
func (m *Manager) HandleDetections(batch []models.Detection) {
	select {
	case m.queue <- batch:
	default:
		m.metrics.BatchesDropped.Add(1)
		m.logger.Warning("Dispatch queue full, dropping batch of %d detections", len(batch))
	}
}

// Process ingests a batch synchronously and broadcasts the results. Used by
// the image upload endpoint, which needs the processed batch back.
func (m *Manager) Process(batch []models.Detection) []models.Detection {
	processed := m.aggregator.Ingest(batch)
	m.broadcast(processed)
	return processed
}

func (m *Manager) dispatchWorker() {
	defer m.wg.Done()

	for batch := range m.queue {
		processed := m.aggregator.Ingest(batch)
		m.broadcast(processed)
	}
}

func (m *Manager) broadcast(processed []models.Detection) {
	if len(processed) == 0 {
		return
	}

	m.hub.BroadcastDetections(processed)
	m.hub.BroadcastStatistics(m.aggregator.GetStatistics())

	for _, det := range processed {
		if det.AlertTriggered {
			message := fmt.Sprintf("Mask violation detected with %.2f confidence", det.Confidence)
			m.hub.BroadcastAlert(message, det)
		}
	}
}

// GetAggregator returns the stats aggregator.
func (m *Manager) GetAggregator() *stats.Aggregator {
	return m.aggregator
}

// GetHub returns the websocket hub.
func (m *Manager) GetHub() *websocket.HubService {
	return m.hub
}

// Stop drains the queue and joins the dispatch worker. Safe to call more
// than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.queue)
		m.wg.Wait()
		m.logger.Info("🛑 Detection dispatch stopped")
	})
}
