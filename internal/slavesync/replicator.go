// Package slavesync forwards accepted alerts to peer nodes on a best-effort
// basis. Replication never blocks or fails alert processing: the queue is
// bounded, the oldest entry is dropped under pressure, and target errors are
// only logged and counted.
package slavesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"alertmanager/internal/config"
	"alertmanager/internal/domain"
)

// ErrReplication marks per-target forwarding failures in logs and counters.
var ErrReplication = errors.New("slave replication failure")

// syncQueryParam tells the receiving node the alert is replicated traffic,
// so it must not re-replicate or re-deliver it.
const syncQueryParam = "syncdata=1"

// Replicator ships accepted alerts to configured peer endpoints.
type Replicator struct {
	targets []string
	client  *http.Client
	logger  *slog.Logger

	queue  chan domain.Alert
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
	sent    atomic.Int64
}

// NewReplicator starts replication workers for the configured targets.
// Params: slavesync settings and logger.
// Returns: running replicator; nil when replication is disabled.
func NewReplicator(cfg config.SlaveSyncConfig, logger *slog.Logger) *Replicator {
	if !cfg.Enabled || len(cfg.Targets) == 0 {
		return nil
	}
	replicator := &Replicator{
		targets: cfg.Targets,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:  logger,
		queue:   make(chan domain.Alert, cfg.QueueSize),
	}
	for worker := 0; worker < cfg.Workers; worker++ {
		replicator.wg.Add(1)
		go replicator.run()
	}
	return replicator
}

// Enqueue hands one alert to the replication queue without blocking.
// Params: accepted alert.
// Returns: nothing. When the queue is full the oldest queued alert is
// dropped to make room, keeping ingest latency flat under backlog.
func (r *Replicator) Enqueue(alert domain.Alert) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.queue <- alert:
			return
		default:
		}
		select {
		case stale := <-r.queue:
			r.dropped.Add(1)
			r.logger.Warn("replication queue full, dropping oldest alert",
				"event_id", stale.EventID, "dropped_total", r.dropped.Load())
		default:
		}
	}
}

// Close stops accepting alerts and waits for in-flight forwards.
// Params: deadline for the drain.
// Returns: nil after drain; context error when the deadline passes first.
func (r *Replicator) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports replication counters.
// Params: none.
// Returns: sent, failed, and dropped totals.
func (r *Replicator) Stats() (sent, failed, dropped int64) {
	if r == nil {
		return 0, 0, 0
	}
	return r.sent.Load(), r.failed.Load(), r.dropped.Load()
}

// run consumes queued alerts until the queue closes.
// Params: none.
// Returns: nothing.
func (r *Replicator) run() {
	defer r.wg.Done()
	for alert := range r.queue {
		r.forward(alert)
	}
}

// wireAlert is the replication payload, shaped like the JSON ingest
// document so the receiving node parses it with its normal ingest path
// and derives the same dedupe identity.
type wireAlert struct {
	EventID         string         `json:"eventid,omitempty"`
	Project         string         `json:"project"`
	AlertCode       string         `json:"alertcode,omitempty"`
	AlertSourceType string         `json:"alertsourcetype,omitempty"`
	Hostname        string         `json:"hostname,omitempty"`
	HostIP          string         `json:"hostip,omitempty"`
	Level           string         `json:"level,omitempty"`
	EventType       string         `json:"eventtype,omitempty"`
	AlertTime       string         `json:"alerttime,omitempty"`
	RecoverTime     string         `json:"recovertime,omitempty"`
	Msg             any            `json:"msg"`
	Others          map[string]any `json:"others,omitempty"`
}

// encodeWireAlert renders one alert in the ingest document shape.
// Params: accepted alert.
// Returns: JSON body for peer push endpoints.
func encodeWireAlert(alert domain.Alert) ([]byte, error) {
	payload := wireAlert{
		EventID:         alert.EventID,
		Project:         alert.Project,
		AlertCode:       alert.AlertCode,
		AlertSourceType: string(alert.SourceType),
		Hostname:        alert.Hostname,
		HostIP:          alert.HostIP,
		Level:           alert.Level,
		EventType:       alert.EventType,
		Others:          alert.Others,
	}
	if alert.AlertTime != nil {
		payload.AlertTime = alert.AlertTime.UTC().Format(time.RFC3339)
	}
	if alert.RecoverTime != nil {
		payload.RecoverTime = alert.RecoverTime.UTC().Format(time.RFC3339)
	}
	if alert.MsgInfo != nil {
		payload.Msg = alert.MsgInfo
	} else {
		payload.Msg = alert.Message
	}
	return json.Marshal(payload)
}

// forward posts one alert to every target.
// Params: alert to replicate.
// Returns: nothing; failures are logged and counted per target.
func (r *Replicator) forward(alert domain.Alert) {
	body, err := encodeWireAlert(alert)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("encode replication payload", "event_id", alert.EventID, "error", err.Error())
		return
	}
	for _, target := range r.targets {
		if err := r.postTarget(target, body); err != nil {
			r.failed.Add(1)
			r.logger.Warn("replicate alert",
				"target", target, "event_id", alert.EventID, "error", err.Error())
			continue
		}
		r.sent.Add(1)
	}
}

// postTarget issues one replication POST.
// Params: target base endpoint and encoded alert.
// Returns: transport or HTTP status error tagged ErrReplication.
func (r *Replicator) postTarget(target string, body []byte) error {
	endpoint := target
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + syncQueryParam
	} else {
		endpoint += "?" + syncQueryParam
	}

	request, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrReplication, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplication, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d", ErrReplication, response.StatusCode)
	}
	return nil
}
