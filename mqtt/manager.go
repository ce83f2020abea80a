package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddielth/turbine-fleet/ingest"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/query"
)

// CycleRunner runs one ingestion cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (ingest.Report, error)
}

// Querier answers threshold queries
type Querier interface {
	Query(ctx context.Context, spec query.FilterSpec) ([]query.AssetRef, error)
}

// QueryRequest is the payload of {prefix}/query/request. Filter fields left out keep the
// configured defaults.
type QueryRequest struct {
	RequestID string          `json:"request_id"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Filter    json.RawMessage `json:"filter,omitempty"`
}

// QueryResponse carries either the matched assets or the error of one query
type QueryResponse struct {
	RequestID string           `json:"request_id"`
	Status    int              `json:"status"`
	Assets    []query.AssetRef `json:"assets"`
	Error     string           `json:"error,omitempty"`
}

// IngestResponse is published to {prefix}/ingest/report after a triggered cycle
type IngestResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Report    ingest.Report `json:"report"`
	Error     string        `json:"error,omitempty"`
}

// Status codes of QueryResponse
const (
	StatusOK          = 200
	StatusBadRequest  = 400
	StatusServerError = 500
)

// Manager MQTT Manager
type Manager struct {
	transport Transport
	topics    Topics
	runner    CycleRunner
	querier   Querier
	timeout   time.Duration

	mu       sync.RWMutex
	defaults query.FilterSpec
	ctx      context.Context
}

// NewManager creates a new MQTT manager. runner or querier may be nil to leave the
// corresponding topic unserved.
func NewManager(transport Transport, prefix string, runner CycleRunner, querier Querier, defaults query.FilterSpec, timeout time.Duration) *Manager {
	return &Manager{
		transport: transport,
		topics:    Topics{Prefix: prefix},
		runner:    runner,
		querier:   querier,
		timeout:   timeout,
		defaults:  defaults,
		ctx:       context.Background(),
	}
}

// Topics returns the topic layout in use
func (m *Manager) Topics() Topics {
	return m.topics
}

// SetDefaults replaces the filter defaults applied to incoming query requests
func (m *Manager) SetDefaults(defaults query.FilterSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = defaults
}

// Start connects and subscribes; requests are served with contexts derived from ctx
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	if err := m.transport.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	if m.querier != nil {
		if err := m.transport.Subscribe(m.topics.QueryRequest(), m.HandleQuery); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", m.topics.QueryRequest(), err)
		}
	}
	if m.runner != nil {
		if err := m.transport.Subscribe(m.topics.IngestTrigger(), m.HandleTrigger); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", m.topics.IngestTrigger(), err)
		}
	}
	return nil
}

// Stop stops the MQTT service
func (m *Manager) Stop() {
	m.transport.Disconnect()
}

// HandleQuery evaluates one query request and publishes the response to its reply topic
func (m *Manager) HandleQuery(topic string, payload []byte) {
	var req QueryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Warn("malformed query request on %s: %v", topic, err)
		m.reply(m.topics.QueryResponse(), QueryResponse{
			Status: StatusBadRequest,
			Assets: []query.AssetRef{},
			Error:  err.Error(),
		})
		return
	}

	resp := QueryResponse{RequestID: req.RequestID, Status: StatusOK, Assets: []query.AssetRef{}}

	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = m.topics.QueryResponse()
	}
	if !m.topics.ReplyAllowed(replyTo) {
		logger.Warn("query %s asked for a reply on %s, answering on %s", req.RequestID, replyTo, m.topics.QueryResponse())
		resp.Status = StatusBadRequest
		resp.Error = fmt.Sprintf("reply_to %q is not allowed", replyTo)
		m.reply(m.topics.QueryResponse(), resp)
		return
	}

	m.mu.RLock()
	defaults := m.defaults
	m.mu.RUnlock()

	spec, err := query.ParseFilterSpec(req.Filter, defaults)
	if err != nil {
		resp.Status = StatusBadRequest
		resp.Error = err.Error()
		m.reply(replyTo, resp)
		return
	}

	ctx, cancel := m.requestContext()
	defer cancel()

	refs, err := m.querier.Query(ctx, spec)
	switch {
	case errors.Is(err, query.ErrInvalidFilter):
		resp.Status = StatusBadRequest
		resp.Error = err.Error()
	case err != nil:
		resp.Status = StatusServerError
		resp.Error = err.Error()
	default:
		resp.Assets = refs
	}

	logger.Debug("query %s answered with status %d and %d assets", req.RequestID, resp.Status, len(resp.Assets))
	m.reply(replyTo, resp)
}

// HandleTrigger runs one ingestion cycle and publishes its report
func (m *Manager) HandleTrigger(topic string, payload []byte) {
	var resp IngestResponse
	if len(payload) > 0 {
		var req struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(payload, &req); err == nil {
			resp.RequestID = req.RequestID
		}
	}

	ctx, cancel := m.requestContext()
	defer cancel()

	report, err := m.runner.RunCycle(ctx)
	resp.Report = report
	if err != nil {
		resp.Error = err.Error()
	}
	m.reply(m.topics.IngestReport(), resp)
}

func (m *Manager) requestContext() (context.Context, context.CancelFunc) {
	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()

	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) reply(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode reply for %s: %v", topic, err)
		return
	}
	if err := m.transport.Publish(topic, payload, false); err != nil {
		logger.Error("failed to publish to %s: %v", topic, err)
	}
}
