package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/ingest"
	"github.com/eddielth/turbine-fleet/query"
	"github.com/eddielth/turbine-fleet/storage"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeTransport struct {
	mu            sync.Mutex
	connectErr    error
	publishErr    error
	subscriptions map[string]MessageHandler
	published     []message
	disconnected  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscriptions: make(map[string]MessageHandler)}
}

func (f *fakeTransport) Connect() error { return f.connectErr }

func (f *fakeTransport) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[topic] = handler
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeTransport) Disconnect() { f.disconnected = true }

func (f *fakeTransport) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	handler, ok := f.subscriptions[topic]
	require.True(t, ok, "no subscription for %s", topic)
	handler(topic, []byte(payload))
}

func (f *fakeTransport) last(t *testing.T) message {
	t.Helper()
	require.NotEmpty(t, f.published)
	return f.published[len(f.published)-1]
}

type fakeQuerier struct {
	spec query.FilterSpec
	refs []query.AssetRef
	err  error
}

func (q *fakeQuerier) Query(_ context.Context, spec query.FilterSpec) ([]query.AssetRef, error) {
	q.spec = spec
	if err := spec.Validate(); err != nil {
		return nil, &query.QueryError{Cause: err}
	}
	return q.refs, q.err
}

type fakeRunner struct {
	report ingest.Report
	err    error
	calls  int
}

func (r *fakeRunner) RunCycle(context.Context) (ingest.Report, error) {
	r.calls++
	return r.report, r.err
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "plant/turbines/"}
	assert.Equal(t, "plant/turbines/query/request", topics.QueryRequest())
	assert.Equal(t, "plant/turbines/query/response", topics.QueryResponse())
	assert.Equal(t, "plant/turbines/ingest/trigger", topics.IngestTrigger())
	assert.Equal(t, "plant/turbines/ingest/report", topics.IngestReport())
	assert.Equal(t, "plant/turbines/values/Turbine-001/rpm", topics.Value("/Turbine-001/rpm"))
}

func TestReplyAllowed(t *testing.T) {
	topics := Topics{Prefix: "turbines"}
	assert.True(t, topics.ReplyAllowed("clients/42"))
	assert.True(t, topics.ReplyAllowed("turbines/query/response"))
	assert.True(t, topics.ReplyAllowed("turbines/ingestion"))

	assert.False(t, topics.ReplyAllowed(""))
	assert.False(t, topics.ReplyAllowed("turbines/query/request"))
	assert.False(t, topics.ReplyAllowed("turbines/ingest/trigger"))
	assert.False(t, topics.ReplyAllowed("turbines/ingest"))
	assert.False(t, topics.ReplyAllowed("turbines/values/Turbine-001/rpm"))
	assert.False(t, topics.ReplyAllowed("clients/+"))
	assert.False(t, topics.ReplyAllowed("clients/#"))
}

func TestStartSubscribes(t *testing.T) {
	transport := newFakeTransport()
	m := NewManager(transport, "turbines", &fakeRunner{}, &fakeQuerier{}, query.DefaultFilterSpec(), 0)

	require.NoError(t, m.Start(context.Background()))
	assert.Contains(t, transport.subscriptions, "turbines/query/request")
	assert.Contains(t, transport.subscriptions, "turbines/ingest/trigger")

	m.Stop()
	assert.True(t, transport.disconnected)
}

func TestStartWithoutRunnerSkipsTrigger(t *testing.T) {
	transport := newFakeTransport()
	m := NewManager(transport, "turbines", nil, &fakeQuerier{}, query.DefaultFilterSpec(), 0)

	require.NoError(t, m.Start(context.Background()))
	assert.NotContains(t, transport.subscriptions, "turbines/ingest/trigger")
}

func TestStartConnectFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = errors.New("connection refused")
	m := NewManager(transport, "turbines", nil, &fakeQuerier{}, query.DefaultFilterSpec(), 0)

	assert.ErrorContains(t, m.Start(context.Background()), "connection refused")
}

func TestQueryRequest(t *testing.T) {
	transport := newFakeTransport()
	querier := &fakeQuerier{refs: []query.AssetRef{{AssetID: "id-1", AssetName: "Turbine-001"}}}
	m := NewManager(transport, "turbines", nil, querier, query.DefaultFilterSpec(), 0)
	require.NoError(t, m.Start(context.Background()))

	transport.deliver(t, "turbines/query/request",
		`{"request_id":"r1","reply_to":"clients/42","filter":{"rpm_threshold":40}}`)

	// omitted fields keep the defaults
	assert.Equal(t, 40.0, querier.spec.RPMThreshold)
	assert.Equal(t, "Amazon", querier.spec.Make)
	assert.Equal(t, "Renton", querier.spec.Location)

	msg := transport.last(t)
	assert.Equal(t, "clients/42", msg.topic)
	assert.False(t, msg.retained)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(msg.payload, &resp))
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, querier.refs, resp.Assets)
	assert.Empty(t, resp.Error)
}

func TestQueryRequestDefaultReplyTopic(t *testing.T) {
	transport := newFakeTransport()
	m := NewManager(transport, "turbines", nil, &fakeQuerier{}, query.DefaultFilterSpec(), 0)
	require.NoError(t, m.Start(context.Background()))

	transport.deliver(t, "turbines/query/request", `{"request_id":"r2"}`)

	msg := transport.last(t)
	assert.Equal(t, "turbines/query/response", msg.topic)
	// no match is an empty list, not null
	assert.JSONEq(t, `{"request_id":"r2","status":200,"assets":[]}`, string(msg.payload))
}

func TestQueryRequestUsesReloadedDefaults(t *testing.T) {
	transport := newFakeTransport()
	querier := &fakeQuerier{}
	m := NewManager(transport, "turbines", nil, querier, query.DefaultFilterSpec(), 0)
	require.NoError(t, m.Start(context.Background()))

	defaults := query.DefaultFilterSpec()
	defaults.Location = "Seattle"
	m.SetDefaults(defaults)

	transport.deliver(t, "turbines/query/request", `{"request_id":"r3"}`)
	assert.Equal(t, "Seattle", querier.spec.Location)
}

func TestQueryRequestErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		payload string
		err     error
		status  int
	}{
		"malformed payload":  {payload: `{"request_id":`, status: StatusBadRequest},
		"bad filter type":    {payload: `{"request_id":"r","filter":{"make":7}}`, status: StatusBadRequest},
		"backend failure":    {payload: `{"request_id":"r"}`, err: &query.QueryError{Cause: errors.New("db down")}, status: StatusServerError},
		"invalid at backend": {payload: `{"request_id":"r"}`, err: &query.QueryError{Cause: fmt.Errorf("%w: nan", query.ErrInvalidFilter)}, status: StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			transport := newFakeTransport()
			m := NewManager(transport, "turbines", nil, &fakeQuerier{err: tc.err}, query.DefaultFilterSpec(), 0)
			require.NoError(t, m.Start(context.Background()))

			transport.deliver(t, "turbines/query/request", tc.payload)

			var resp QueryResponse
			require.NoError(t, json.Unmarshal(transport.last(t).payload, &resp))
			assert.Equal(t, tc.status, resp.Status)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, resp.Assets)
		})
	}
}

func TestQueryRequestRejectsReservedReplyTopic(t *testing.T) {
	for _, replyTo := range []string{"turbines/ingest/trigger", "turbines/values/Turbine-001/rpm", "turbines/query/request"} {
		t.Run(replyTo, func(t *testing.T) {
			transport := newFakeTransport()
			runner := &fakeRunner{}
			querier := &fakeQuerier{}
			m := NewManager(transport, "turbines", runner, querier, query.DefaultFilterSpec(), 0)
			require.NoError(t, m.Start(context.Background()))

			transport.deliver(t, "turbines/query/request", `{"request_id":"r4","reply_to":"`+replyTo+`"}`)

			require.Len(t, transport.published, 1)
			msg := transport.last(t)
			assert.Equal(t, "turbines/query/response", msg.topic)

			var resp QueryResponse
			require.NoError(t, json.Unmarshal(msg.payload, &resp))
			assert.Equal(t, "r4", resp.RequestID)
			assert.Equal(t, StatusBadRequest, resp.Status)
			assert.Contains(t, resp.Error, replyTo)
			assert.Equal(t, 0, runner.calls)
			assert.Equal(t, query.FilterSpec{}, querier.spec)
		})
	}
}

func TestIngestTrigger(t *testing.T) {
	transport := newFakeTransport()
	runner := &fakeRunner{
		report: ingest.Report{Timestamp: 1700000000, Total: 24, Succeeded: 23, Failed: []ingest.EntryFailure{
			{EntryID: "Turbine-003-torque-1700000000", Address: "/Turbine-003/torque", Reason: "throttled"},
		}},
	}
	runner.err = &ingest.PartialWriteError{Timestamp: 1700000000, Total: 24, Failures: runner.report.Failed}

	m := NewManager(transport, "turbines", runner, nil, query.DefaultFilterSpec(), 0)
	require.NoError(t, m.Start(context.Background()))

	transport.deliver(t, "turbines/ingest/trigger", `{"request_id":"manual-1"}`)
	assert.Equal(t, 1, runner.calls)

	msg := transport.last(t)
	assert.Equal(t, "turbines/ingest/report", msg.topic)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(msg.payload, &resp))
	assert.Equal(t, "manual-1", resp.RequestID)
	assert.Equal(t, 23, resp.Report.Succeeded)
	require.Len(t, resp.Report.Failed, 1)
	assert.Equal(t, "Turbine-003-torque-1700000000", resp.Report.Failed[0].EntryID)
	assert.Contains(t, resp.Error, "throttled")
}

func TestIngestTriggerEmptyPayload(t *testing.T) {
	transport := newFakeTransport()
	runner := &fakeRunner{report: ingest.Report{Timestamp: 1, Total: 24, Succeeded: 24}}
	m := NewManager(transport, "turbines", runner, nil, query.DefaultFilterSpec(), 0)
	require.NoError(t, m.Start(context.Background()))

	transport.deliver(t, "turbines/ingest/trigger", "")

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(transport.last(t).payload, &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, 24, resp.Report.Succeeded)
}

func TestValueMirror(t *testing.T) {
	transport := newFakeTransport()
	mirror := NewValueMirror(transport, "turbines")
	ctx := context.Background()

	require.NoError(t, mirror.Mirror(ctx, []storage.Entry{
		{EntryID: "Turbine-001-rpm-200", Address: "/Turbine-001/rpm", Value: fleet.DoubleValue(30), Timestamp: 200},
		{EntryID: "Turbine-001-make-200", Address: "/Turbine-001/make", Value: fleet.StringValue("Amazon"), Timestamp: 200},
	}))
	require.Len(t, transport.published, 2)

	msg := transport.published[0]
	assert.Equal(t, "turbines/values/Turbine-001/rpm", msg.topic)
	assert.True(t, msg.retained)

	var pv fleet.PropertyValue
	require.NoError(t, json.Unmarshal(msg.payload, &pv))
	assert.Equal(t, fleet.DoubleValue(30), pv.Value)
	assert.Equal(t, int64(200), pv.Timestamp)

	// an older entry does not replace the retained value
	require.NoError(t, mirror.Mirror(ctx, []storage.Entry{
		{EntryID: "Turbine-001-rpm-100", Address: "/Turbine-001/rpm", Value: fleet.DoubleValue(12), Timestamp: 100},
	}))
	assert.Len(t, transport.published, 2)
}

func TestValueMirrorPublishFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.publishErr = errors.New("not connected")
	mirror := NewValueMirror(transport, "turbines")

	err := mirror.Mirror(context.Background(), []storage.Entry{
		{Address: "/Turbine-001/rpm", Value: fleet.DoubleValue(30), Timestamp: 200},
		{Address: "/Turbine-002/rpm", Value: fleet.DoubleValue(31), Timestamp: 200},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/Turbine-001/rpm")
	assert.Contains(t, err.Error(), "/Turbine-002/rpm")
}
