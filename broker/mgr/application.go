package mgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sylvia-iot/broker/broker/envelope"
	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/mq"
)

// DlDataHandler processes one ApplicationDlData delivered on an
// ApplicationMgr's dldata queue. msg is passed through so the handler can
// Ack/Nack according to the downlink's failure semantics.
type DlDataHandler func(ctx context.Context, mgr *ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message)

// ApplicationOptions configures one ApplicationMgr.
type ApplicationOptions struct {
	ApplicationID   string
	UnitID          string
	UnitCode        string
	Code            string
	Transport       Transport
	Reliable        bool
	Persistent      bool
	Prefetch        int
	SharedPrefix    string
	ReconnectMillis int
}

// ApplicationMgr owns the four queues an Application is assigned:
// uldata (sender toward the application), dldata (receiver), dldata-resp
// (sender), dldata-result (sender).
type ApplicationMgr struct {
	opts   ApplicationOptions
	key    string
	group  queueGroup
	logger observability.Logger

	ulData       mq.Queue
	dlData       mq.Queue
	dlDataResp   mq.Queue
	dlDataResult mq.Queue

	handler DlDataHandler
}

// NewApplicationMgr builds an ApplicationMgr on conn using factory to
// construct each of its four queues. handler is invoked for every
// ApplicationDlData received; it must not be nil.
func NewApplicationMgr(opts ApplicationOptions, conn mq.Connection, factory QueueFactory, handler DlDataHandler, logger observability.Logger) (*ApplicationMgr, error) {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	if handler == nil {
		return nil, fmt.Errorf("mgr: ApplicationMgr requires a non-nil DlDataHandler")
	}

	m := &ApplicationMgr{
		opts:    opts,
		key:     ManagerKey(opts.UnitCode, opts.Code),
		logger:  logger,
		handler: handler,
	}
	m.group.logger = logger

	base := mq.QueueOptions{
		Reliable:        opts.Reliable,
		Prefetch:        opts.Prefetch,
		SharedPrefix:    opts.SharedPrefix,
		ReconnectMillis: opts.ReconnectMillis,
	}

	var err error
	ulOpts := base
	ulOpts.Name = QueueName(opts.Transport, EntityApplication, opts.UnitCode, opts.Code, ChannelUlData)
	ulOpts.IsRecv = false
	ulOpts.Broadcast = false
	ulOpts.Persistent = opts.Persistent
	if m.ulData, err = m.group.buildQueue(factory, ulOpts, conn, nil); err != nil {
		return nil, err
	}

	dlOpts := base
	dlOpts.Name = QueueName(opts.Transport, EntityApplication, opts.UnitCode, opts.Code, ChannelDlData)
	dlOpts.IsRecv = true
	dlOpts.Broadcast = false
	if m.dlData, err = m.group.buildQueue(factory, dlOpts, conn, nil); err != nil {
		return nil, err
	}
	m.dlData.SetMessageHandler(mq.MessageHandlerFunc(m.onDlData))

	respOpts := base
	respOpts.Name = QueueName(opts.Transport, EntityApplication, opts.UnitCode, opts.Code, ChannelDlDataResp)
	respOpts.IsRecv = false
	respOpts.Broadcast = false
	respOpts.Persistent = opts.Persistent
	if m.dlDataResp, err = m.group.buildQueue(factory, respOpts, conn, nil); err != nil {
		return nil, err
	}

	resultOpts := base
	resultOpts.Name = QueueName(opts.Transport, EntityApplication, opts.UnitCode, opts.Code, ChannelDlDataResult)
	resultOpts.IsRecv = false
	resultOpts.Broadcast = false
	resultOpts.Persistent = opts.Persistent
	if m.dlDataResult, err = m.group.buildQueue(factory, resultOpts, conn, nil); err != nil {
		return nil, err
	}

	return m, nil
}

// Key is this Application's Manager key ("unit_code.application_code").
func (m *ApplicationMgr) Key() string { return m.key }

// ApplicationID is this Application's own id.
func (m *ApplicationMgr) ApplicationID() string { return m.opts.ApplicationID }

// UnitID is this Application's owning Unit id.
func (m *ApplicationMgr) UnitID() string { return m.opts.UnitID }

// UnitCode is this Application's owning Unit code.
func (m *ApplicationMgr) UnitCode() string { return m.opts.UnitCode }

// Code is this Application's own code.
func (m *ApplicationMgr) Code() string { return m.opts.Code }

// Connect starts every constituent queue.
func (m *ApplicationMgr) Connect() error { return m.group.connect() }

// Close closes every constituent queue.
func (m *ApplicationMgr) Close(ctx context.Context) error { return m.group.close(ctx) }

// Status reports the aggregate status across every constituent queue.
func (m *ApplicationMgr) Status() mq.Status { return m.group.status() }

// requireConnected returns mq.ErrNotConnected unless every constituent
// queue is Connected.
func (m *ApplicationMgr) requireConnected() error {
	if m.Status() != mq.StatusConnected {
		return mq.ErrNotConnected
	}
	return nil
}

// SendUlData delivers data to this application's uldata queue.
func (m *ApplicationMgr) SendUlData(ctx context.Context, data envelope.ApplicationUlData) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("mgr: marshal ApplicationUlData: %w", err)
	}
	return m.ulData.Send(ctx, payload)
}

// SendDlDataResp delivers resp to this application's dldata-resp queue.
func (m *ApplicationMgr) SendDlDataResp(ctx context.Context, resp envelope.ApplicationDlDataResp) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("mgr: marshal ApplicationDlDataResp: %w", err)
	}
	return m.dlDataResp.Send(ctx, payload)
}

// SendDlDataResult delivers result to this application's dldata-result
// queue.
func (m *ApplicationMgr) SendDlDataResult(ctx context.Context, result envelope.ApplicationDlDataResult) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("mgr: marshal ApplicationDlDataResult: %w", err)
	}
	return m.dlDataResult.Send(ctx, payload)
}

func (m *ApplicationMgr) onDlData(ctx context.Context, q mq.Queue, msg mq.Message) {
	var data envelope.ApplicationDlData
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		m.logger.Warn("application_dldata_malformed", "application", m.key, "error", err.Error())
		_ = msg.Ack(ctx)
		return
	}
	m.handler(ctx, m, data, msg)
}
