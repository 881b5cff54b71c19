package mgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sylvia-iot/broker/broker/envelope"
	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/mq"
)

// UlDataHandler processes one NetworkUlData delivered on a NetworkMgr's
// uldata queue.
type UlDataHandler func(ctx context.Context, mgr *NetworkMgr, data envelope.NetworkUlData, msg mq.Message)

// DlDataResultHandler processes one NetworkDlDataResult delivered on a
// NetworkMgr's dldata-result queue.
type DlDataResultHandler func(ctx context.Context, mgr *NetworkMgr, result envelope.NetworkDlDataResult, msg mq.Message)

// NetworkOptions configures one NetworkMgr.
type NetworkOptions struct {
	NetworkID string
	// UnitID and UnitCode are empty for the public Network sentinel.
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

// NetworkMgr owns the four queues a Network is assigned: uldata
// (receiver), dldata (sender), dldata-result (receiver), ctrl (sender,
// internal device add/del notifications to the network adapter).
type NetworkMgr struct {
	opts   NetworkOptions
	key    string
	group  queueGroup
	logger observability.Logger

	ulData       mq.Queue
	dlData       mq.Queue
	dlDataResult mq.Queue
	ctrl         mq.Queue

	ulHandler     UlDataHandler
	resultHandler DlDataResultHandler
}

// NewNetworkMgr builds a NetworkMgr on conn using factory to construct
// each of its four queues. Neither handler may be nil.
func NewNetworkMgr(opts NetworkOptions, conn mq.Connection, factory QueueFactory, ulHandler UlDataHandler, resultHandler DlDataResultHandler, logger observability.Logger) (*NetworkMgr, error) {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	if ulHandler == nil || resultHandler == nil {
		return nil, fmt.Errorf("mgr: NetworkMgr requires non-nil UlDataHandler and DlDataResultHandler")
	}

	m := &NetworkMgr{
		opts:          opts,
		key:           ManagerKey(opts.UnitCode, opts.Code),
		logger:        logger,
		ulHandler:     ulHandler,
		resultHandler: resultHandler,
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
	ulOpts.Name = QueueName(opts.Transport, EntityNetwork, opts.UnitCode, opts.Code, ChannelUlData)
	ulOpts.IsRecv = true
	ulOpts.Broadcast = false
	if m.ulData, err = m.group.buildQueue(factory, ulOpts, conn, nil); err != nil {
		return nil, err
	}
	m.ulData.SetMessageHandler(mq.MessageHandlerFunc(m.onUlData))

	dlOpts := base
	dlOpts.Name = QueueName(opts.Transport, EntityNetwork, opts.UnitCode, opts.Code, ChannelDlData)
	dlOpts.IsRecv = false
	dlOpts.Broadcast = false
	dlOpts.Persistent = opts.Persistent
	if m.dlData, err = m.group.buildQueue(factory, dlOpts, conn, nil); err != nil {
		return nil, err
	}

	resultOpts := base
	resultOpts.Name = QueueName(opts.Transport, EntityNetwork, opts.UnitCode, opts.Code, ChannelDlDataResult)
	resultOpts.IsRecv = true
	resultOpts.Broadcast = false
	if m.dlDataResult, err = m.group.buildQueue(factory, resultOpts, conn, nil); err != nil {
		return nil, err
	}
	m.dlDataResult.SetMessageHandler(mq.MessageHandlerFunc(m.onDlDataResult))

	ctrlOpts := base
	ctrlOpts.Name = QueueName(opts.Transport, EntityNetwork, opts.UnitCode, opts.Code, ChannelCtrl)
	ctrlOpts.IsRecv = false
	ctrlOpts.Broadcast = true
	ctrlOpts.Persistent = opts.Persistent
	if m.ctrl, err = m.group.buildQueue(factory, ctrlOpts, conn, nil); err != nil {
		return nil, err
	}

	return m, nil
}

// Key is this Network's Manager key ("unit_code.network_code"), with an
// empty unit_code segment for the public Network.
func (m *NetworkMgr) Key() string { return m.key }

// NetworkID is this Network's own id.
func (m *NetworkMgr) NetworkID() string { return m.opts.NetworkID }

// UnitID is this Network's owning Unit id, "" for the public Network.
func (m *NetworkMgr) UnitID() string { return m.opts.UnitID }

// UnitCode is this Network's owning Unit code, "" for the public Network.
func (m *NetworkMgr) UnitCode() string { return m.opts.UnitCode }

// Code is this Network's own code.
func (m *NetworkMgr) Code() string { return m.opts.Code }

// IsPublic reports whether this is the public Network.
func (m *NetworkMgr) IsPublic() bool { return m.opts.UnitID == "" }

// Connect starts every constituent queue.
func (m *NetworkMgr) Connect() error { return m.group.connect() }

// Close closes every constituent queue.
func (m *NetworkMgr) Close(ctx context.Context) error { return m.group.close(ctx) }

// Status reports the aggregate status across every constituent queue.
func (m *NetworkMgr) Status() mq.Status { return m.group.status() }

func (m *NetworkMgr) requireConnected() error {
	if m.Status() != mq.StatusConnected {
		return mq.ErrNotConnected
	}
	return nil
}

// SendDlData delivers data to this network's dldata queue.
func (m *NetworkMgr) SendDlData(ctx context.Context, data envelope.NetworkDlData) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("mgr: marshal NetworkDlData: %w", err)
	}
	return m.dlData.Send(ctx, payload)
}

// CtrlMessage is the JSON body sent on a NetworkMgr's ctrl queue: a device
// add/del/update notification for the network adapter. This is an
// internal-only channel, distinct from the external envelope types.
type CtrlMessage struct {
	Operation   string `json:"operation"`
	NetworkAddr string `json:"networkAddr"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// SendCtrl notifies this network's adapter of a device add/del/update.
func (m *NetworkMgr) SendCtrl(ctx context.Context, msg CtrlMessage) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mgr: marshal CtrlMessage: %w", err)
	}
	return m.ctrl.Send(ctx, payload)
}

func (m *NetworkMgr) onUlData(ctx context.Context, q mq.Queue, msg mq.Message) {
	var data envelope.NetworkUlData
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		m.logger.Warn("network_uldata_malformed", "network", m.key, "error", err.Error())
		_ = msg.Ack(ctx)
		return
	}
	m.ulHandler(ctx, m, data, msg)
}

func (m *NetworkMgr) onDlDataResult(ctx context.Context, q mq.Queue, msg mq.Message) {
	var result envelope.NetworkDlDataResult
	if err := json.Unmarshal(msg.Payload(), &result); err != nil {
		m.logger.Warn("network_dldata_result_malformed", "network", m.key, "error", err.Error())
		_ = msg.Ack(ctx)
		return
	}
	m.resultHandler(ctx, m, result, msg)
}
