// Package dispatch implements the Dispatch Engine: the uplink, downlink and
// downlink-result pipelines, fed by NetworkMgr and
// ApplicationMgr message handlers and backed by the Routing Cache and the
// Store. Grounded on coreengine/agents.Agent.Process's
// span-start/defer-record/metrics shape (agent.go), retargeted at message
// routing instead of LLM agent steps.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sylvia-iot/broker/broker/cache"
	"github.com/sylvia-iot/broker/broker/envelope"
	"github.com/sylvia-iot/broker/broker/idgen"
	"github.com/sylvia-iot/broker/broker/mgr"
	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/mq"
)

var tracer = otel.Tracer("sylvia-iot-broker/dispatch")

// ApplicationLookup resolves a live ApplicationMgr by its Manager key
// ("unit_code.application_code"). false means the application has no
// running Manager (deleted, or not yet provisioned).
type ApplicationLookup func(key string) (*mgr.ApplicationMgr, bool)

// NetworkLookup resolves a live NetworkMgr by its Manager key
// ("unit_code.network_code", "" unit_code for the public Network).
type NetworkLookup func(key string) (*mgr.NetworkMgr, bool)

const defaultDlDataBufferTTL = 24 * time.Hour

// Engine wires NetworkMgr/ApplicationMgr message handlers to the routing
// pipeline.
type Engine struct {
	store    models.Store
	cache    *cache.RoutingCache
	apps     ApplicationLookup
	networks NetworkLookup
	logger   observability.Logger
	ttl      time.Duration
}

// Options configures an Engine.
type Options struct {
	Store           models.Store
	Cache           *cache.RoutingCache
	Applications    ApplicationLookup
	Networks        NetworkLookup
	Logger          observability.Logger
	DlDataBufferTTL time.Duration
}

// New builds an Engine. Applications and Networks must be non-nil; they are
// typically backed by the registries cmd/sylvia-iot-broker/main.go builds
// around the live Manager set.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Cache == nil {
		return nil, fmt.Errorf("dispatch: Store and Cache are required")
	}
	if opts.Applications == nil || opts.Networks == nil {
		return nil, fmt.Errorf("dispatch: Applications and Networks lookups are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NoopLogger()
	}
	ttl := opts.DlDataBufferTTL
	if ttl <= 0 {
		ttl = defaultDlDataBufferTTL
	}
	return &Engine{
		store:    opts.Store,
		cache:    opts.Cache,
		apps:     opts.Applications,
		networks: opts.Networks,
		logger:   logger,
		ttl:      ttl,
	}, nil
}

// HandleUlData implements the uplink pipeline. It is the UlDataHandler a
// NetworkMgr's uldata queue is configured with.
func (e *Engine) HandleUlData(ctx context.Context, netMgr *mgr.NetworkMgr, data envelope.NetworkUlData, msg mq.Message) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch.uldata",
		attribute.String("sylvia.network.key", netMgr.Key()),
	)
	defer span.End()

	outcome := e.handleUlData(ctx, netMgr, data, msg)
	recordOutcome(span, "uldata", outcome, start)
}

func (e *Engine) handleUlData(ctx context.Context, netMgr *mgr.NetworkMgr, data envelope.NetworkUlData, msg mq.Message) string {
	// Step 1: validate.
	if data.NetworkAddr == "" || data.Data == "" {
		e.logger.Warn("uldata_malformed", "network", netMgr.Key())
		_ = msg.Ack(ctx)
		return "malformed"
	}

	// Step 2: resolve the effective unit code. Public networks require an
	// explicit unit-code selector so the message can be attributed to a
	// tenant; its absence is dropped with a log, the only behavior that
	// preserves multi-tenant isolation.
	effectiveUnitCode := netMgr.UnitCode()
	if netMgr.IsPublic() {
		if data.UnitCode == "" {
			e.logger.Warn("uldata_public_without_unit_code", "network", netMgr.Key())
			_ = msg.Ack(ctx)
			return "dropped_no_unit_code"
		}
		effectiveUnitCode = data.UnitCode
	}

	resolved, err := e.cache.GetDlData(ctx, models.GetCacheQueryCond{
		UnitCode:    effectiveUnitCode,
		NetworkCode: netMgr.Code(),
		NetworkAddr: data.NetworkAddr,
	})
	if err != nil {
		e.logger.Error("uldata_route_lookup_failed", "network", netMgr.Key(), "error", err.Error())
		_ = msg.Nack(ctx)
		return "store_error"
	}

	var deviceID, profile string
	if resolved != nil {
		deviceID = resolved.DeviceID
		profile = resolved.Profile
	}

	// Step 3: DeviceRoute targets (resolved device) union NetworkRoute
	// targets (routes bound to the whole network), deduplicated by Manager
	// key.
	targets, err := e.resolveUlTargets(ctx, effectiveUnitCode, netMgr.Code(), deviceID)
	if err != nil {
		e.logger.Error("uldata_target_lookup_failed", "network", netMgr.Key(), "error", err.Error())
		_ = msg.Nack(ctx)
		return "store_error"
	}

	// Step 4: build and send one ApplicationUlData per target; a single
	// target's send failure is logged and does not abort the others.
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, key := range targets {
		appMgr, ok := e.apps(key)
		if !ok {
			e.logger.Warn("uldata_target_not_running", "application", key)
			continue
		}
		ulData := envelope.ApplicationUlData{
			DataID:      idgen.DataID(),
			Time:        data.Time,
			Pub:         now,
			DeviceID:    deviceID,
			NetworkID:   netMgr.NetworkID(),
			NetworkCode: netMgr.Code(),
			NetworkAddr: data.NetworkAddr,
			IsPublic:    netMgr.IsPublic(),
			Profile:     profile,
			Data:        data.Data,
			Extension:   data.Extension,
		}
		if err := appMgr.SendUlData(ctx, ulData); err != nil {
			e.logger.Error("uldata_send_failed", "application", key, "error", err.Error())
		}
	}

	// Step 5: ack the source only after every target has been submitted.
	_ = msg.Ack(ctx)
	return "ok"
}

// resolveUlTargets returns the deduplicated Manager keys an uplink from
// (unitCode, networkCode) with the given resolved deviceID (empty if
// unresolved) must reach.
func (e *Engine) resolveUlTargets(ctx context.Context, unitCode, networkCode, deviceID string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	if deviceID != "" {
		ulData, err := e.cache.GetUlData(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if ulData != nil {
			for _, k := range ulData.AppMgrKeys {
				add(k)
			}
		}
	}

	routes, _, err := e.store.NetworkRoutes().List(ctx, models.NetworkRouteListOptions{
		Cond: models.NetworkRouteListQueryCond{NetworkCode: &networkCode},
	})
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		add(mgr.ManagerKey(r.UnitCode, r.ApplicationCode))
	}

	return keys, nil
}

// HandleDlData implements the downlink pipeline. It is the DlDataHandler an
// ApplicationMgr's dldata queue is configured with.
func (e *Engine) HandleDlData(ctx context.Context, appMgr *mgr.ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch.dldata",
		attribute.String("sylvia.application.key", appMgr.Key()),
	)
	defer span.End()

	outcome := e.handleDlData(ctx, appMgr, data, msg)
	recordOutcome(span, "dldata", outcome, start)
}

func (e *Engine) handleDlData(ctx context.Context, appMgr *mgr.ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message) string {
	hasDevice := data.HasDeviceSelector()
	hasNetwork := data.NetworkCode != "" && data.NetworkAddr != ""
	if hasDevice == hasNetwork {
		// Neither selector, or both: malformed. Exactly one of deviceId or
		// (networkCode, networkAddr) is required.
		e.logger.Warn("dldata_malformed", "application", appMgr.Key())
		_ = msg.Ack(ctx)
		e.sendDlDataRespErr(ctx, appMgr, data.CorrelationID, "err_broker_device_not_exist", "exactly one of deviceId or (networkCode, networkAddr) is required")
		return "malformed"
	}

	var resolved *models.CacheDlData
	var err error
	if hasDevice {
		resolved, err = e.cache.GetDlDataPub(ctx, models.GetCachePubQueryCond{
			UnitID:   appMgr.UnitID(),
			DeviceID: data.DeviceID,
		})
	} else {
		resolved, err = e.cache.GetDlData(ctx, models.GetCacheQueryCond{
			UnitCode:    appMgr.UnitCode(),
			NetworkCode: data.NetworkCode,
			NetworkAddr: data.NetworkAddr,
		})
	}
	if err != nil {
		e.logger.Error("dldata_route_lookup_failed", "application", appMgr.Key(), "error", err.Error())
		_ = msg.Nack(ctx)
		return "store_error"
	}
	if resolved == nil {
		e.logger.Warn("dldata_device_not_exist", "application", appMgr.Key())
		_ = msg.Ack(ctx)
		e.sendDlDataRespErr(ctx, appMgr, data.CorrelationID, "err_broker_device_not_exist", "")
		return "device_not_exist"
	}

	netMgr, ok := e.networks(resolved.NetMgrKey)
	if !ok {
		e.logger.Warn("dldata_network_not_running", "network", resolved.NetMgrKey)
		_ = msg.Ack(ctx)
		e.sendDlDataRespErr(ctx, appMgr, data.CorrelationID, "err_broker_network_not_exist", "")
		return "network_not_running"
	}

	dataID := idgen.DataID()
	now := time.Now()
	buf := &models.DlDataBuffer{
		DataID:          dataID,
		UnitID:          appMgr.UnitID(),
		UnitCode:        appMgr.UnitCode(),
		ApplicationID:   appMgr.ApplicationID(),
		ApplicationCode: appMgr.Code(),
		NetworkID:       resolved.NetworkID,
		NetworkAddr:     resolved.NetworkAddr,
		DeviceID:        resolved.DeviceID,
		CreatedAt:       now,
		ExpiredAt:       now.Add(e.ttl),
	}
	// The buffer row is committed before the network send: a crash between
	// the two leaves a harmless orphan row, swept by TTL, rather than an
	// untracked in-flight message.
	if err := e.store.DlDataBuffers().Add(ctx, buf); err != nil {
		e.logger.Error("dldata_buffer_write_failed", "application", appMgr.Key(), "error", err.Error())
		_ = msg.Nack(ctx)
		return "store_error"
	}

	dlData := envelope.NetworkDlData{
		DataID:      dataID,
		Pub:         now.UTC().Format(time.RFC3339Nano),
		ExpiresIn:   int(e.ttl.Seconds()),
		NetworkAddr: resolved.NetworkAddr,
		Data:        data.Data,
		Extension:   data.Extension,
	}
	if err := netMgr.SendDlData(ctx, dlData); err != nil {
		e.logger.Error("dldata_send_failed", "network", resolved.NetMgrKey, "error", err.Error())
		if delErr := e.store.DlDataBuffers().Del(ctx, dataID); delErr != nil {
			e.logger.Error("dldata_buffer_cleanup_failed", "dataId", dataID, "error", delErr.Error())
		}
		_ = msg.Ack(ctx)
		e.sendDlDataRespErr(ctx, appMgr, data.CorrelationID, "err_broker_network_not_exist", err.Error())
		return "send_failed"
	}

	_ = msg.Ack(ctx)
	_ = appMgr.SendDlDataResp(ctx, envelope.ApplicationDlDataResp{
		CorrelationID: data.CorrelationID,
		DataID:        dataID,
	})
	return "ok"
}

func (e *Engine) sendDlDataRespErr(ctx context.Context, appMgr *mgr.ApplicationMgr, correlationID, errCode, message string) {
	if err := appMgr.SendDlDataResp(ctx, envelope.ApplicationDlDataResp{
		CorrelationID: correlationID,
		Error:         errCode,
		Message:       message,
	}); err != nil {
		e.logger.Error("dldata_resp_send_failed", "application", appMgr.Key(), "error", err.Error())
	}
}

// HandleDlDataResult implements the downlink-result pipeline. It is the
// DlDataResultHandler a NetworkMgr's dldata-result queue is configured with.
func (e *Engine) HandleDlDataResult(ctx context.Context, netMgr *mgr.NetworkMgr, result envelope.NetworkDlDataResult, msg mq.Message) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch.dldata_result",
		attribute.String("sylvia.network.key", netMgr.Key()),
		attribute.String("sylvia.data_id", result.DataID),
	)
	defer span.End()

	outcome := e.handleDlDataResult(ctx, netMgr, result, msg)
	recordOutcome(span, "dldata_result", outcome, start)
}

func (e *Engine) handleDlDataResult(ctx context.Context, netMgr *mgr.NetworkMgr, result envelope.NetworkDlDataResult, msg mq.Message) string {
	buf, err := e.store.DlDataBuffers().Get(ctx, result.DataID)
	if err != nil {
		e.logger.Error("dldata_result_lookup_failed", "dataId", result.DataID, "error", err.Error())
		_ = msg.Nack(ctx)
		return "store_error"
	}
	if buf == nil {
		// No matching buffer row: either already delivered, or expired.
		// Ack and drop rather than retry indefinitely.
		e.logger.Warn("dldata_result_no_buffer", "dataId", result.DataID)
		_ = msg.Ack(ctx)
		return "no_buffer"
	}

	appMgr, ok := e.apps(mgr.ManagerKey(buf.UnitCode, buf.ApplicationCode))
	if !ok {
		e.logger.Warn("dldata_result_application_not_running", "application", mgr.ManagerKey(buf.UnitCode, buf.ApplicationCode))
	} else if err := appMgr.SendDlDataResult(ctx, envelope.ApplicationDlDataResult{
		DataID:  buf.DataID,
		Status:  result.Status,
		Message: result.Message,
	}); err != nil {
		e.logger.Error("dldata_result_send_failed", "application", appMgr.Key(), "error", err.Error())
	}

	if err := e.store.DlDataBuffers().Del(ctx, buf.DataID); err != nil {
		e.logger.Error("dldata_buffer_delete_failed", "dataId", buf.DataID, "error", err.Error())
	}
	_ = msg.Ack(ctx)
	return "ok"
}

func recordOutcome(span interface{ SetAttributes(...attribute.KeyValue); SetStatus(codes.Code, string) }, direction, outcome string, start time.Time) {
	durationMS := int(time.Since(start).Milliseconds())
	observability.RecordDispatch(direction, outcome, durationMS)
	span.SetAttributes(attribute.String("sylvia.outcome", outcome))
	if outcome != "ok" {
		span.SetStatus(codes.Error, outcome)
	}
}
