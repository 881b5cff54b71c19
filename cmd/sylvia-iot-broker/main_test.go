package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/broker/bus"
	"github.com/sylvia-iot/broker/broker/cache"
	"github.com/sylvia-iot/broker/broker/config"
	"github.com/sylvia-iot/broker/broker/dispatch"
	"github.com/sylvia-iot/broker/broker/mgr"
	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/models/memory"
	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/mq/amqp"
	"github.com/sylvia-iot/broker/mq/mqtt"
)

// newTestProvisioner builds a provisioner over a fresh in-memory Store and
// Dispatch Engine, with real (but unconnected-to-any-broker) amqp/mqtt
// Connections, matching mq/amqp and mq/mqtt's own test pattern of a tiny
// ReconnectMillis so Connect/Close never block waiting on a real broker.
func newTestProvisioner(t *testing.T) *provisioner {
	t.Helper()
	store := memory.NewStore(nil)
	rc, err := cache.New(cache.Options{}, store, nil)
	require.NoError(t, err)
	engine, err := dispatch.New(dispatch.Options{
		Store:        store,
		Cache:        rc,
		Applications: mgr.NewApplicationRegistry().Lookup,
		Networks:     mgr.NewNetworkRegistry().Lookup,
	})
	require.NoError(t, err)

	amqpConn, err := amqp.New(amqp.ConnectionOptions{ReconnectMillis: 5})
	require.NoError(t, err)
	mqttConn, err := mqtt.New(mqtt.ConnectionOptions{ReconnectMillis: 5, ConnectTimeoutMillis: 5})
	require.NoError(t, err)

	return &provisioner{
		cfg:      config.Default(),
		logger:   observability.NoopLogger(),
		amqpConn: amqpConn,
		mqttConn: mqttConn,
		apps:     mgr.NewApplicationRegistry(),
		networks: mgr.NewNetworkRegistry(),
		engine:   engine,
	}
}

func newTestRoutingCache(t *testing.T) (*cache.RoutingCache, models.Store) {
	t.Helper()
	store := memory.NewStore(nil)
	rc, err := cache.New(cache.Options{}, store, nil)
	require.NoError(t, err)
	return rc, store
}

func TestWireRoutingCacheInvalidationDeviceEventPurgesOnlyThatDevicesEntries(t *testing.T) {
	rc, store := newTestRoutingCache(t)
	ctx := context.Background()

	require.NoError(t, store.DeviceRoutes().Add(ctx, &models.DeviceRoute{
		RouteID: "route-1", UnitCode: "unit1", ApplicationCode: "app1", DeviceID: "dev-1",
	}))
	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-1", UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011",
	}))
	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-2", UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0022",
	}))

	// Warm both devices' downlink entries and dev-1's uplink entry.
	_, err := rc.GetUlData(ctx, "dev-1")
	require.NoError(t, err)
	_, err = rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)
	_, err = rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0022"})
	require.NoError(t, err)

	b := bus.New(nil)
	wireRoutingCacheInvalidation(b, rc)

	b.Publish(ctx, bus.Event{
		Kind:      bus.KindDevice,
		Operation: bus.OpUpdate,
		Payload: models.Device{
			DeviceID: "dev-1", UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011",
		},
	})

	// dev-1's entries are gone, dev-2's survive the targeted purge.
	routeID := "route-1"
	require.NoError(t, store.DeviceRoutes().Del(ctx, models.DeviceRouteQueryCond{RouteID: &routeID}))
	data, err := rc.GetUlData(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.Devices().Del(ctx, models.DeviceQueryCond{DeviceID: strptr("dev-2")}))
	dl, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0022"})
	require.NoError(t, err)
	assert.NotNil(t, dl, "dev-2's cached entry must survive an unrelated device invalidation")
}

func TestWireRoutingCacheInvalidationDeviceRouteEventPurgesOnlyUlData(t *testing.T) {
	rc, store := newTestRoutingCache(t)
	ctx := context.Background()

	require.NoError(t, store.DeviceRoutes().Add(ctx, &models.DeviceRoute{
		RouteID: "route-1", UnitCode: "unit1", ApplicationCode: "app1", DeviceID: "dev-1",
	}))
	_, err := rc.GetUlData(ctx, "dev-1")
	require.NoError(t, err)

	b := bus.New(nil)
	wireRoutingCacheInvalidation(b, rc)

	routeID := "route-1"
	require.NoError(t, store.DeviceRoutes().Del(ctx, models.DeviceRouteQueryCond{RouteID: &routeID}))
	b.Publish(ctx, bus.Event{
		Kind:      bus.KindDeviceRoute,
		Operation: bus.OpDel,
		Payload:   models.DeviceRoute{RouteID: "route-1", UnitCode: "unit1", ApplicationCode: "app1", DeviceID: "dev-1"},
	})

	data, err := rc.GetUlData(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWireRoutingCacheInvalidationNetworkEventPurgesByUnitAndNetworkPrefix(t *testing.T) {
	rc, store := newTestRoutingCache(t)
	ctx := context.Background()

	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-1", UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011",
	}))
	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-2", UnitCode: "unit2", NetworkCode: "lora", NetworkAddr: "0011",
	}))
	_, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)
	_, err = rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit2", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)

	b := bus.New(nil)
	wireRoutingCacheInvalidation(b, rc)

	require.NoError(t, store.Devices().Del(ctx, models.DeviceQueryCond{DeviceID: strptr("dev-1")}))
	b.Publish(ctx, bus.Event{
		Kind:      bus.KindNetwork,
		Operation: bus.OpDel,
		Payload:   models.Network{UnitCode: "unit1", Code: "lora"},
	})

	dl1, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)
	assert.Nil(t, dl1)

	dl2, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit2", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)
	assert.NotNil(t, dl2, "unit2's entry must survive a unit1-scoped network invalidation")
}

func TestWireRoutingCacheInvalidationFallsBackToClearOnUntypedPayload(t *testing.T) {
	rc, store := newTestRoutingCache(t)
	ctx := context.Background()

	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-1", UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011",
	}))
	require.NoError(t, store.Devices().Add(ctx, &models.Device{
		DeviceID: "dev-2", UnitCode: "unit2", NetworkCode: "zigbee", NetworkAddr: "0099",
	}))
	_, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit1", NetworkCode: "lora", NetworkAddr: "0011"})
	require.NoError(t, err)
	_, err = rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit2", NetworkCode: "zigbee", NetworkAddr: "0099"})
	require.NoError(t, err)

	b := bus.New(nil)
	wireRoutingCacheInvalidation(b, rc)

	// A malformed event (no typed Payload) falls back to a full Clear
	// rather than panicking on a failed type assertion.
	b.Publish(ctx, bus.Event{Kind: bus.KindDevice, Operation: bus.OpDel})

	require.NoError(t, store.Devices().Del(ctx, models.DeviceQueryCond{DeviceID: strptr("dev-2")}))
	dl, err := rc.GetDlData(ctx, models.GetCacheQueryCond{UnitCode: "unit2", NetworkCode: "zigbee", NetworkAddr: "0099"})
	require.NoError(t, err)
	assert.Nil(t, dl, "fallback Clear must purge every entry, including ones unrelated to the malformed event")
}

func TestWireManagerProvisioningAddThenDelNetworkByTypedPayload(t *testing.T) {
	p := newTestProvisioner(t)
	b := bus.New(nil)
	wireManagerProvisioning(b, p)

	network := models.Network{NetworkID: "net-1", UnitID: "unit-id-1", UnitCode: "unit1", Code: "net1"}
	ctx := context.Background()

	b.Publish(ctx, bus.Event{Kind: bus.KindNetwork, Operation: bus.OpAdd, Payload: network})
	_, ok := p.networks.Lookup(mgr.ManagerKey("unit1", "net1"))
	require.True(t, ok, "OpAdd must provision a NetworkMgr under its manager key")

	b.Publish(ctx, bus.Event{Kind: bus.KindNetwork, Operation: bus.OpDel, Payload: network})
	_, ok = p.networks.Lookup(mgr.ManagerKey("unit1", "net1"))
	assert.False(t, ok, "OpDel must deprovision the same manager key carried in its typed Payload")
}

func TestWireManagerProvisioningIgnoresNetworkEventWithoutTypedPayload(t *testing.T) {
	p := newTestProvisioner(t)
	b := bus.New(nil)
	wireManagerProvisioning(b, p)

	b.Publish(context.Background(), bus.Event{Kind: bus.KindNetwork, Operation: bus.OpDel})

	assert.Empty(t, p.networks.Keys(), "a malformed event must not panic or provision/deprovision anything")
}

func strptr(s string) *string { return &s }
