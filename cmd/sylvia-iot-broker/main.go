// Command sylvia-iot-broker runs the unit-scoped device routing broker:
// a Dispatch Engine fed by per-Application and per-Network queue Managers
// over a backend-agnostic queue facade (AMQP session transport or MQTT
// topic transport), backed by an in-memory data store and a bounded
// Routing Cache.
//
// Usage:
//
//	go run ./cmd/sylvia-iot-broker                  # reads BROKER_* env vars
//	go build -o sylvia-iot-broker ./cmd/sylvia-iot-broker && ./sylvia-iot-broker
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sylvia-iot/broker/broker/bus"
	"github.com/sylvia-iot/broker/broker/cache"
	"github.com/sylvia-iot/broker/broker/config"
	"github.com/sylvia-iot/broker/broker/dispatch"
	"github.com/sylvia-iot/broker/broker/mgr"
	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/models/memory"
	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/broker/typeutil"
	"github.com/sylvia-iot/broker/mq"
	"github.com/sylvia-iot/broker/mq/amqp"
	"github.com/sylvia-iot/broker/mq/mqtt"
)

func main() {
	cfg := config.LoadEnv()
	logger := observability.NewStdLogger()
	logger.Info("broker_starting", "service", cfg.ServiceName)

	shutdownTracer, err := observability.InitTracer(cfg.ServiceName, cfg.TracingCollectorEndpoint)
	if err != nil {
		logger.Error("tracer_init_failed", "error", err.Error())
		os.Exit(1)
	}

	store := memory.NewStore(logger)
	stopSweep := store.StartDlDataBufferSweep(cfg.DlDataBufferSweepInterval)

	routingCache, err := cache.New(cache.Options{
		UlDataSize:    cfg.CacheUlDataSize,
		DlDataSize:    cfg.CacheDlDataSize,
		DlDataPubSize: cfg.CacheDlDataPubSize,
	}, store, logger)
	if err != nil {
		logger.Error("routing_cache_init_failed", "error", err.Error())
		os.Exit(1)
	}

	controlBus := bus.New(logger)
	wireRoutingCacheInvalidation(controlBus, routingCache)

	pool := mq.NewPool(logger)

	amqpURI, err := mq.CanonicalSessionURI(cfg.AMQPURI)
	if err != nil {
		logger.Error("amqp_uri_invalid", "uri", cfg.AMQPURI, "error", err.Error())
		os.Exit(1)
	}
	amqpConn, err := pool.Acquire(amqpURI, amqp.Factory(amqp.ConnectionOptions{URI: cfg.AMQPURI, Logger: logger}))
	if err != nil {
		logger.Error("amqp_connect_failed", "error", err.Error())
		os.Exit(1)
	}

	mqttURI, err := mq.CanonicalTopicURI(cfg.MQTTURI, "")
	if err != nil {
		logger.Error("mqtt_uri_invalid", "uri", cfg.MQTTURI, "error", err.Error())
		os.Exit(1)
	}
	mqttConn, err := pool.Acquire(mqttURI, mqtt.Factory(mqtt.ConnectionOptions{URI: cfg.MQTTURI, Logger: logger}))
	if err != nil {
		logger.Error("mqtt_connect_failed", "error", err.Error())
		os.Exit(1)
	}

	apps := mgr.NewApplicationRegistry()
	networks := mgr.NewNetworkRegistry()

	engine, err := dispatch.New(dispatch.Options{
		Store:           store,
		Cache:           routingCache,
		Applications:    apps.Lookup,
		Networks:        networks.Lookup,
		Logger:          logger,
		DlDataBufferTTL: cfg.DlDataBufferTTL,
	})
	if err != nil {
		logger.Error("dispatch_engine_init_failed", "error", err.Error())
		os.Exit(1)
	}

	prov := &provisioner{
		cfg:      cfg,
		logger:   logger,
		amqpConn: amqpConn.Connection(),
		mqttConn: mqttConn.Connection(),
		apps:     apps,
		networks: networks,
		engine:   engine,
	}
	wireManagerProvisioning(controlBus, prov)
	prov.bootstrap(context.Background(), store)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server_failed", "error", err.Error())
			}
		}()
		logger.Info("metrics_server_listening", "addr", cfg.MetricsAddr)
	}

	logger.Info("broker_ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopSweep()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	for _, key := range apps.Keys() {
		if m, ok := apps.Remove(key); ok {
			_ = m.Close(shutdownCtx)
		}
	}
	for _, key := range networks.Keys() {
		if m, ok := networks.Remove(key); ok {
			_ = m.Close(shutdownCtx)
		}
	}
	_ = amqpConn.Release(shutdownCtx)
	_ = mqttConn.Release(shutdownCtx)
	_ = shutdownTracer(shutdownCtx)

	logger.Info("broker_stopped")
}

// wireRoutingCacheInvalidation subscribes the Routing Cache to every entity
// kind whose mutation can stale a cached route: device, device_route,
// network. Each handler purges only the prefix the event's payload names,
// rather than flushing every LRU on every mutation. network_route carries no
// subscription here: the Dispatch Engine resolves network-route fan-out with
// a live store query on every uplink (Engine.resolveUlTargets), so nothing
// it produces is ever cached.
func wireRoutingCacheInvalidation(b *bus.ControlBus, rc *cache.RoutingCache) {
	b.Subscribe(bus.KindDevice, func(ctx context.Context, event bus.Event) {
		device, ok := event.Payload.(models.Device)
		if !ok {
			rc.Clear()
			return
		}
		rc.DelUlData(device.DeviceID)
		if device.UnitCode == "" {
			deviceID := device.DeviceID
			rc.DelDlDataPub(models.DelCachePubQueryCond{UnitID: device.UnitID, DeviceID: &deviceID})
			return
		}
		networkCode, networkAddr := device.NetworkCode, device.NetworkAddr
		rc.DelDlData(models.DelCacheQueryCond{
			UnitCode:    device.UnitCode,
			NetworkCode: &networkCode,
			NetworkAddr: &networkAddr,
		})
	})

	b.Subscribe(bus.KindDeviceRoute, func(ctx context.Context, event bus.Event) {
		route, ok := event.Payload.(models.DeviceRoute)
		if !ok {
			rc.Clear()
			return
		}
		rc.DelUlData(route.DeviceID)
	})

	b.Subscribe(bus.KindNetwork, func(ctx context.Context, event bus.Event) {
		network, ok := event.Payload.(models.Network)
		if !ok {
			rc.Clear()
			return
		}
		code := network.Code
		rc.DelDlData(models.DelCacheQueryCond{UnitCode: network.UnitCode, NetworkCode: &code})
	})
}

// queueFactoryFor adapts amqp.NewQueue/mqtt.NewQueue to mgr.QueueFactory.
func queueFactoryFor(transport mgr.Transport) mgr.QueueFactory {
	return func(opts mq.QueueOptions, conn mq.Connection) (mq.Queue, error) {
		switch transport {
		case mgr.TransportSession:
			c, ok := conn.(*amqp.Connection)
			if !ok {
				return nil, fmt.Errorf("sylvia-iot-broker: expected *amqp.Connection for session transport")
			}
			return amqp.NewQueue(opts, c)
		case mgr.TransportTopic:
			c, ok := conn.(*mqtt.Connection)
			if !ok {
				return nil, fmt.Errorf("sylvia-iot-broker: expected *mqtt.Connection for topic transport")
			}
			return mqtt.NewQueue(opts, c)
		default:
			return nil, fmt.Errorf("sylvia-iot-broker: unknown transport %v", transport)
		}
	}
}

// provisioner builds and tears down ApplicationMgr/NetworkMgr instances as
// Control Bus add/del events arrive, and on startup for whatever the Store
// already holds.
type provisioner struct {
	cfg      *config.Config
	logger   observability.Logger
	amqpConn mq.Connection
	mqttConn mq.Connection
	apps     *mgr.ApplicationRegistry
	networks *mgr.NetworkRegistry
	engine   *dispatch.Engine
}

func (p *provisioner) connFor(transport mgr.Transport) mq.Connection {
	if transport == mgr.TransportTopic {
		return p.mqttConn
	}
	return p.amqpConn
}

func (p *provisioner) provisionApplication(app models.Application, transport mgr.Transport) {
	m, err := mgr.NewApplicationMgr(mgr.ApplicationOptions{
		ApplicationID:   app.ApplicationID,
		UnitID:          app.UnitID,
		UnitCode:        app.UnitCode,
		Code:            app.Code,
		Transport:       transport,
		Reliable:        true,
		Persistent:      true,
		Prefetch:        16,
		SharedPrefix:    "$share/" + p.cfg.SharedSubscriptionGroup + "/",
		ReconnectMillis: mq.DefaultReconnectMillis,
	}, p.connFor(transport), queueFactoryFor(transport), p.engine.HandleDlData, p.logger)
	if err != nil {
		p.logger.Error("application_provision_failed", "application", app.Code, "error", err.Error())
		return
	}
	if err := m.Connect(); err != nil {
		p.logger.Error("application_connect_failed", "application", app.Code, "error", err.Error())
	}
	p.apps.Put(m)
}

func (p *provisioner) deprovisionApplication(ctx context.Context, key string) {
	if m, ok := p.apps.Remove(key); ok {
		_ = m.Close(ctx)
	}
}

func (p *provisioner) provisionNetwork(network models.Network, transport mgr.Transport) {
	m, err := mgr.NewNetworkMgr(mgr.NetworkOptions{
		NetworkID:       network.NetworkID,
		UnitID:          network.UnitID,
		UnitCode:        network.UnitCode,
		Code:            network.Code,
		Transport:       transport,
		Reliable:        true,
		Persistent:      true,
		Prefetch:        16,
		SharedPrefix:    "$share/" + p.cfg.SharedSubscriptionGroup + "/",
		ReconnectMillis: mq.DefaultReconnectMillis,
	}, p.connFor(transport), queueFactoryFor(transport), p.engine.HandleUlData, p.engine.HandleDlDataResult, p.logger)
	if err != nil {
		p.logger.Error("network_provision_failed", "network", network.Code, "error", err.Error())
		return
	}
	if err := m.Connect(); err != nil {
		p.logger.Error("network_connect_failed", "network", network.Code, "error", err.Error())
	}
	p.networks.Put(m)
}

func (p *provisioner) deprovisionNetwork(ctx context.Context, key string) {
	if m, ok := p.networks.Remove(key); ok {
		_ = m.Close(ctx)
	}
}

// bootstrap provisions a Manager for every Application/Network already in
// store at startup, defaulting every one to the session transport; a real
// deployment would record each entity's transport as part of its HostURI
// scheme and branch on it here.
func (p *provisioner) bootstrap(ctx context.Context, store models.Store) {
	apps, _, err := store.Applications().List(ctx, models.ApplicationListOptions{})
	if err != nil {
		p.logger.Error("bootstrap_applications_failed", "error", err.Error())
	}
	for _, app := range apps {
		p.provisionApplication(app, mgr.TransportSession)
	}

	networks, _, err := store.Networks().List(ctx, models.NetworkListOptions{})
	if err != nil {
		p.logger.Error("bootstrap_networks_failed", "error", err.Error())
	}
	for _, n := range networks {
		p.provisionNetwork(n, mgr.TransportSession)
	}
}

// wireManagerProvisioning subscribes p's provision/deprovision methods to
// the Control Bus application and network kinds.
func wireManagerProvisioning(b *bus.ControlBus, p *provisioner) {
	b.Subscribe(bus.KindApplication, func(ctx context.Context, event bus.Event) {
		switch event.Operation {
		case bus.OpAdd, bus.OpUpdate:
			if app, ok := event.Payload.(models.Application); ok {
				p.deprovisionApplication(ctx, mgr.ManagerKey(app.UnitCode, app.Code))
				p.provisionApplication(app, mgr.TransportSession)
			}
		case bus.OpDel:
			if key, ok := typeutil.SafeString(event.Payload); ok {
				p.deprovisionApplication(ctx, key)
			}
		}
	})

	b.Subscribe(bus.KindNetwork, func(ctx context.Context, event bus.Event) {
		network, ok := event.Payload.(models.Network)
		if !ok {
			return
		}
		switch event.Operation {
		case bus.OpAdd, bus.OpUpdate:
			p.deprovisionNetwork(ctx, mgr.ManagerKey(network.UnitCode, network.Code))
			p.provisionNetwork(network, mgr.TransportSession)
		case bus.OpDel:
			p.deprovisionNetwork(ctx, mgr.ManagerKey(network.UnitCode, network.Code))
		}
	})
}
