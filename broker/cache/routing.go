// Package cache implements the broker's Routing Cache: an LRU front for the
// uplink and downlink route lookups Dispatch performs on every message, so a
// steady-state system does not hit the backing Store per message. Grounded on
// sylvia-iot-broker/src/models/memory/device_route.rs's Cache, which fronts
// three independent lru.LruCache instances (uldata, dldata, dldata_pub) and
// caches a miss as an explicit "no route" entry, not as an absent key, so a
// known-absent device doesn't re-query the store on every message either.
package cache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/observability"
)

// Options sizes the three independent LRUs. Zero values fall back to
// DefaultSize.
type Options struct {
	UlDataSize    int
	DlDataSize    int
	DlDataPubSize int
}

// DefaultSize is used for any Options field left at zero.
const DefaultSize = 10_000

// entry wraps a cached value so a cached miss (value == nil, found == true)
// is distinguishable from "not yet cached" (found == false).
type entry[T any] struct {
	value *T
}

// RoutingCache is the broker's uplink/downlink route cache, backed by Store
// on a miss.
type RoutingCache struct {
	store  models.Store
	logger observability.Logger

	uldata    *lru.Cache[string, entry[models.CacheUlData]]
	dldata    *lru.Cache[string, entry[models.CacheDlData]]
	dldataPub *lru.Cache[string, entry[models.CacheDlData]]
}

// New builds a RoutingCache fronting store. logger may be nil.
func New(opts Options, store models.Store, logger observability.Logger) (*RoutingCache, error) {
	if opts.UlDataSize <= 0 {
		opts.UlDataSize = DefaultSize
	}
	if opts.DlDataSize <= 0 {
		opts.DlDataSize = DefaultSize
	}
	if opts.DlDataPubSize <= 0 {
		opts.DlDataPubSize = DefaultSize
	}
	if logger == nil {
		logger = observability.NoopLogger()
	}

	uldata, err := lru.New[string, entry[models.CacheUlData]](opts.UlDataSize)
	if err != nil {
		return nil, err
	}
	dldata, err := lru.New[string, entry[models.CacheDlData]](opts.DlDataSize)
	if err != nil {
		return nil, err
	}
	dldataPub, err := lru.New[string, entry[models.CacheDlData]](opts.DlDataPubSize)
	if err != nil {
		return nil, err
	}

	return &RoutingCache{
		store:     store,
		logger:    logger,
		uldata:    uldata,
		dldata:    dldata,
		dldataPub: dldataPub,
	}, nil
}

// Clear purges every LRU. cmd/sylvia-iot-broker calls it when an
// invalidation event carries no typed payload to target a narrower purge.
func (c *RoutingCache) Clear() {
	c.uldata.Purge()
	c.dldata.Purge()
	c.dldataPub.Purge()
}

// GetUlData resolves the application-manager keys a device's uplink must
// reach, querying the Store on a cache miss and caching the result
// (including a "no route" miss) either way.
func (c *RoutingCache) GetUlData(ctx context.Context, deviceID string) (*models.CacheUlData, error) {
	if e, ok := c.uldata.Get(deviceID); ok {
		observability.RecordCacheLookup("uldata", true)
		return e.value, nil
	}
	observability.RecordCacheLookup("uldata", false)

	routes, _, err := c.store.DeviceRoutes().List(ctx, models.DeviceRouteListOptions{
		Cond: models.DeviceRouteListQueryCond{DeviceID: &deviceID},
	})
	if err != nil {
		return nil, err
	}

	var data *models.CacheUlData
	if len(routes) > 0 {
		keys := make([]string, 0, len(routes))
		for _, r := range routes {
			keys = append(keys, r.UnitCode+"."+r.ApplicationCode)
		}
		data = &models.CacheUlData{AppMgrKeys: keys}
	}
	c.SetUlData(deviceID, data)
	return data, nil
}

// SetUlData writes an explicit cache entry, value == nil cached as a miss.
func (c *RoutingCache) SetUlData(deviceID string, value *models.CacheUlData) {
	c.uldata.Add(deviceID, entry[models.CacheUlData]{value: value})
}

// DelUlData evicts a single device's uplink entry, called after its routes
// change.
func (c *RoutingCache) DelUlData(deviceID string) {
	c.uldata.Remove(deviceID)
}

func dlDataKey(unitCode, networkCode, networkAddr string) string {
	return unitCode + "." + networkCode + "." + networkAddr
}

// GetDlData resolves a downlink target from a (unit, network, address)
// selector.
func (c *RoutingCache) GetDlData(ctx context.Context, cond models.GetCacheQueryCond) (*models.CacheDlData, error) {
	key := dlDataKey(cond.UnitCode, cond.NetworkCode, cond.NetworkAddr)
	if e, ok := c.dldata.Get(key); ok {
		observability.RecordCacheLookup("dldata", true)
		return e.value, nil
	}
	observability.RecordCacheLookup("dldata", false)

	unitCode := cond.UnitCode
	networkCode := cond.NetworkCode
	networkAddr := cond.NetworkAddr
	device, err := c.store.Devices().Get(ctx, models.DeviceQueryCond{
		UnitCode:    &unitCode,
		NetworkCode: &networkCode,
		NetworkAddr: &networkAddr,
	})
	if err != nil {
		return nil, err
	}

	var data *models.CacheDlData
	if device != nil {
		data = &models.CacheDlData{
			NetMgrKey:   cond.UnitCode + "." + cond.NetworkCode,
			NetworkID:   device.NetworkID,
			NetworkAddr: device.NetworkAddr,
			DeviceID:    device.DeviceID,
			Profile:     device.Profile,
		}
	}
	c.SetDlData(cond, data)
	return data, nil
}

// SetDlData writes an explicit cache entry, value == nil cached as a miss.
func (c *RoutingCache) SetDlData(cond models.GetCacheQueryCond, value *models.CacheDlData) {
	key := dlDataKey(cond.UnitCode, cond.NetworkCode, cond.NetworkAddr)
	c.dldata.Add(key, entry[models.CacheDlData]{value: value})
}

// DelDlData purges downlink cache entries by prefix: a nil NetworkCode
// purges every entry under the unit, a nil NetworkAddr purges every entry
// under the (unit, network) pair, and both set purges exactly one entry.
func (c *RoutingCache) DelDlData(cond models.DelCacheQueryCond) {
	if cond.NetworkCode == nil {
		c.purgePrefix(c.dldata, cond.UnitCode+".")
		return
	}
	if cond.NetworkAddr == nil {
		c.purgePrefix(c.dldata, cond.UnitCode+"."+*cond.NetworkCode+".")
		return
	}
	c.dldata.Remove(dlDataKey(cond.UnitCode, *cond.NetworkCode, *cond.NetworkAddr))
}

func dlDataPubKey(unitID, deviceID string) string {
	return unitID + "." + deviceID
}

// GetDlDataPub resolves a downlink target for a device on a public network,
// keyed by (unit, device) rather than (network, address) since public
// networks are shared across units.
func (c *RoutingCache) GetDlDataPub(ctx context.Context, cond models.GetCachePubQueryCond) (*models.CacheDlData, error) {
	key := dlDataPubKey(cond.UnitID, cond.DeviceID)
	if e, ok := c.dldataPub.Get(key); ok {
		observability.RecordCacheLookup("dldata_pub", true)
		return e.value, nil
	}
	observability.RecordCacheLookup("dldata_pub", false)

	unitID := cond.UnitID
	deviceID := cond.DeviceID
	device, err := c.store.Devices().Get(ctx, models.DeviceQueryCond{UnitID: &unitID, DeviceID: &deviceID})
	if err != nil {
		return nil, err
	}

	var data *models.CacheDlData
	if device != nil {
		data = &models.CacheDlData{
			NetMgrKey:   device.UnitCode + "." + device.NetworkCode,
			NetworkID:   device.NetworkID,
			NetworkAddr: device.NetworkAddr,
			DeviceID:    device.DeviceID,
			Profile:     device.Profile,
		}
	}
	c.SetDlDataPub(cond, data)
	return data, nil
}

// SetDlDataPub writes an explicit cache entry, value == nil cached as a
// miss.
func (c *RoutingCache) SetDlDataPub(cond models.GetCachePubQueryCond, value *models.CacheDlData) {
	key := dlDataPubKey(cond.UnitID, cond.DeviceID)
	c.dldataPub.Add(key, entry[models.CacheDlData]{value: value})
}

// DelDlDataPub purges a unit's public-network cache entries, or one
// device's entry when DeviceID is set.
func (c *RoutingCache) DelDlDataPub(cond models.DelCachePubQueryCond) {
	if cond.DeviceID == nil {
		c.purgePrefix(c.dldataPub, cond.UnitID+".")
		return
	}
	c.dldataPub.Remove(dlDataPubKey(cond.UnitID, *cond.DeviceID))
}

func (c *RoutingCache) purgePrefix(lru *lru.Cache[string, entry[models.CacheDlData]], prefix string) {
	for _, k := range lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			lru.Remove(k)
		}
	}
}
