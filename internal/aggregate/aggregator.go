package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/peteroluoch/africa-offline-os/internal/storage"
)

// Entity types the regional rollups understand. Anything else replicates
// through the node untouched but is invisible to the dashboard.
const (
	EntityFarmer  = "farmer"
	EntityHarvest = "harvest"
	EntityRoute   = "transport_route"
	EntityBooking = "transport_booking"
	EntityVehicle = "vehicle"
)

// HarvestRollup totals harvests of one crop across all villages.
type HarvestRollup struct {
	CropType      string  `json:"crop_type"`
	TotalQuantity float64 `json:"total_quantity"`
	FarmerCount   int     `json:"farmer_count"`
	HarvestCount  int     `json:"harvest_count"`
}

// RouteUtilization reports bookings per transport route. Routes with no
// recent bookings still appear with zero counts.
type RouteUtilization struct {
	RouteID         string `json:"route_id"`
	RouteName       string `json:"route_name"`
	BookingCount    int    `json:"booking_count"`
	TotalPassengers int    `json:"total_passengers"`
}

// VillageSummary is the headline figure set for the regional dashboard.
type VillageSummary struct {
	TotalFarmers     int     `json:"total_farmers"`
	TotalHarvests30d int     `json:"total_harvests_30d"`
	TotalQuantity30d float64 `json:"total_quantity_30d"`
	TotalRoutes      int     `json:"total_routes"`
	TotalVehicles    int     `json:"total_vehicles"`
}

type harvestPayload struct {
	CropType string  `json:"crop_type"`
	Quantity float64 `json:"quantity"`
	FarmerID string  `json:"farmer_id"`
}

type bookingPayload struct {
	RouteID    string `json:"route_id"`
	Passengers int    `json:"passengers"`
}

type routePayload struct {
	Name string `json:"name"`
}

// RegionalAggregator computes cross-village analytics from the merged entity
// state. It never reads the change log or mid-session data: the shared read
// gate keeps every read out of in-flight sync sessions, so rollups only ever
// see fully committed state.
type RegionalAggregator struct {
	store  storage.EntityStore
	gate   *sync.RWMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewRegionalAggregator creates an aggregator over the given entity store.
// The gate must be the sync engine's read gate.
func NewRegionalAggregator(store storage.EntityStore, gate *sync.RWMutex, logger *slog.Logger) *RegionalAggregator {
	return &RegionalAggregator{
		store:  store,
		gate:   gate,
		logger: logger,
		now:    time.Now,
	}
}

// HarvestRollups totals harvests by crop type over the last N days,
// largest quantity first.
func (a *RegionalAggregator) HarvestRollups(ctx context.Context, days int) ([]HarvestRollup, error) {
	a.gate.RLock()
	defer a.gate.RUnlock()

	since := a.now().AddDate(0, 0, -days).Unix()

	harvests, err := a.store.ListEntitiesByType(ctx, EntityHarvest, since)
	if err != nil {
		return nil, fmt.Errorf("list harvests: %w", err)
	}

	type acc struct {
		quantity float64
		farmers  map[string]bool
		count    int
	}
	byCrop := make(map[string]*acc)

	for _, e := range harvests {
		var p harvestPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			a.logger.Warn("Skipping harvest with malformed payload",
				"entity_id", e.EntityID, "error", err)
			continue
		}
		c := byCrop[p.CropType]
		if c == nil {
			c = &acc{farmers: make(map[string]bool)}
			byCrop[p.CropType] = c
		}
		c.quantity += p.Quantity
		c.count++
		if p.FarmerID != "" {
			c.farmers[p.FarmerID] = true
		}
	}

	rollups := make([]HarvestRollup, 0, len(byCrop))
	for crop, c := range byCrop {
		rollups = append(rollups, HarvestRollup{
			CropType:      crop,
			TotalQuantity: c.quantity,
			FarmerCount:   len(c.farmers),
			HarvestCount:  c.count,
		})
	}

	sort.Slice(rollups, func(i, j int) bool {
		if rollups[i].TotalQuantity != rollups[j].TotalQuantity {
			return rollups[i].TotalQuantity > rollups[j].TotalQuantity
		}
		return rollups[i].CropType < rollups[j].CropType
	})

	return rollups, nil
}

// TransportUtilization reports bookings per route over the last N days,
// busiest route first. Every known route appears, booked or not.
func (a *RegionalAggregator) TransportUtilization(ctx context.Context, days int) ([]RouteUtilization, error) {
	a.gate.RLock()
	defer a.gate.RUnlock()

	since := a.now().AddDate(0, 0, -days).Unix()

	routes, err := a.store.ListEntitiesByType(ctx, EntityRoute, 0)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	bookings, err := a.store.ListEntitiesByType(ctx, EntityBooking, since)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	byRoute := make(map[string]*RouteUtilization, len(routes))
	order := make([]string, 0, len(routes))
	for _, e := range routes {
		var p routePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			a.logger.Warn("Skipping route with malformed payload",
				"entity_id", e.EntityID, "error", err)
			continue
		}
		byRoute[e.EntityID] = &RouteUtilization{RouteID: e.EntityID, RouteName: p.Name}
		order = append(order, e.EntityID)
	}

	for _, e := range bookings {
		var p bookingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			a.logger.Warn("Skipping booking with malformed payload",
				"entity_id", e.EntityID, "error", err)
			continue
		}
		u := byRoute[p.RouteID]
		if u == nil {
			// Booking replicated ahead of its route entity.
			u = &RouteUtilization{RouteID: p.RouteID}
			byRoute[p.RouteID] = u
			order = append(order, p.RouteID)
		}
		u.BookingCount++
		u.TotalPassengers += p.Passengers
	}

	utilization := make([]RouteUtilization, 0, len(order))
	for _, id := range order {
		utilization = append(utilization, *byRoute[id])
	}

	sort.Slice(utilization, func(i, j int) bool {
		if utilization[i].BookingCount != utilization[j].BookingCount {
			return utilization[i].BookingCount > utilization[j].BookingCount
		}
		return utilization[i].RouteID < utilization[j].RouteID
	})

	return utilization, nil
}

// VillageSummary computes the dashboard headline figures.
func (a *RegionalAggregator) VillageSummary(ctx context.Context) (*VillageSummary, error) {
	a.gate.RLock()
	defer a.gate.RUnlock()

	counts, err := a.store.CountEntitiesByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}

	since := a.now().AddDate(0, 0, -30).Unix()
	harvests, err := a.store.ListEntitiesByType(ctx, EntityHarvest, since)
	if err != nil {
		return nil, fmt.Errorf("list harvests: %w", err)
	}

	var quantity float64
	for _, e := range harvests {
		var p harvestPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		quantity += p.Quantity
	}

	return &VillageSummary{
		TotalFarmers:     counts[EntityFarmer],
		TotalHarvests30d: len(harvests),
		TotalQuantity30d: quantity,
		TotalRoutes:      counts[EntityRoute],
		TotalVehicles:    counts[EntityVehicle],
	}, nil
}
