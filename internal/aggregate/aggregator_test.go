package aggregate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteroluoch/africa-offline-os/internal/models"
	"github.com/peteroluoch/africa-offline-os/internal/storage/sqlite"
	"github.com/peteroluoch/africa-offline-os/internal/vclock"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*RegionalAggregator, *sqlite.Storage) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := NewRegionalAggregator(store, &sync.RWMutex{}, logger)
	agg.now = func() time.Time { return fixedNow }

	return agg, store
}

func putEntity(t *testing.T, store *sqlite.Storage, entityType, entityID, payload string, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertEntity(context.Background(), &models.Entity{
		EntityType:   entityType,
		EntityID:     entityID,
		Payload:      []byte(payload),
		Clock:        vclock.VectorClock{"node-a": 1},
		LastChangeID: "c-" + entityID,
		UpdatedAt:    updatedAt,
	}))
}

func TestHarvestRollups(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	recent := fixedNow.Add(-24 * time.Hour)
	putEntity(t, store, EntityHarvest, "h-1", `{"crop_type":"maize","quantity":50,"farmer_id":"f-1"}`, recent)
	putEntity(t, store, EntityHarvest, "h-2", `{"crop_type":"maize","quantity":30,"farmer_id":"f-2"}`, recent)
	putEntity(t, store, EntityHarvest, "h-3", `{"crop_type":"maize","quantity":20,"farmer_id":"f-1"}`, recent)
	putEntity(t, store, EntityHarvest, "h-4", `{"crop_type":"cassava","quantity":200,"farmer_id":"f-3"}`, recent)
	// Outside the window.
	putEntity(t, store, EntityHarvest, "h-old", `{"crop_type":"maize","quantity":999,"farmer_id":"f-9"}`, fixedNow.Add(-60*24*time.Hour))

	rollups, err := agg.HarvestRollups(ctx, 30)
	require.NoError(t, err)

	require.Len(t, rollups, 2)
	assert.Equal(t, HarvestRollup{
		CropType: "cassava", TotalQuantity: 200, FarmerCount: 1, HarvestCount: 1,
	}, rollups[0], "largest quantity first")
	assert.Equal(t, HarvestRollup{
		CropType: "maize", TotalQuantity: 100, FarmerCount: 2, HarvestCount: 3,
	}, rollups[1])
}

func TestHarvestRollups_MalformedPayloadSkipped(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	recent := fixedNow.Add(-time.Hour)
	putEntity(t, store, EntityHarvest, "h-1", `{"crop_type":"maize","quantity":50}`, recent)
	putEntity(t, store, EntityHarvest, "h-bad", `not json`, recent)

	rollups, err := agg.HarvestRollups(ctx, 30)
	require.NoError(t, err)

	require.Len(t, rollups, 1)
	assert.Equal(t, "maize", rollups[0].CropType)
	assert.Equal(t, 1, rollups[0].HarvestCount)
}

func TestHarvestRollups_Empty(t *testing.T) {
	agg, _ := newTestAggregator(t)

	rollups, err := agg.HarvestRollups(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, rollups)
}

func TestTransportUtilization(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	recent := fixedNow.Add(-time.Hour)
	putEntity(t, store, EntityRoute, "r-1", `{"name":"Kibera - Market"}`, recent)
	putEntity(t, store, EntityRoute, "r-2", `{"name":"Village Loop"}`, recent)
	putEntity(t, store, EntityBooking, "b-1", `{"route_id":"r-1","passengers":3}`, recent)
	putEntity(t, store, EntityBooking, "b-2", `{"route_id":"r-1","passengers":2}`, recent)

	utilization, err := agg.TransportUtilization(ctx, 7)
	require.NoError(t, err)

	require.Len(t, utilization, 2)
	assert.Equal(t, RouteUtilization{
		RouteID: "r-1", RouteName: "Kibera - Market", BookingCount: 2, TotalPassengers: 5,
	}, utilization[0], "busiest route first")
	assert.Equal(t, RouteUtilization{
		RouteID: "r-2", RouteName: "Village Loop",
	}, utilization[1], "unbooked routes still appear")
}

func TestTransportUtilization_BookingBeforeRoute(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	// The booking replicated in but its route has not arrived yet.
	putEntity(t, store, EntityBooking, "b-1", `{"route_id":"r-ghost","passengers":4}`, fixedNow.Add(-time.Hour))

	utilization, err := agg.TransportUtilization(ctx, 7)
	require.NoError(t, err)

	require.Len(t, utilization, 1)
	assert.Equal(t, "r-ghost", utilization[0].RouteID)
	assert.Empty(t, utilization[0].RouteName)
	assert.Equal(t, 1, utilization[0].BookingCount)
	assert.Equal(t, 4, utilization[0].TotalPassengers)
}

func TestTransportUtilization_OldBookingsExcluded(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	putEntity(t, store, EntityRoute, "r-1", `{"name":"Kibera - Market"}`, fixedNow.Add(-90*24*time.Hour))
	putEntity(t, store, EntityBooking, "b-old", `{"route_id":"r-1","passengers":7}`, fixedNow.Add(-30*24*time.Hour))

	utilization, err := agg.TransportUtilization(ctx, 7)
	require.NoError(t, err)

	// Routes have no recency window, bookings do.
	require.Len(t, utilization, 1)
	assert.Zero(t, utilization[0].BookingCount)
}

func TestVillageSummary(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t)

	recent := fixedNow.Add(-time.Hour)
	putEntity(t, store, EntityFarmer, "f-1", `{"name":"Amina"}`, recent)
	putEntity(t, store, EntityFarmer, "f-2", `{"name":"Kwame"}`, recent)
	putEntity(t, store, EntityHarvest, "h-1", `{"crop_type":"maize","quantity":40,"farmer_id":"f-1"}`, recent)
	putEntity(t, store, EntityHarvest, "h-old", `{"crop_type":"maize","quantity":100,"farmer_id":"f-2"}`, fixedNow.Add(-45*24*time.Hour))
	putEntity(t, store, EntityRoute, "r-1", `{"name":"Loop"}`, recent)
	putEntity(t, store, EntityVehicle, "v-1", `{"kind":"matatu"}`, recent)

	summary, err := agg.VillageSummary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalFarmers)
	assert.Equal(t, 1, summary.TotalHarvests30d, "30 day window")
	assert.Equal(t, float64(40), summary.TotalQuantity30d)
	assert.Equal(t, 1, summary.TotalRoutes)
	assert.Equal(t, 1, summary.TotalVehicles)
}
