package services

import (
	"testing"

	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minutes(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func TestBuildSyncStops(t *testing.T) {
	stops := BuildSyncStops([]models.SyncStop{
		{Title: "Parque", Address: "Calle 30", Order: models.NewFlexFloat(2)},
		{ID: "P-1", Address: "Calle 10", Order: models.NewFlexFloat(0), Status: "BOARDED"},
		{Key: "calle-20", SourceIndex: models.NewFlexFloat(1), Minutes: models.NewFlexFloat(4)},
		{},
	})

	require.Len(t, stops, 4)
	assert.Equal(t, "p-1", stops[0].Key)
	assert.Equal(t, "boarded", stops[0].Status)
	assert.True(t, stops[0].IsBoarded())

	assert.Equal(t, "calle-20", stops[1].Key)
	require.NotNil(t, stops[1].Minutes)
	assert.Equal(t, 4.0, *stops[1].Minutes)

	assert.Equal(t, "calle 30", stops[2].Key)
	assert.Nil(t, stops[2].Minutes)

	// no identity and no order: key from position, order from index
	assert.Equal(t, "paradero-4", stops[3].Key)
	assert.Equal(t, 3.0, stops[3].Order)
}

func TestBuildSyncStops_RoundsMinutesAndOrder(t *testing.T) {
	stops := BuildSyncStops([]models.SyncStop{
		{ID: "p1", Order: models.NewFlexFloat(0.4), Minutes: models.NewFlexFloat(5.4)},
		{ID: "p2", Order: models.NewFlexFloat(1.6), Minutes: models.NewFlexFloat(15.3)},
	})
	require.Len(t, stops, 2)
	assert.Equal(t, 0.0, stops[0].Order)
	assert.Equal(t, 2.0, stops[1].Order)

	near := EvaluateETA(&stops[0], false, false, models.PushState{}, "Sofia")
	require.NotNil(t, near)
	assert.Equal(t, models.NotificationETA5, near.Kind)

	far := EvaluateETA(&stops[1], false, false, models.PushState{}, "Sofia")
	require.NotNil(t, far)
	assert.Equal(t, models.NotificationETA15, far.Kind)
}

func TestFindChangedStop(t *testing.T) {
	stops := BuildSyncStops([]models.SyncStop{
		{ID: "p1", Address: "Calle 10 # 5-20", Title: "Parque"},
		{ID: "p2", Address: "Calle 20 # 8-10"},
	})

	t.Run("by key", func(t *testing.T) {
		changed := FindChangedStop(stops, &models.SyncStop{ID: "P1", Status: "boarded"})
		require.NotNil(t, changed)
		assert.Equal(t, "p1", changed.Key)
		assert.Equal(t, "boarded", changed.Status)
		assert.Empty(t, stops[0].Status)
	})

	t.Run("by address", func(t *testing.T) {
		changed := FindChangedStop(stops, &models.SyncStop{ID: "other", Address: "calle 20 #8-10"})
		require.NotNil(t, changed)
		assert.Equal(t, "p2", changed.Key)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Nil(t, FindChangedStop(stops, &models.SyncStop{ID: "p9"}))
		assert.Nil(t, FindChangedStop(stops, nil))
	})
}

func TestResolveStudentStop(t *testing.T) {
	stops := BuildSyncStops([]models.SyncStop{
		{ID: "p1", Address: "Calle 10 # 5-20, Bogotá", Title: "Parque Central"},
		{ID: "p2", Address: "Carrera 7 # 45-10"},
	})

	tests := []struct {
		name     string
		address  string
		expected string
	}{
		{"exact first segment", "Calle 10 # 5-20", "p1"},
		{"title match", "Parque Central", "p1"},
		{"segment of student address", "Carrera 7 # 45-10, Apto 301", "p2"},
		{"containment", "Carrera 7 # 45-10 Torre 2", "p2"},
		{"no match", "Avenida 68", ""},
		{"empty address", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop := ResolveStudentStop(stops, &models.Profile{StopAddress: models.FlexString(tt.address)})
			if tt.expected == "" {
				assert.Nil(t, stop)
				return
			}
			require.NotNil(t, stop)
			assert.Equal(t, tt.expected, stop.Key)
		})
	}
}

func TestResolveStudentStop_TitleOnlyStops(t *testing.T) {
	stops := BuildSyncStops([]models.SyncStop{
		{ID: "p1", Title: "Calle 10"},
		{ID: "p2", Title: "Carrera 7 # 45-10 Torre Norte"},
	})

	tests := []struct {
		name     string
		address  string
		expected string
	}{
		{"title inside student address", "Calle 10 # 5-20, Bogota", "p1"},
		{"student address inside title", "Carrera 7 # 45-10, Bogota", "p2"},
		{"no overlap", "Avenida 68 # 1-2, Bogota", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop := ResolveStudentStop(stops, &models.Profile{StopAddress: models.FlexString(tt.address)})
			if tt.expected == "" {
				assert.Nil(t, stop)
				return
			}
			require.NotNil(t, stop)
			assert.Equal(t, tt.expected, stop.Key)
		})
	}
}

func TestEvaluateETA(t *testing.T) {
	stop := func(m *float64) *SyncStopView { return &SyncStopView{Key: "p2", Minutes: m} }

	tests := []struct {
		name     string
		stop     *SyncStopView
		absent   bool
		boarded  bool
		state    models.PushState
		wantKind string
		implies  bool
	}{
		{"near sends eta5", stop(minutes(4)), false, false, models.PushState{}, models.NotificationETA5, true},
		{"near after eta15", stop(minutes(5)), false, false, models.PushState{ETA15Sent: true}, models.NotificationETA5, true},
		{"near already sent", stop(minutes(3)), false, false, models.PushState{ETA5Sent: true, ETA15Sent: true}, "", false},
		{"far sends eta15", stop(minutes(12)), false, false, models.PushState{}, models.NotificationETA15, false},
		{"far already sent", stop(minutes(12)), false, false, models.PushState{ETA15Sent: true}, "", false},
		{"too far", stop(minutes(16)), false, false, models.PushState{}, "", false},
		{"no minutes", stop(nil), false, false, models.PushState{}, "", false},
		{"negative", stop(minutes(-1)), false, false, models.PushState{}, "", false},
		{"absent", stop(minutes(2)), true, false, models.PushState{}, "", false},
		{"boarded", stop(minutes(2)), false, true, models.PushState{}, "", false},
		{"no stop", nil, false, false, models.PushState{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := EvaluateETA(tt.stop, tt.absent, tt.boarded, tt.state, "Sofia")
			if tt.wantKind == "" {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tt.wantKind, n.Kind)
			assert.Contains(t, n.Body, "Sofia")
			if tt.implies {
				assert.Equal(t, []string{models.NotificationETA15}, n.Implies)
			} else {
				assert.Empty(t, n.Implies)
			}
		})
	}
}

func TestEvaluateStopStatus(t *testing.T) {
	own := &SyncStopView{Key: "p3", Order: 2}
	boardedAt := func(key string, order float64) *SyncStopView {
		return &SyncStopView{Key: key, Order: order, Status: models.StopStatusBoarded}
	}

	tests := []struct {
		name      string
		changed   *SyncStopView
		absent    bool
		boarded   bool
		state     models.PushState
		wantKind  string
		remaining int
	}{
		{"own stop boarded", boardedAt("p3", 2), false, false, models.PushState{}, models.NotificationPickedUp, 0},
		{"own stop already sent", boardedAt("p3", 2), false, false, models.PushState{PickedUpSent: true}, "", 0},
		{"own stop missed today", boardedAt("p3", 2), true, false, models.PushState{}, "", 0},
		{"two stops away", boardedAt("p1", 0), false, false, models.PushState{}, models.NotificationStopsRemaining, 2},
		{"one stop away after two", boardedAt("p2", 1), false, false, models.PushState{LastStopsRemainingNotified: intPtr(2)}, models.NotificationStopsRemaining, 1},
		{"count did not drop", boardedAt("p1", 0), false, false, models.PushState{LastStopsRemainingNotified: intPtr(2)}, "", 0},
		{"later stop", boardedAt("p4", 3), false, false, models.PushState{}, "", 0},
		{"student absent", boardedAt("p1", 0), true, false, models.PushState{}, "", 0},
		{"student on board", boardedAt("p1", 0), false, true, models.PushState{}, "", 0},
		{"missed bus change", &SyncStopView{Key: "p1", Status: models.StopStatusMissedBus}, false, false, models.PushState{}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := EvaluateStopStatus(tt.changed, own, tt.absent, tt.boarded, tt.state, "Sofia")
			if tt.wantKind == "" {
				assert.Nil(t, n)
				return
			}
			require.NotNil(t, n)
			assert.Equal(t, tt.wantKind, n.Kind)
			if tt.remaining > 0 {
				require.NotNil(t, n.StopsRemaining)
				assert.Equal(t, tt.remaining, *n.StopsRemaining)
			}
		})
	}
}

func TestStopsRemainingMessage(t *testing.T) {
	assert.Equal(t, "Sofia, estamos a 1 parada de llegar por ti! :)", stopsRemainingMessage("Sofia", 1))
	assert.Equal(t, "Sofia, estamos a 2 paradas de llegar por ti! :)", stopsRemainingMessage("Sofia", 2))
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "2026-03-14:ruta-3:student-1:eta5", IdempotencyKey("2026-03-14", "ruta-3", "student-1", models.NotificationETA5, nil))
	assert.Equal(t, "2026-03-14:ruta-3:student-1:stops_remaining:2", IdempotencyKey("2026-03-14", "ruta-3", "student-1", models.NotificationStopsRemaining, intPtr(2)))
}
