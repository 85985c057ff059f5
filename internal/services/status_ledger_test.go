package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLedger_Mark(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	seedDocs(t, store, map[string]map[string]any{
		"users/student-1": {"accountType": "student", "institutionCode": "COL1", "route": "Ruta 3", "stopAddress": "Calle 20 #8-10"},
		"users/student-2": {"accountType": "student", "institutionCode": "COL1", "route": "Ruta 5", "stopAddress": "Calle 20 # 8-10"},
		"users/monitor-1": {"role": "monitora", "institutionCode": "COL1", "route": "Ruta 3", "stopAddress": "Calle 20 # 8-10"},
	})
	ledger := NewStatusLedger(store, nil, fixedClock(t), quietLogger())

	mark := StopMark{
		Monitor:     &models.Profile{UID: "monitor-1", InstitutionCode: "COL1"},
		RouteIDs:    []string{"ruta-3", "ruta-3", ""},
		RouteName:   "Ruta 3",
		StopID:      "p2",
		StopAddress: "Calle 20 # 8-10",
		Status:      models.StopStatusMissedBus,
	}

	status, err := ledger.Mark(ctx, mark)
	require.NoError(t, err)
	assert.Equal(t, "p2", status.ID)
	assert.True(t, status.Inasistencia)

	for _, path := range []string{
		"routes/ruta-3/daily/2026-03-14/stops/p2",
		"rutas/ruta-3/daily/2026-03-14/stops/p2",
	} {
		doc, err := store.Get(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, doc, path)
		assert.Equal(t, "missed_bus", doc.Data["status"])
		assert.Equal(t, true, doc.Data["inasistencia"])
		assert.Equal(t, "monitor-1", doc.Data["monitorUid"])
	}

	live, err := store.Get(ctx, "routes/ruta-3/live/current")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, []any{"p2"}, live.Data["excludedStopKeys"])

	attendance, err := store.Get(ctx, "users/student-1/asistencias/2026-03-14")
	require.NoError(t, err)
	require.NotNil(t, attendance)
	assert.Equal(t, false, attendance.Data["asistencia"])

	other, err := store.Get(ctx, "users/student-2/asistencias/2026-03-14")
	require.NoError(t, err)
	assert.Nil(t, other, "different route")
	monitor, err := store.Get(ctx, "users/monitor-1/asistencias/2026-03-14")
	require.NoError(t, err)
	assert.Nil(t, monitor, "monitors have no attendance")

	t.Run("boarded updates exclusions and attendance", func(t *testing.T) {
		mark.Status = models.StopStatusBoarded
		_, err := ledger.Mark(ctx, mark)
		require.NoError(t, err)

		live, err := store.Get(ctx, "routes/ruta-3/live/current")
		require.NoError(t, err)
		assert.Empty(t, live.Data["excludedStopKeys"])

		attendance, err := store.Get(ctx, "users/student-1/asistencias/2026-03-14")
		require.NoError(t, err)
		assert.Equal(t, true, attendance.Data["asistencia"])

		current := ledger.StatusFor(ctx, "2026-03-14", []string{"ruta-3"}, "P2")
		require.NotNil(t, current)
		assert.True(t, current.IsBoarded())
	})

	t.Run("empty status clears", func(t *testing.T) {
		mark.Status = ""
		_, err := ledger.Mark(ctx, mark)
		require.NoError(t, err)

		assert.Nil(t, ledger.StatusFor(ctx, "2026-03-14", []string{"ruta-3"}, "p2"))
		attendance, err := store.Get(ctx, "users/student-1/asistencias/2026-03-14")
		require.NoError(t, err)
		assert.Nil(t, attendance)
	})
}

func TestStatusLedger_MarkValidation(t *testing.T) {
	ctx := context.Background()
	ledger := NewStatusLedger(database.NewMemoryStore(), nil, fixedClock(t), quietLogger())

	tests := []struct {
		name string
		mark StopMark
		err  error
	}{
		{"unknown status", StopMark{RouteIDs: []string{"ruta-3"}, StopID: "p1", Status: "late"}, ErrInvalidStatus},
		{"no stop identity", StopMark{RouteIDs: []string{"ruta-3"}, Status: "boarded"}, ErrInvalidStatus},
		{"no route", StopMark{StopID: "p1", Status: "boarded"}, ErrMissingRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Mark(ctx, tt.mark)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStatusLedger_MarkSurvivesOneRoot(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	denied := errors.New("permission denied")
	store.FailPaths["rutas"] = denied
	ledger := NewStatusLedger(store, nil, fixedClock(t), quietLogger())

	_, err := ledger.Mark(ctx, StopMark{RouteIDs: []string{"ruta-3"}, StopID: "p1", Status: "boarded"})
	require.NoError(t, err)

	store.FailPaths["routes"] = denied
	_, err = ledger.Mark(ctx, StopMark{RouteIDs: []string{"ruta-3"}, StopID: "p1", Status: "boarded"})
	assert.ErrorIs(t, err, denied)
}

func TestCreateStatusMap_Aliases(t *testing.T) {
	docs := []database.Document{
		{ID: "p1", Data: map[string]any{"stopAddress": "Calle 10 # 5-20", "stopTitle": "Parque", "status": "Boarded"}},
		{ID: "parque", Data: map[string]any{"status": "missed_bus"}},
	}

	statuses := CreateStatusMap(docs, "routes")
	require.Contains(t, statuses, "p1")
	assert.Equal(t, "boarded", statuses["p1"].Status)
	assert.Equal(t, "routes", statuses["p1"].Source)
	assert.Same(t, statuses["p1"], statuses["calle 10 # 5-20"])

	// the alias of p1 does not replace the stop keyed "parque"
	assert.Equal(t, "missed_bus", statuses["parque"].Status)

	assert.Same(t, statuses["p1"], LookupStatus(statuses, "", "nope", "Calle 10 # 5-20"))
}

func TestMergeStatusMaps(t *testing.T) {
	earlier := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	later := earlier.Add(10 * time.Minute)

	tests := []struct {
		name     string
		current  *models.DailyStopStatus
		incoming *models.DailyStopStatus
		want     string
	}{
		{"absence beats later presence", &models.DailyStopStatus{Status: "missed_bus", UpdatedAt: earlier}, &models.DailyStopStatus{Status: "boarded", UpdatedAt: later}, "missed_bus"},
		{"incoming absence wins", &models.DailyStopStatus{Status: "boarded", UpdatedAt: later}, &models.DailyStopStatus{Inasistencia: true, UpdatedAt: earlier}, ""},
		{"later update wins", &models.DailyStopStatus{Status: "boarded", Source: "a", UpdatedAt: later}, &models.DailyStopStatus{Status: "boarded", Source: "b", UpdatedAt: earlier}, "boarded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := MergeStatusMaps(models.StatusMap{"p1": tt.current}, models.StatusMap{"p1": tt.incoming})
			assert.Equal(t, tt.want, merged["p1"].Status)
		})
	}

	tie := MergeStatusMaps(
		models.StatusMap{"p1": {Status: "boarded", Source: "routes", UpdatedAt: earlier}},
		models.StatusMap{"p1": {Status: "boarded", Source: "rutas", UpdatedAt: earlier}},
	)
	assert.Equal(t, "rutas", tie["p1"].Source)

	assert.Len(t, MergeStatusMaps(nil, models.StatusMap{"p2": {}}), 1)
}
