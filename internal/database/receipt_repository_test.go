package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etaReceipts() []models.NotificationReceipt {
	return []models.NotificationReceipt{
		{IdempotencyKey: "2026-03-14|ruta-3|student-1|eta5", DateKey: "2026-03-14", RouteID: "ruta-3", UID: "student-1", Kind: models.NotificationETA5},
		{IdempotencyKey: "2026-03-14|ruta-3|student-1|eta15", DateKey: "2026-03-14", RouteID: "ruta-3", UID: "student-1", Kind: models.NotificationETA15},
	}
}

func TestReceiptRepository_Claim(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReceiptRepository(db)
	ctx := context.Background()

	t.Run("Primary and implied claimed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO notification_receipts`).
			WithArgs("2026-03-14|ruta-3|student-1|eta5", sqlmock.AnyArg(), "2026-03-14", "ruta-3", "student-1", "eta5", nil, "", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO notification_receipts`).
			WithArgs("2026-03-14|ruta-3|student-1|eta15", sqlmock.AnyArg(), "2026-03-14", "ruta-3", "student-1", "eta15", nil, "", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		claimed, err := repo.Claim(ctx, etaReceipts()...)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-03-14|ruta-3|student-1|eta5", "2026-03-14|ruta-3|student-1|eta15"}, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Implied already sent", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO notification_receipts`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO notification_receipts`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		claimed, err := repo.Claim(ctx, etaReceipts()...)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-03-14|ruta-3|student-1|eta5"}, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Primary conflict claims nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO notification_receipts`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		claimed, err := repo.Claim(ctx, etaReceipts()...)
		require.NoError(t, err)
		assert.Empty(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReceiptRepository_States(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReceiptRepository(db)

	mock.ExpectQuery(`FROM notification_receipts`).
		WithArgs("2026-03-14", "ruta-3", `{"student-1","student-2"}`).
		WillReturnRows(sqlmock.NewRows([]string{"uid", "eta15_sent", "eta5_sent", "picked_up_sent", "last_stops_remaining"}).
			AddRow("student-1", true, true, false, 2).
			AddRow("student-2", true, false, false, nil))

	states, err := repo.States(context.Background(), "2026-03-14", "ruta-3", []string{"student-1", "student-2"})
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.True(t, states["student-1"].ETA5Sent)
	require.NotNil(t, states["student-1"].LastStopsRemainingNotified)
	assert.Equal(t, 2, *states["student-1"].LastStopsRemainingNotified)
	assert.False(t, states["student-2"].ETA5Sent)
	assert.Nil(t, states["student-2"].LastStopsRemainingNotified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptRepository_ReleaseAndPurge(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewReceiptRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM notification_receipts WHERE idempotency_key = ANY`).
		WithArgs(`{"k1","k2"}`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.Release(ctx, "k1", "k2"))

	mock.ExpectExec(`DELETE FROM notification_receipts WHERE date_key < \$1`).
		WithArgs("2026-02-12").
		WillReturnResult(sqlmock.NewResult(0, 40))
	purged, err := repo.PurgeBefore(ctx, "2026-02-12")
	require.NoError(t, err)
	assert.Equal(t, int64(40), purged)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryReceiptStore(t *testing.T) {
	store := NewMemoryReceiptStore()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, etaReceipts()...)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = store.Claim(ctx, etaReceipts()...)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	states, err := store.States(ctx, "2026-03-14", "ruta-3", []string{"student-1"})
	require.NoError(t, err)
	assert.True(t, states["student-1"].ETA5Sent)
	assert.True(t, states["student-1"].ETA15Sent)

	require.NoError(t, store.Release(ctx, "2026-03-14|ruta-3|student-1|eta5"))
	states, err = store.States(ctx, "2026-03-14", "ruta-3", []string{"student-1"})
	require.NoError(t, err)
	assert.False(t, states["student-1"].ETA5Sent)
	assert.True(t, states["student-1"].ETA15Sent)

	purged, err := store.PurgeBefore(ctx, "2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
