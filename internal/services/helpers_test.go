package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fixedClock is 2026-03-14 06:30 in Bogota
func fixedClock(t *testing.T) *utils.ServiceClock {
	t.Helper()
	clock, err := utils.NewServiceClock("America/Bogota")
	require.NoError(t, err)
	at := time.Date(2026, 3, 14, 6, 30, 0, 0, clock.Location())
	return clock.WithNow(func() time.Time { return at })
}

func seedDocs(t *testing.T, store database.DocumentStore, docs map[string]map[string]any) {
	t.Helper()
	for path, data := range docs {
		require.NoError(t, store.Set(context.Background(), path, data, false))
	}
}
