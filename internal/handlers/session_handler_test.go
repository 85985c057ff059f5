package handlers

import (
	"net/http"
	"testing"

	"github.com/schoolways/bus-tracker-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHandler(t *testing.T) {
	env := newTestEnv(t, maps.Config{})
	env.seedRoute(t)

	w := env.do(t, http.MethodPost, "/api/session/claim", map[string]any{"deviceId": "phone"}, "student-1")
	require.Equal(t, http.StatusOK, w.Code)
	session := decodeBody(t, w)["session"].(map[string]any)
	assert.Equal(t, "phone", session["deviceId"])

	t.Run("other device is blocked", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/session/claim", map[string]any{"deviceId": "laptop"}, "student-1")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "SESSION_ACTIVE_ELSEWHERE", decodeBody(t, w)["code"])

		w = env.do(t, http.MethodPost, "/api/session/heartbeat", map[string]any{"deviceId": "laptop"}, "student-1")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("owner heartbeat", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/session/heartbeat", map[string]any{"deviceId": "phone"}, "student-1")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("heartbeat needs device", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/session/heartbeat", map[string]any{}, "student-1")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("release frees the account", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/session/release", map[string]any{"deviceId": "phone"}, "student-1")
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, http.MethodPost, "/api/session/claim", map[string]any{"deviceId": "laptop"}, "student-1")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/session/claim", map[string]any{"deviceId": "phone"}, "ghost")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "PROFILE_NOT_FOUND", decodeBody(t, w)["code"])
	})
}
