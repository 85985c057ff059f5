package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"text/template"

	"github.com/gin-gonic/gin"
	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/middleware"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// PushHandler handles push token registration and monitor push syncs
type PushHandler struct {
	tokens     *services.PushTokenService
	dispatcher *services.NotificationDispatcher
	firebase   config.FirebaseConfig
	push       config.PushConfig
	logger     *logrus.Logger
}

// NewPushHandler creates a new push handler
func NewPushHandler(tokens *services.PushTokenService, dispatcher *services.NotificationDispatcher, firebase config.FirebaseConfig, push config.PushConfig, logger *logrus.Logger) *PushHandler {
	return &PushHandler{
		tokens:     tokens,
		dispatcher: dispatcher,
		firebase:   firebase,
		push:       push,
		logger:     logger,
	}
}

// RegisterPushRequest is the body of POST /api/push/register
type RegisterPushRequest struct {
	Token     string `json:"token"`
	UserAgent string `json:"userAgent"`
}

// Register handles POST /api/push/register
func (h *PushHandler) Register(c *gin.Context) {
	user, ok := middleware.MustGetUserContext(c)
	if !ok {
		return
	}

	var req RegisterPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON invalido"})
		return
	}
	userAgent := strings.TrimSpace(req.UserAgent)
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	if err := h.tokens.Register(c.Request.Context(), user.UID, req.Token, userAgent); err != nil {
		if errors.Is(err, services.ErrTokenRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token requerido"})
			return
		}
		h.logger.WithError(err).WithField("uid", user.UID).Error("Failed to register push token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo registrar el token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Sync handles POST /api/push/sync
func (h *PushHandler) Sync(c *gin.Context) {
	monitor, ok := middleware.GetProfile(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Perfil no encontrado"})
		return
	}

	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON invalido"})
		return
	}

	result, err := h.dispatcher.Sync(c.Request.Context(), monitor, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEventType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "eventType invalido"})
		case errors.Is(err, services.ErrMissingRoute):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No se pudo resolver la ruta"})
		case errors.Is(err, services.ErrMissingInstitution):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No se pudo resolver el colegio de la monitora"})
		default:
			h.logger.WithError(err).WithField("monitor", monitor.UID).Error("Push sync failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No se pudo sincronizar"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

var serviceWorkerTemplate = template.Must(template.New("sw").Parse(`
importScripts("https://www.gstatic.com/firebasejs/12.8.0/firebase-app-compat.js");
importScripts("https://www.gstatic.com/firebasejs/12.8.0/firebase-messaging-compat.js");

firebase.initializeApp({{.Config}});

const messaging = firebase.messaging();

messaging.onBackgroundMessage((payload) => {
  const title = payload?.data?.title || {{.Title}};
  const body = payload?.data?.body || "Tienes una nueva notificacion de ruta.";

  self.registration.showNotification(title, {
    body,
    icon: "/logo.jpg",
    badge: "/favicon.ico",
    data: {
      link: payload?.data?.link || {{.Link}},
    },
  });
});

self.addEventListener("notificationclick", (event) => {
  event.notification.close();
  const target = event.notification?.data?.link || {{.Link}};
  event.waitUntil(
    clients
      .matchAll({ type: "window", includeUncontrolled: true })
      .then((windowClients) => {
        for (const client of windowClients) {
          if (client.url.includes(target) && "focus" in client) {
            return client.focus();
          }
        }
        if (clients.openWindow) {
          return clients.openWindow(target);
        }
        return null;
      })
  );
});
`))

// ServiceWorker handles GET /sw/firebase-messaging
func (h *PushHandler) ServiceWorker(c *gin.Context) {
	script, err := h.renderServiceWorker()
	if err != nil {
		h.logger.WithError(err).Error("Failed to render service worker")
		c.String(http.StatusInternalServerError, "// service worker unavailable")
		return
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Service-Worker-Allowed", "/")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", script)
}

func (h *PushHandler) renderServiceWorker() ([]byte, error) {
	jsString := func(value string) (string, error) {
		raw, err := json.Marshal(value)
		return string(raw), err
	}

	firebaseConfig, err := json.Marshal(map[string]string{
		"apiKey":            h.firebase.WebAPIKey,
		"authDomain":        h.firebase.AuthDomain,
		"projectId":         h.firebase.ProjectID,
		"storageBucket":     h.firebase.StorageBucket,
		"messagingSenderId": h.firebase.MessagingSenderID,
		"appId":             h.firebase.AppID,
	})
	if err != nil {
		return nil, err
	}
	title, err := jsString(firstNonEmpty(h.push.Title, "SchoolWays"))
	if err != nil {
		return nil, err
	}
	link, err := jsString(firstNonEmpty(h.push.ClickLink, "/recorrido"))
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	err = serviceWorkerTemplate.Execute(&out, struct {
		Config string
		Title  string
		Link   string
	}{string(firebaseConfig), title, link})
	if err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
