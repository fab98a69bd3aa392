package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventguard/eventguard/internal/platform/httpx"
)

// PermissionsHandler reports the caller's own permissions on an event.
type PermissionsHandler struct {
	logger *slog.Logger
	rbac   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, rbac: rbac}
}

// MountRoutes registers GET /{event}/permissions.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	param := h.rbac.EventParam
	if param == "" {
		param = DefaultEventParam
	}
	r.Get("/{"+param+"}/permissions", h.listPermissions)
}

type permissionsResponse struct {
	Subject     string   `json:"subject"`
	EventID     int64    `json:"event_id"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.rbac.currentSubject(r)
	if !ok {
		httpx.Status(w, http.StatusForbidden)
		return
	}
	eventID, ok := h.rbac.eventID(r)
	if !ok {
		httpx.Status(w, http.StatusNotFound)
		return
	}
	set, err := h.rbac.Resolver.EffectivePermissions(r.Context(), subject, eventID)
	if err != nil {
		h.logger.Error("list permissions", slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", err))
		httpx.Status(w, http.StatusInternalServerError)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Subject: subject, EventID: eventID, Permissions: set.Names()})
}
