package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eventguard/eventguard/internal/platform/httpx"
)

// DefaultEventParam is the chi URL parameter holding the event id.
const DefaultEventParam = "event"

// Middleware wires event-scoped authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	// Subject extracts the caller; defaults to SubjectFromContext.
	Subject func(*http.Request) (string, bool)
	// EventParam names the URL parameter with the event id; defaults to DefaultEventParam.
	EventParam string
}

// RequireAny ensures the current subject has at least one of the required
// permissions on the event named in the URL.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", perms, PermissionSet.HasAny)
}

// RequireAll ensures the current subject has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", perms, PermissionSet.HasAll)
}

func (m Middleware) require(op string, perms []string, check func(PermissionSet, ...string) bool) func(http.Handler) http.Handler {
	normalized := NewPermissionSet(perms...).Names()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subject, ok := m.currentSubject(r)
			if !ok {
				httpx.Status(w, http.StatusForbidden)
				return
			}
			eventID, ok := m.eventID(r)
			if !ok {
				httpx.Status(w, http.StatusForbidden)
				return
			}
			granted, err := m.Resolver.EffectivePermissions(r.Context(), subject, eventID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.String("subject", subject), slog.Int64("event_id", eventID), slog.Any("error", err))
				}
				httpx.Status(w, http.StatusInternalServerError)
				return
			}
			if check(granted, normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Status(w, http.StatusForbidden)
		})
	}
}

func (m Middleware) currentSubject(r *http.Request) (string, bool) {
	if m.Subject != nil {
		subject, ok := m.Subject(r)
		subject = strings.TrimSpace(subject)
		return subject, ok && subject != ""
	}
	return SubjectFromContext(r.Context())
}

func (m Middleware) eventID(r *http.Request) (int64, bool) {
	param := m.EventParam
	if param == "" {
		param = DefaultEventParam
	}
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse event id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
