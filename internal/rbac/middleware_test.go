package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSubject(subject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subject != "" {
				r = r.WithContext(ContextWithSubject(r.Context(), subject))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRouter(subject string, guard func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(withSubject(subject))
	r.With(guard).Get("/events/{event}/products", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddlewareRequireAny(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))
	path := "/events/" + strconv.FormatInt(acme.ID, 10) + "/products"

	m := Middleware{Resolver: f.resolver}
	allowed := newRouter("U2", m.RequireAny("manage products", "manage orders"))
	assert.Equal(t, http.StatusNoContent, serve(allowed, path).Code)

	denied := newRouter("U2", m.RequireAny("manage products"))
	assert.Equal(t, http.StatusForbidden, serve(denied, path).Code)

	anonymous := newRouter("", m.RequireAny("view shop"))
	assert.Equal(t, http.StatusForbidden, serve(anonymous, path).Code)

	badEvent := newRouter("U2", m.RequireAny("view shop"))
	assert.Equal(t, http.StatusForbidden, serve(badEvent, "/events/acme/products").Code)

	open := newRouter("", m.RequireAny())
	assert.Equal(t, http.StatusNoContent, serve(open, path).Code)
}

func TestMiddlewareRequireAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))
	path := "/events/" + strconv.FormatInt(acme.ID, 10) + "/products"

	m := Middleware{Resolver: f.resolver}
	assert.Equal(t, http.StatusNoContent, serve(newRouter("U2", m.RequireAll("view shop", "manage orders")), path).Code)
	assert.Equal(t, http.StatusForbidden, serve(newRouter("U2", m.RequireAll("view shop", "edit shop")), path).Code)
}

func TestMiddlewareCustomSubjectAndParam(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U9", acme.ID, "customer"))

	m := Middleware{
		Resolver:   f.resolver,
		EventParam: "shop",
		Subject: func(r *http.Request) (string, bool) {
			return r.Header.Get("X-Subject"), true
		},
	}
	r := chi.NewRouter()
	r.With(m.RequireAny("view shop")).Get("/shops/{shop}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/shops/"+strconv.FormatInt(acme.ID, 10), nil)
	req.Header.Set("X-Subject", "U9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/shops/"+strconv.FormatInt(acme.ID, 10), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareStoreFailure(t *testing.T) {
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	failing := &countingAssignments{AssignmentSource: f.table, err: errors.New("down")}
	m := Middleware{Resolver: NewResolver(failing, f.registry, f.store, nil, nil)}

	path := "/events/" + strconv.FormatInt(acme.ID, 10) + "/products"
	assert.Equal(t, http.StatusInternalServerError, serve(newRouter("U2", m.RequireAny("view shop")), path).Code)
}

func TestPermissionsHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.createEvent(t, "shop", "acme", "U1")
	require.NoError(t, f.table.AssignRole(ctx, "U2", acme.ID, "staff"))

	h := NewPermissionsHandler(nil, Middleware{Resolver: f.resolver})
	r := chi.NewRouter()
	r.Use(withSubject("U2"))
	r.Route("/events", h.MountRoutes)

	rec := serve(r, "/events/"+strconv.FormatInt(acme.ID, 10)+"/permissions")
	require.Equal(t, http.StatusOK, rec.Code)
	var body permissionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "U2", body.Subject)
	assert.Equal(t, acme.ID, body.EventID)
	assert.Equal(t, []string{"manage orders", "view shop"}, body.Permissions)

	assert.Equal(t, http.StatusNotFound, serve(r, "/events/x/permissions").Code)
}
