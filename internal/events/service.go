package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eventguard/eventguard/internal/catalog"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// TypeLookup resolves event type slugs. *catalog.Store satisfies it.
type TypeLookup interface {
	GetEventType(slug string) (catalog.EventType, error)
}

// DeactivationHook is notified after an event has been soft-deleted.
type DeactivationHook interface {
	EventDeactivated(ctx context.Context, eventID int64) error
}

// Registry is the event service: it validates input against the catalog and
// drives the repository.
type Registry struct {
	repo     RepositoryPort
	types    TypeLookup
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	hooks []DeactivationHook
}

// NewRegistry builds a Registry.
func NewRegistry(repo RepositoryPort, types TypeLookup, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return &Registry{
		repo:     repo,
		types:    types,
		validate: v,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnDeactivate registers a hook run after every successful deactivation.
func (r *Registry) OnDeactivate(h DeactivationHook) {
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// CreateEvent registers a new active event.
func (r *Registry) CreateEvent(ctx context.Context, in CreateEventInput) (Event, error) {
	in.TypeSlug = catalog.NormalizeSlug(in.TypeSlug)
	in.Slug = catalog.NormalizeSlug(in.Slug)
	in.Name = strings.TrimSpace(in.Name)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if err := r.validateStruct(in); err != nil {
		return Event{}, err
	}

	if _, err := r.types.GetEventType(in.TypeSlug); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, in.TypeSlug)
		}
		return Event{}, err
	}

	e, err := r.repo.Insert(ctx, Event{
		TypeSlug:    in.TypeSlug,
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		OwnerID:     in.OwnerID,
		Settings:    in.Settings,
		IsActive:    true,
		CreatedAt:   r.now(),
	})
	if err != nil {
		if errors.Is(err, ErrSlugConflict) {
			return Event{}, fmt.Errorf("%w: %q", ErrSlugConflict, in.Slug)
		}
		return Event{}, err
	}
	r.logger.Info("event created",
		slog.Int64("event_id", e.ID),
		slog.String("type", e.TypeSlug),
		slog.String("slug", e.Slug),
		slog.String("owner", e.OwnerID))
	return e, nil
}

// GetEvent returns an event by id. Deleted events are reported as
// ErrNotFound unless opts.IncludeDeleted is set.
func (r *Registry) GetEvent(ctx context.Context, id int64, opts GetOptions) (Event, error) {
	e, err := r.repo.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if e.Deleted() && !opts.IncludeDeleted {
		return Event{}, ErrNotFound
	}
	return e, nil
}

// GetEventBySlug returns an event by slug with the same deletion rules as GetEvent.
func (r *Registry) GetEventBySlug(ctx context.Context, slug string, opts GetOptions) (Event, error) {
	e, err := r.repo.GetBySlug(ctx, catalog.NormalizeSlug(slug))
	if err != nil {
		return Event{}, err
	}
	if e.Deleted() && !opts.IncludeDeleted {
		return Event{}, ErrNotFound
	}
	return e, nil
}

// ListEvents returns events matching filter ordered by id.
func (r *Registry) ListEvents(ctx context.Context, filter ListFilter) ([]Event, error) {
	if filter.TypeSlug != "" {
		filter.TypeSlug = catalog.NormalizeSlug(filter.TypeSlug)
	}
	return r.repo.List(ctx, filter)
}

// UpdateEvent changes the name, description or settings of an active event.
func (r *Registry) UpdateEvent(ctx context.Context, id int64, in UpdateEventInput) (Event, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if err := r.validateStruct(in); err != nil {
		return Event{}, err
	}
	return r.repo.Update(ctx, id, in, r.now())
}

// Deactivate soft-deletes an active event and then runs the deactivation
// hooks. Hook failures are returned after every hook has run; the event
// stays deactivated.
func (r *Registry) Deactivate(ctx context.Context, id int64) (Event, error) {
	e, err := r.repo.Deactivate(ctx, id, r.now())
	if err != nil {
		return Event{}, err
	}
	r.logger.Info("event deactivated", slog.Int64("event_id", id), slog.String("slug", e.Slug))

	r.mu.RLock()
	hooks := append([]DeactivationHook(nil), r.hooks...)
	r.mu.RUnlock()

	var hookErr error
	for _, h := range hooks {
		if err := h.EventDeactivated(ctx, id); err != nil {
			r.logger.Error("event deactivation hook", slog.Int64("event_id", id), slog.Any("error", err))
			hookErr = errors.Join(hookErr, err)
		}
	}
	if hookErr != nil {
		return e, fmt.Errorf("events: deactivate %d: %w", id, hookErr)
	}
	return e, nil
}

func (r *Registry) validateStruct(v any) error {
	err := r.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}
