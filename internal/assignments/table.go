package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eventguard/eventguard/internal/catalog"
	"github.com/eventguard/eventguard/internal/events"
)

// Table validates assignments against the event and the catalog, writes them
// through the repository and then invalidates the affected cache entry.
//
// A failed invalidation is returned to the caller but the write is kept.
type Table struct {
	repo   RepositoryPort
	events EventLookup
	vocab  Vocabulary
	cache  Invalidator
	logger *slog.Logger
}

// NewTable builds a Table. cache may be nil when no permission cache is in use.
func NewTable(repo RepositoryPort, lookup EventLookup, vocab Vocabulary, cache Invalidator, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{repo: repo, events: lookup, vocab: vocab, cache: cache, logger: logger}
}

func normalizeSubject(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrInvalidSubject
	}
	return subject, nil
}

// activeEvent returns the event when it exists and is not deactivated.
func (t *Table) activeEvent(ctx context.Context, eventID int64) (events.Event, error) {
	return t.events.GetEvent(ctx, eventID, events.GetOptions{})
}

func (t *Table) invalidate(ctx context.Context, subject string, eventID int64) error {
	if t.cache == nil {
		return nil
	}
	if err := t.cache.Invalidate(ctx, subject, eventID); err != nil {
		return fmt.Errorf("assignments: invalidate %s on %d: %w", subject, eventID, err)
	}
	return nil
}

// AssignRole gives subject the role on an active event. Assigning a held
// role is a no-op.
func (t *Table) AssignRole(ctx context.Context, subject string, eventID int64, role string) error {
	subject, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	e, err := t.activeEvent(ctx, eventID)
	if err != nil {
		return err
	}
	role = catalog.NormalizeName(role)
	if role == "" || !t.vocab.HasRole(e.TypeSlug, role) {
		return fmt.Errorf("%w: %q on %s event %d", ErrInvalidRole, role, e.TypeSlug, eventID)
	}
	if err := t.repo.AddRole(ctx, subject, eventID, role); err != nil {
		return fmt.Errorf("assignments: assign role: %w", err)
	}
	t.logger.Info("role assigned",
		slog.String("subject", subject), slog.Int64("event_id", eventID), slog.String("role", role))
	return t.invalidate(ctx, subject, eventID)
}

// RevokeRole removes the role from subject. Revoking a role that is not held
// is a no-op; the event may be deactivated.
func (t *Table) RevokeRole(ctx context.Context, subject string, eventID int64, role string) error {
	subject, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	role = catalog.NormalizeName(role)
	removed, err := t.repo.RemoveRole(ctx, subject, eventID, role)
	if err != nil {
		return fmt.Errorf("assignments: revoke role: %w", err)
	}
	if removed {
		t.logger.Info("role revoked",
			slog.String("subject", subject), slog.Int64("event_id", eventID), slog.String("role", role))
	}
	return t.invalidate(ctx, subject, eventID)
}

// RolesOf returns the sorted roles subject holds on the event, empty when none.
func (t *Table) RolesOf(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return t.repo.Roles(ctx, strings.TrimSpace(subject), eventID)
}

// GrantPermission gives subject a permission directly, outside any role.
func (t *Table) GrantPermission(ctx context.Context, subject string, eventID int64, perm string) error {
	subject, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	e, err := t.activeEvent(ctx, eventID)
	if err != nil {
		return err
	}
	perm = catalog.NormalizeName(perm)
	if perm == "" || !t.vocab.HasPermission(e.TypeSlug, perm) {
		return fmt.Errorf("%w: %q on %s event %d", ErrInvalidPermission, perm, e.TypeSlug, eventID)
	}
	if err := t.repo.AddPermission(ctx, subject, eventID, perm); err != nil {
		return fmt.Errorf("assignments: grant permission: %w", err)
	}
	t.logger.Info("permission granted",
		slog.String("subject", subject), slog.Int64("event_id", eventID), slog.String("permission", perm))
	return t.invalidate(ctx, subject, eventID)
}

// RevokePermission removes a direct grant. Missing grants are a no-op.
func (t *Table) RevokePermission(ctx context.Context, subject string, eventID int64, perm string) error {
	subject, err := normalizeSubject(subject)
	if err != nil {
		return err
	}
	perm = catalog.NormalizeName(perm)
	removed, err := t.repo.RemovePermission(ctx, subject, eventID, perm)
	if err != nil {
		return fmt.Errorf("assignments: revoke permission: %w", err)
	}
	if removed {
		t.logger.Info("permission revoked",
			slog.String("subject", subject), slog.Int64("event_id", eventID), slog.String("permission", perm))
	}
	return t.invalidate(ctx, subject, eventID)
}

// DirectPermissionsOf returns the sorted direct grants of subject on the event.
func (t *Table) DirectPermissionsOf(ctx context.Context, subject string, eventID int64) ([]string, error) {
	return t.repo.Permissions(ctx, strings.TrimSpace(subject), eventID)
}

// SubjectsOf lists every subject with a role or a grant on the event.
func (t *Table) SubjectsOf(ctx context.Context, eventID int64) ([]string, error) {
	return t.repo.Subjects(ctx, eventID)
}

// EventDeactivated invalidates the cached sets of every subject on a
// deactivated event. Assignment rows are kept.
func (t *Table) EventDeactivated(ctx context.Context, eventID int64) error {
	subjects, err := t.repo.Subjects(ctx, eventID)
	if err != nil {
		return fmt.Errorf("assignments: subjects of %d: %w", eventID, err)
	}
	var errs error
	for _, subject := range subjects {
		errs = errors.Join(errs, t.invalidate(ctx, subject, eventID))
	}
	t.logger.Info("event assignments invalidated",
		slog.Int64("event_id", eventID), slog.Int("subjects", len(subjects)))
	return errs
}
