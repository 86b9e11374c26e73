package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"projectbrowser/internal/logging"
	"projectbrowser/internal/telemetry"
)

var (
	// ErrUnknownSource is returned for a source id that is not enabled
	ErrUnknownSource = errors.New("unknown project source")
	// ErrProjectNotFound is returned when a project id has not been seen in any cached page
	ErrProjectNotFound = errors.New("project not found")
)

// CollectionPrefix prefixes every per-source storage collection
const CollectionPrefix = "project_browser"

// Storage is the per-source key/value storage the handler caches into.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithExpire(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteAll(ctx context.Context) error
}

// StorageFactory returns the storage for a collection
type StorageFactory func(collection string) Storage

// StatusProvider fills in activation details for projects
type StatusProvider interface {
	Status(ctx context.Context, p Project) (ActivationStatus, error)
	Instructions(ctx context.Context, p Project) (*Instructions, error)
}

// EnabledSourceHandler fronts the enabled sources with a result cache
type EnabledSourceHandler struct {
	sources map[string]Source
	order   []string
	storage StorageFactory
	ttl     time.Duration
}

// NewEnabledSourceHandler creates a handler over sources, caching results for ttl
func NewEnabledSourceHandler(storage StorageFactory, ttl time.Duration, sources ...Source) *EnabledSourceHandler {
	h := &EnabledSourceHandler{
		sources: make(map[string]Source, len(sources)),
		storage: storage,
		ttl:     ttl,
	}
	for _, s := range sources {
		if _, dup := h.sources[s.ID()]; dup {
			logging.Warnf("Ignoring duplicate project source %q", s.ID())
			continue
		}
		h.sources[s.ID()] = s
		h.order = append(h.order, s.ID())
	}
	return h
}

// SourceIDs lists enabled sources in registration order
func (h *EnabledSourceHandler) SourceIDs() []string {
	return append([]string(nil), h.order...)
}

func (h *EnabledSourceHandler) source(id string) (Source, error) {
	s, ok := h.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return s, nil
}

func (h *EnabledSourceHandler) storageFor(sourceID string) Storage {
	return h.storage(CollectionPrefix + ":" + sourceID)
}

// GetProjects returns one page of results for sourceID, from cache when
// possible. Pages carrying an error are returned but never cached.
func (h *EnabledSourceHandler) GetProjects(ctx context.Context, sourceID string, query Query) (*ProjectsResultsPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.GetProjects")
	defer span.End()

	src, err := h.source(sourceID)
	if err != nil {
		return nil, err
	}

	storage := h.storageFor(sourceID)
	key := query.CacheKey()

	if raw, ok, err := storage.Get(ctx, key); err != nil {
		logging.Warnf("Failed to read cached results for %s: %v", sourceID, err)
	} else if ok {
		var page ProjectsResultsPage
		if err := json.Unmarshal(raw, &page); err == nil {
			telemetry.RecordCacheLookup(sourceID, true)
			return &page, nil
		}
		logging.Warnf("Discarding unreadable cache entry %s for %s", key, sourceID)
	}
	telemetry.RecordCacheLookup(sourceID, false)

	page, err := src.GetProjects(ctx, query)
	if err != nil {
		logging.Errorf("Project source %s failed: %v", sourceID, err)
		return ErrorPage(src.Label(), src.ID(), err.Error()), nil
	}
	if page.Error() != "" {
		return page, nil
	}

	if err := h.store(ctx, storage, key, page); err != nil {
		logging.Warnf("Failed to cache results for %s: %v", sourceID, err)
	}
	return page, nil
}

func (h *EnabledSourceHandler) store(ctx context.Context, storage Storage, key string, page *ProjectsResultsPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := storage.SetWithExpire(ctx, key, data, h.ttl); err != nil {
		return err
	}

	for _, p := range page.list {
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode project %s: %w", p.ID, err)
		}
		if err := storage.Set(ctx, projectKey(p.ID), encoded); err != nil {
			return err
		}
	}
	return nil
}

func projectKey(id string) string {
	return "project:" + id
}

// GetStoredProject resolves a project id seen in an earlier query
func (h *EnabledSourceHandler) GetStoredProject(ctx context.Context, projectID string) (Project, error) {
	sourceID, _, ok := SplitProjectID(projectID)
	if !ok {
		return Project{}, fmt.Errorf("%w: malformed id %q", ErrProjectNotFound, projectID)
	}
	if _, err := h.source(sourceID); err != nil {
		return Project{}, err
	}

	raw, found, err := h.storageFor(sourceID).Get(ctx, projectKey(projectID))
	if err != nil {
		return Project{}, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if !found {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return Project{}, fmt.Errorf("failed to decode project %s: %w", projectID, err)
	}
	return p, nil
}

// Categories returns the categories a source offers
func (h *EnabledSourceHandler) Categories(ctx context.Context, sourceID string) ([]Category, error) {
	src, err := h.source(sourceID)
	if err != nil {
		return nil, err
	}
	return src.Categories(ctx)
}

// ClearStorage drops every cached entry for one source
func (h *EnabledSourceHandler) ClearStorage(ctx context.Context, sourceID string) error {
	if _, err := h.source(sourceID); err != nil {
		return err
	}
	if err := h.storageFor(sourceID).DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear storage for %s: %w", sourceID, err)
	}
	logging.Infof("Cleared cached results for source %s", sourceID)
	return nil
}

// ClearAll drops cached entries for every enabled source
func (h *EnabledSourceHandler) ClearAll(ctx context.Context) error {
	var errs []error
	for _, id := range h.order {
		if err := h.ClearStorage(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FillActivationInfo returns a copy of page with Status and Commands set on every project
func FillActivationInfo(ctx context.Context, page *ProjectsResultsPage, provider StatusProvider) (*ProjectsResultsPage, error) {
	list := page.List()
	for i := range list {
		status, err := provider.Status(ctx, list[i])
		if err != nil {
			return nil, fmt.Errorf("failed to get status of %s: %w", list[i].ID, err)
		}
		list[i].Status = &status

		commands, err := provider.Instructions(ctx, list[i])
		if err != nil {
			return nil, fmt.Errorf("failed to get instructions for %s: %w", list[i].ID, err)
		}
		list[i].Commands = commands
	}
	return NewProjectsResultsPage(page.TotalResults(), list, page.PluginLabel(), page.PluginID(), page.Error())
}
