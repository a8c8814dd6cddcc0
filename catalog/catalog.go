// Package catalog holds the registry of event types herald accepts.
//
// Endpoint registration validates subscriptions against the catalog, and
// TriggerEvent validates event data against a type's JSON Schema when one is
// registered.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

var (
	// ErrNotFound is returned when an event type is not registered.
	ErrNotFound = errors.New("herald: event type not found")

	// ErrInvalidData is returned when event data fails schema validation.
	ErrInvalidData = errors.New("herald: payload validation failed")
)

// Catalog is a concurrency-safe, in-process event type registry.
type Catalog struct {
	mu        sync.RWMutex
	types     map[string]*EventType
	validator *Validator
	logger    *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		types:     make(map[string]*EventType),
		validator: NewValidator(),
		logger:    logger,
	}
}

// NewDefault creates a catalog preloaded with DefaultEventTypes.
func NewDefault(logger *slog.Logger) *Catalog {
	c := NewCatalog(logger)
	for _, et := range DefaultEventTypes {
		if _, err := c.Register(et); err != nil {
			panic(fmt.Sprintf("catalog: register default %q: %v", et.Name, err))
		}
	}
	return c
}

// Register adds or replaces an event type. A schema, if present, must compile.
func (c *Catalog) Register(et EventType) (*EventType, error) {
	if et.Name == "" {
		return nil, errors.New("catalog: event type name is required")
	}
	if len(et.Schema) > 0 {
		if _, err := c.validator.compile(et.Schema); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", et.Name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.types[et.Name]; ok {
		et.ID = existing.ID
		et.CreatedAt = existing.CreatedAt
		et.Touch()
	} else {
		et.ID = id.NewEventTypeID()
		et.Entity = entity.New()
	}
	c.types[et.Name] = &et

	c.logger.Debug("event type registered", "event_type", et.Name, "group", et.Group)
	cp := et
	return &cp, nil
}

// Get returns the event type with the given name.
func (c *Catalog) Get(name string) (*EventType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	et, ok := c.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	cp := *et
	return &cp, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// List returns registered event types sorted by name.
func (c *Catalog) List(opts ListOpts) []*EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*EventType, 0, len(c.types))
	for _, et := range c.types {
		if opts.Group != "" && et.Group != opts.Group {
			continue
		}
		cp := *et
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Remove unregisters an event type. Existing subscriptions are left alone;
// they simply stop receiving events.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.types[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(c.types, name)
	return nil
}

// Validate checks data against the schema registered for name. Types without
// a schema accept any data.
func (c *Catalog) Validate(name string, data json.RawMessage) error {
	et, err := c.Get(name)
	if err != nil {
		return err
	}
	if len(et.Schema) == 0 {
		return nil
	}
	if err := c.validator.ValidateJSON(et.Schema, data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidData, err.Error())
	}
	return nil
}
