// Package static provides an in-memory fleet directory.
//
// A Directory serves entity snapshots from memory and records every
// notification, work order and status update it receives. Requests carrying
// an idempotency key that was already seen return the original result.
// It is loaded from a YAML fixture by `warden run` when no fleet API is
// configured, and used as the collaborator fake throughout the test suite.
package static

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"fleetguard/warden/pkg/fleet"
)

// Fixture is the on-disk layout of a directory.
type Fixture struct {
	Entities []FixtureEntity `yaml:"entities"`
}

// FixtureEntity is a single entity in a fixture file.
type FixtureEntity struct {
	Type       fleet.EntityType       `yaml:"type"`
	ID         string                 `yaml:"id"`
	Attributes map[string]interface{} `yaml:"attributes"`
}

// Directory is an in-memory SnapshotProvider, Notifier, WorkOrderService
// and StatusUpdater.
type Directory struct {
	mu       sync.Mutex
	entities map[fleet.EntityType]map[string]map[string]interface{}

	notifications []fleet.Notification
	workOrders    []fleet.WorkOrderRequest
	statusUpdates []fleet.StatusUpdate
	seen          map[string]string

	failures map[string]*failure
	delays   map[string]time.Duration
	now      func() time.Time
}

type failure struct {
	err       error
	remaining int
}

// Operation names accepted by FailNext and Delay.
const (
	OpSend         = "send"
	OpCreate       = "create"
	OpUpdateStatus = "update_status"
	OpGetSnapshot  = "get_snapshot"
)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		entities: make(map[fleet.EntityType]map[string]map[string]interface{}),
		seen:     make(map[string]string),
		failures: make(map[string]*failure),
		delays:   make(map[string]time.Duration),
		now:      time.Now,
	}
}

// LoadFile builds a directory from a YAML fixture file.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	d := NewDirectory()
	for _, e := range fx.Entities {
		if !e.Type.Valid() {
			return nil, fmt.Errorf("fixture %s: unknown entity type %q", path, e.Type)
		}
		if e.ID == "" {
			return nil, fmt.Errorf("fixture %s: entity of type %s has no id", path, e.Type)
		}
		d.Put(e.Type, e.ID, e.Attributes)
	}
	return d, nil
}

// Put stores or replaces an entity.
func (d *Directory) Put(entityType fleet.EntityType, id string, attrs map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byID, ok := d.entities[entityType]
	if !ok {
		byID = make(map[string]map[string]interface{})
		d.entities[entityType] = byID
	}
	byID[id] = cloneMap(attrs)
}

// Delete removes an entity.
func (d *Directory) Delete(entityType fleet.EntityType, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entities[entityType], id)
}

// FailNext makes the next n calls of op return err.
func (d *Directory) FailNext(op string, err error, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = &failure{err: err, remaining: n}
}

// Delay makes every call of op block for dur or until its context ends.
func (d *Directory) Delay(op string, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[op] = dur
}

// GetSnapshot implements fleet.SnapshotProvider.
func (d *Directory) GetSnapshot(ctx context.Context, entityType fleet.EntityType, entityID string) (*fleet.Snapshot, error) {
	if err := d.intercept(ctx, OpGetSnapshot); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	attrs, ok := d.entities[entityType][entityID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", entityType, entityID, fleet.ErrEntityNotFound)
	}
	return &fleet.Snapshot{
		Ref:        fleet.EntityRef{Type: entityType, ID: entityID},
		Attributes: cloneMap(attrs),
		CapturedAt: d.now(),
	}, nil
}

// ListTargets implements fleet.SnapshotProvider. Results are sorted by id.
func (d *Directory) ListTargets(ctx context.Context, scope fleet.Scope) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for id, attrs := range d.entities[scope.EntityType] {
		if matchesFilter(attrs, scope.Filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Send implements fleet.Notifier.
func (d *Directory) Send(ctx context.Context, n fleet.Notification) (string, error) {
	if err := d.intercept(ctx, OpSend); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.seen[OpSend+":"+n.IdempotencyKey]; ok && n.IdempotencyKey != "" {
		return id, nil
	}
	id := "ntf-" + uuid.New().String()
	d.notifications = append(d.notifications, n)
	d.remember(OpSend, n.IdempotencyKey, id)
	return id, nil
}

// Create implements fleet.WorkOrderService.
func (d *Directory) Create(ctx context.Context, req fleet.WorkOrderRequest) (string, error) {
	if err := d.intercept(ctx, OpCreate); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.seen[OpCreate+":"+req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := "wo-" + uuid.New().String()
	d.workOrders = append(d.workOrders, req)
	d.remember(OpCreate, req.IdempotencyKey, id)

	byID, ok := d.entities[fleet.EntityWorkOrder]
	if !ok {
		byID = make(map[string]map[string]interface{})
		d.entities[fleet.EntityWorkOrder] = byID
	}
	byID[id] = map[string]interface{}{
		"title":      req.Title,
		"vehicle_id": req.VehicleID,
		"priority":   req.Priority,
		"status":     "open",
	}
	return id, nil
}

// UpdateStatus implements fleet.StatusUpdater.
func (d *Directory) UpdateStatus(ctx context.Context, u fleet.StatusUpdate) error {
	if err := d.intercept(ctx, OpUpdateStatus); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	attrs, ok := d.entities[u.EntityType][u.EntityID]
	if !ok {
		return fmt.Errorf("%s/%s: %w", u.EntityType, u.EntityID, fleet.ErrEntityNotFound)
	}
	if _, ok := d.seen[OpUpdateStatus+":"+u.IdempotencyKey]; ok && u.IdempotencyKey != "" {
		return nil
	}
	attrs["status"] = u.Status
	d.statusUpdates = append(d.statusUpdates, u)
	d.remember(OpUpdateStatus, u.IdempotencyKey, u.Status)
	return nil
}

// Notifications returns the notifications sent so far.
func (d *Directory) Notifications() []fleet.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fleet.Notification(nil), d.notifications...)
}

// WorkOrders returns the work orders created so far.
func (d *Directory) WorkOrders() []fleet.WorkOrderRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fleet.WorkOrderRequest(nil), d.workOrders...)
}

// StatusUpdates returns the status updates applied so far.
func (d *Directory) StatusUpdates() []fleet.StatusUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fleet.StatusUpdate(nil), d.statusUpdates...)
}

// Collaborators returns the directory wired as every side-effecting service.
func (d *Directory) Collaborators() fleet.Collaborators {
	return fleet.Collaborators{Notifier: d, WorkOrders: d, Status: d}
}

func (d *Directory) intercept(ctx context.Context, op string) error {
	d.mu.Lock()
	delay := d.delays[op]
	var err error
	if f, ok := d.failures[op]; ok && f.remaining > 0 {
		f.remaining--
		err = f.err
	}
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (d *Directory) remember(op, key, id string) {
	if key == "" {
		return
	}
	d.seen[op+":"+key] = id
}

func matchesFilter(attrs map[string]interface{}, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := attrs[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
