// Package memstore is an in-memory relationship and outbox store with
// transaction semantics, used to exercise services without Postgres.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

type txKey struct{}

// Store holds relationships and outbox rows. WithTx snapshots state and
// restores it when fn fails; nested calls join the outer transaction.
type Store struct {
	mu            sync.Mutex
	relationships map[uuid.UUID]models.HostRelationship
	outbox        map[uuid.UUID]models.OutboxRecord

	// Reads counts FindAllWithLock calls.
	Reads int
	// Fail, when set, is consulted before every mutation and may return an
	// error to inject a failure. op is the method name.
	Fail func(op string) error
}

func New() *Store {
	return &Store{
		relationships: make(map[uuid.UUID]models.HostRelationship),
		outbox:        make(map[uuid.UUID]models.OutboxRecord),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	relSnap := cloneMap(s.relationships)
	outSnap := cloneMap(s.outbox)
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(relSnap, outSnap)
			panic(p)
		}
		if err != nil {
			s.restore(relSnap, outSnap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(rels map[uuid.UUID]models.HostRelationship, out map[uuid.UUID]models.OutboxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = rels
	s.outbox = out
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

// Relationships returns all stored relationships ordered by subscription manager id.
func (s *Store) Relationships() []models.HostRelationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HostRelationship, 0, len(s.relationships))
	for _, r := range s.relationships {
		out = append(out, r)
	}
	sortBySubman(out)
	return out
}

// OutboxRecords returns pending outbox rows oldest first.
func (s *Store) OutboxRecords() []models.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedOutbox()
}

// Relationship store

func (s *Store) Find(_ context.Context, orgID, subscriptionManagerID string) (*models.HostRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relationships[models.HostID(orgID, subscriptionManagerID)]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

func (s *Store) FindByInventoryID(_ context.Context, orgID, inventoryID string) (*models.HostRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.HostRelationship
	for _, r := range s.relationships {
		if r.OrgID != orgID || r.InventoryID == nil || *r.InventoryID != inventoryID {
			continue
		}
		if found == nil || r.LastUpdated.After(found.LastUpdated) {
			rel := r
			found = &rel
		}
	}
	return found, nil
}

func (s *Store) Exists(_ context.Context, orgID, subscriptionManagerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.relationships[models.HostID(orgID, subscriptionManagerID)]
	return ok, nil
}

func (s *Store) Upsert(_ context.Context, rel *models.HostRelationship) error {
	if err := s.fail("Upsert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.relationships[rel.ID]; ok {
		// creation_date is not part of the conflict update
		stored := *rel
		stored.CreationDate = existing.CreationDate
		s.relationships[rel.ID] = stored
		return nil
	}
	s.relationships[rel.ID] = *rel
	return nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	if err := s.fail("Delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relationships, id)
	return nil
}

func (s *Store) GuestCount(ctx context.Context, orgID, hypervisorID string) (int64, error) {
	guests, err := s.FindGuests(ctx, orgID, hypervisorID)
	return int64(len(guests)), err
}

func (s *Store) FindGuests(_ context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error) {
	return s.guests(orgID, hypervisorID, false), nil
}

func (s *Store) FindUnmappedGuests(_ context.Context, orgID, hypervisorID string) ([]models.HostRelationship, error) {
	return s.guests(orgID, hypervisorID, true), nil
}

func (s *Store) guests(orgID, hypervisorID string, unmappedOnly bool) []models.HostRelationship {
	if hypervisorID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HostRelationship
	for _, r := range s.relationships {
		if r.OrgID != orgID || r.HypervisorID() != hypervisorID {
			continue
		}
		if unmappedOnly && !r.IsUnmappedGuest {
			continue
		}
		out = append(out, r)
	}
	sortBySubman(out)
	return out
}

// Outbox store

func (s *Store) Create(_ context.Context, record *models.OutboxRecord) error {
	if err := s.fail("Create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, ok := s.outbox[record.ID]; ok {
		return errors.New("duplicate outbox id")
	}
	s.outbox[record.ID] = *record
	return nil
}

func (s *Store) FindAllWithLock(_ context.Context, limit int) ([]models.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	records := s.sortedOutbox()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// deleteOutbox backs OutboxView.Delete.
func (s *Store) deleteOutbox(id uuid.UUID) error {
	if err := s.fail("DeleteOutbox"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outbox, id)
	return nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.outbox)), nil
}

func (s *Store) sortedOutbox() []models.OutboxRecord {
	out := make([]models.OutboxRecord, 0, len(s.outbox))
	for _, r := range s.outbox {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedDate.Equal(out[j].CreatedDate) {
			return out[i].CreatedDate.Before(out[j].CreatedDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Outbox returns the outbox store view, whose Delete removes outbox rows.
func (s *Store) Outbox() *OutboxView {
	return &OutboxView{s}
}

type OutboxView struct {
	s *Store
}

func (v *OutboxView) Create(ctx context.Context, record *models.OutboxRecord) error {
	return v.s.Create(ctx, record)
}

func (v *OutboxView) FindAllWithLock(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	return v.s.FindAllWithLock(ctx, limit)
}

func (v *OutboxView) Delete(_ context.Context, id uuid.UUID) error {
	return v.s.deleteOutbox(id)
}

func (v *OutboxView) Count(ctx context.Context) (int64, error) {
	return v.s.Count(ctx)
}

func sortBySubman(rels []models.HostRelationship) {
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].SubscriptionManagerID < rels[j].SubscriptionManagerID
	})
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
