// Package memory is an in-process ledger backend. It implements every store the
// registry, exchange, ledger service and event jobs need, guarded by one mutex so
// each operation is serialized exactly like a single-writer ledger. It backs the
// "memory" ledger backend and the service-level tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/registry"
)

// Store holds organizations, projects, balances and sale events in memory
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	orgs     map[string]*models.Organization
	orgOrder []string
	projects map[string][]*models.Project
	accounts map[string]*models.Account
	events   []*models.SaleEvent
	archives []*models.EventArchive
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:      time.Now,
		orgs:     make(map[string]*models.Organization),
		projects: make(map[string][]*models.Project),
		accounts: make(map[string]*models.Account),
	}
}

func copyOrg(o *models.Organization) *models.Organization {
	c := *o
	return &c
}

func copyProject(p *models.Project) *models.Project {
	c := *p
	return &c
}

func copyEvent(e *models.SaleEvent) *models.SaleEvent {
	c := *e
	return &c
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// CreateOrganization stores org, failing on a duplicate id
func (s *Store) CreateOrganization(_ context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgs[org.ID]; exists {
		return fmt.Errorf("organization %q: %w", org.ID, registry.ErrDuplicateOrganization)
	}
	org.CreatedAt = s.now()
	s.orgs[org.ID] = copyOrg(org)
	s.orgOrder = append(s.orgOrder, org.ID)
	return nil
}

// GetOrganization returns the organization or nil
func (s *Store) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, nil
	}
	return copyOrg(org), nil
}

// ListOrganizations returns organizations in registration order
func (s *Store) ListOrganizations(_ context.Context) ([]*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Organization, 0, len(s.orgOrder))
	for _, id := range s.orgOrder {
		out = append(out, copyOrg(s.orgs[id]))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// CreateProject appends p to its organization's sequence
func (s *Store) CreateProject(_ context.Context, p *models.Project) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[p.OrgID]; !ok {
		return 0, fmt.Errorf("organization %q: %w", p.OrgID, registry.ErrNotFound)
	}
	now := s.now()
	p.Index = len(s.projects[p.OrgID])
	p.CCTListed = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.OrgID] = append(s.projects[p.OrgID], copyProject(p))
	return p.Index, nil
}

func (s *Store) project(orgID string, index int) *models.Project {
	seq := s.projects[orgID]
	if index < 0 || index >= len(seq) {
		return nil
	}
	return seq[index]
}

// GetProject returns the project or nil
func (s *Store) GetProject(_ context.Context, orgID string, index int) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(orgID, index)
	if p == nil {
		return nil, nil
	}
	return copyProject(p), nil
}

// ListProjects returns an organization's projects in index order
func (s *Store) ListProjects(_ context.Context, orgID string) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.projects[orgID]
	out := make([]*models.Project, 0, len(seq))
	for _, p := range seq {
		out = append(out, copyProject(p))
	}
	return out, nil
}

// IncrementListed raises cct_listed by quantity if the allotment allows it
func (s *Store) IncrementListed(_ context.Context, orgID string, index int, quantity uint64) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(orgID, index)
	if p == nil {
		return nil, nil
	}
	if err := s.incrementLocked(p, quantity); err != nil {
		return nil, err
	}
	return copyProject(p), nil
}

func (s *Store) incrementLocked(p *models.Project, quantity uint64) error {
	if quantity > p.Available() {
		return fmt.Errorf("project %s/%d has %d available, %d requested: %w",
			p.OrgID, p.Index, p.Available(), quantity, registry.ErrInsufficientSupply)
	}
	p.CCTListed += quantity
	p.UpdatedAt = s.now()
	return nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// GetAccount returns the account or nil
func (s *Store) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	c := *acct
	return &c, nil
}

// OpenAccount creates id with balance unless it already exists
func (s *Store) OpenAccount(_ context.Context, id string, balance int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; ok {
		return false, nil
	}
	now := s.now()
	s.accounts[id] = &models.Account{ID: id, Balance: balance, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

// Transfer moves amount between accounts
func (s *Store) Transfer(_ context.Context, from, to string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked([]posting{{account: from, delta: -amount}, {account: to, delta: amount}})
}

type posting struct {
	account string
	delta   int64
}

// applyLocked checks every posting before applying any of them
func (s *Store) applyLocked(postings []posting) error {
	pending := make(map[string]int64)
	for _, p := range postings {
		var balance int64
		if acct, ok := s.accounts[p.account]; ok {
			balance = acct.Balance
		}
		current := balance + pending[p.account]
		if p.delta > 0 && current > math.MaxInt64-p.delta {
			return fmt.Errorf("account %s: %w", p.account, registry.ErrBalanceOverflow)
		}
		if current+p.delta < 0 {
			return fmt.Errorf("account %s: %w", p.account, registry.ErrInsufficientFunds)
		}
		pending[p.account] += p.delta
	}

	now := s.now()
	for id, delta := range pending {
		acct, ok := s.accounts[id]
		if !ok {
			acct = &models.Account{ID: id, CreatedAt: now}
			s.accounts[id] = acct
		}
		acct.Balance += delta
		acct.UpdatedAt = now
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// Settle commits the supply increment, currency postings and sale event together
func (s *Store) Settle(_ context.Context, st *models.Settlement) (*models.SaleReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.project(st.OrgID, st.ProjectIndex)
	if p == nil {
		return nil, fmt.Errorf("project %s/%d: %w", st.OrgID, st.ProjectIndex, registry.ErrNotFound)
	}
	org := s.orgs[st.OrgID]

	// Check supply without mutating so a funds failure leaves the counter untouched
	if st.Quantity > p.Available() {
		return nil, fmt.Errorf("project %s/%d has %d available, %d requested: %w",
			p.OrgID, p.Index, p.Available(), st.Quantity, registry.ErrInsufficientSupply)
	}

	postings := []posting{
		{account: st.Buyer, delta: -int64(st.Debit)},
		{account: org.PayoutAccount, delta: int64(st.Proceeds)},
	}
	if st.Retained > 0 {
		postings = append(postings, posting{account: st.TreasuryAccount, delta: int64(st.Retained)})
	}
	if err := s.applyLocked(postings); err != nil {
		return nil, err
	}
	if err := s.incrementLocked(p, st.Quantity); err != nil {
		return nil, err
	}

	ev := &models.SaleEvent{
		Sequence:     int64(len(s.events) + 1),
		ID:           uuid.New().String(),
		OrgID:        st.OrgID,
		ProjectIndex: st.ProjectIndex,
		Buyer:        st.Buyer,
		Quantity:     st.Quantity,
		UnitPrice:    st.UnitPrice,
		AmountPaid:   st.Proceeds,
		Refunded:     st.Refunded,
		CreatedAt:    s.now(),
	}
	if st.RequestID != "" {
		rid := st.RequestID
		ev.RequestID = &rid
	}
	s.events = append(s.events, ev)

	return &models.SaleReceipt{
		Project:  copyProject(p),
		Event:    copyEvent(ev),
		Refunded: st.Refunded,
	}, nil
}

// ---------------------------------------------------------------------------
// Sale events
// ---------------------------------------------------------------------------

// ListSaleEvents returns events matching f in sequence order
func (s *Store) ListSaleEvents(_ context.Context, f models.SaleEventFilter) ([]*models.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.SaleEvent{}
	for _, ev := range s.events {
		if ev.Sequence <= f.After {
			continue
		}
		if f.OrgID != "" && ev.OrgID != f.OrgID {
			continue
		}
		if f.ProjectIndex != nil && ev.ProjectIndex != *f.ProjectIndex {
			continue
		}
		if f.Buyer != "" && ev.Buyer != f.Buyer {
			continue
		}
		out = append(out, copyEvent(ev))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ListUnpublished returns up to limit events the relay has not delivered
func (s *Store) ListUnpublished(_ context.Context, limit int) ([]*models.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.SaleEvent{}
	for _, ev := range s.events {
		if ev.PublishedAt == nil {
			out = append(out, copyEvent(ev))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// MarkPublished stamps the given events as delivered
func (s *Store) MarkPublished(_ context.Context, sequences []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range sequences {
		if seq < 1 || int(seq) > len(s.events) {
			continue
		}
		ev := s.events[seq-1]
		if ev.PublishedAt == nil {
			t := at
			ev.PublishedAt = &t
		}
	}
	return nil
}

// ListUnarchived returns up to limit published events not yet sealed into a segment
func (s *Store) ListUnarchived(_ context.Context, limit int) ([]*models.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.SaleEvent{}
	for _, ev := range s.events {
		if ev.PublishedAt != nil && ev.ArchivedAt == nil {
			out = append(out, copyEvent(ev))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// RecordArchive stores the segment record and marks the listed events archived
func (s *Store) RecordArchive(_ context.Context, archive *models.EventArchive, sequences []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range sequences {
		if seq < 1 || int(seq) > len(s.events) {
			return fmt.Errorf("archive references unknown sequence %d", seq)
		}
		if s.events[seq-1].ArchivedAt != nil {
			return fmt.Errorf("sale event %d is already archived", seq)
		}
	}
	now := s.now()
	archive.CreatedAt = now
	for _, seq := range sequences {
		t := now
		s.events[seq-1].ArchivedAt = &t
	}
	c := *archive
	s.archives = append(s.archives, &c)
	return nil
}

// ListArchives returns sealed segments ordered by first sequence
func (s *Store) ListArchives(_ context.Context) ([]*models.EventArchive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.EventArchive, 0, len(s.archives))
	for _, a := range s.archives {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSequence < out[j].FirstSequence })
	return out, nil
}
