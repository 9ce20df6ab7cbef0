// Package memory provides an in-memory implementation of the storage ports,
// backing the core service tests. A single store-level mutex plus
// copy-on-write state gives serializable transactions: a unit of work mutates
// a private copy that replaces the live state only on successful completion.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/medassure/go-dispense/internal/domain/insured"
	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/domain/medication"
	"github.com/medassure/go-dispense/internal/domain/prescription"
	"github.com/medassure/go-dispense/internal/domain/sale"
	"github.com/medassure/go-dispense/internal/port"
)

// Store is a mutex-guarded in-memory database
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	persons             map[string]insured.Person
	medications         map[string]medication.Medication
	prescriptions       map[string]prescription.Prescription
	items               map[string]inventory.Item
	lots                map[string]inventory.Lot
	sales               map[string]sale.Sale
	salesByPrescription map[string]string
	checks              map[string]inventory.Check
	outbox              []port.OutboxEvent
}

func newState() *state {
	return &state{
		persons:             make(map[string]insured.Person),
		medications:         make(map[string]medication.Medication),
		prescriptions:       make(map[string]prescription.Prescription),
		items:               make(map[string]inventory.Item),
		lots:                make(map[string]inventory.Lot),
		sales:               make(map[string]sale.Sale),
		salesByPrescription: make(map[string]string),
		checks:              make(map[string]inventory.Check),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.persons {
		c.persons[k] = v
	}
	for k, v := range st.medications {
		m := v
		m.Ingredients = append([]medication.Ingredient(nil), v.Ingredients...)
		c.medications[k] = m
	}
	for k, v := range st.prescriptions {
		p := v
		p.Lines = append([]prescription.Line(nil), v.Lines...)
		c.prescriptions[k] = p
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	for k, v := range st.lots {
		c.lots[k] = v
	}
	for k, v := range st.sales {
		s := v
		s.Details = append([]sale.Detail(nil), v.Details...)
		c.sales[k] = s
	}
	for k, v := range st.salesByPrescription {
		c.salesByPrescription[k] = v
	}
	for k, v := range st.checks {
		ch := v
		ch.Lines = append([]inventory.CheckLine(nil), v.Lines...)
		c.checks[k] = ch
	}
	c.outbox = append([]port.OutboxEvent(nil), st.outbox...)
	return c
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// Execute runs fn against a private copy of the state. The copy becomes the
// live state only when fn succeeds and the context is still alive, so every
// failure path rolls back completely.
func (s *Store) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&unitOfWork{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = work
	return nil
}

// Seeding helpers for dev mode and tests. The dispensing core never writes
// these entities; they are owned by external workflows.

func (s *Store) PutPerson(p insured.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.persons[p.ID] = p
}

func (s *Store) PutMedication(m medication.Medication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.medications[m.ID] = m
}

func (s *Store) PutPrescription(p prescription.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.prescriptions[p.ID] = p
}

func (s *Store) PutCheck(c inventory.Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.checks[c.ID] = c
}

// OutboxEvents returns the staged events in write order
func (s *Store) OutboxEvents() []port.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]port.OutboxEvent(nil), s.state.outbox...)
}

type unitOfWork struct {
	st *state
}

func (u *unitOfWork) InsuredPersons() port.InsuredPersonRepository { return (*personRepo)(u) }
func (u *unitOfWork) Medications() port.MedicationRepository       { return (*medicationRepo)(u) }
func (u *unitOfWork) Prescriptions() port.PrescriptionRepository   { return (*prescriptionRepo)(u) }
func (u *unitOfWork) Inventory() port.InventoryRepository          { return (*inventoryRepo)(u) }
func (u *unitOfWork) Sales() port.SaleRepository                   { return (*saleRepo)(u) }
func (u *unitOfWork) Checks() port.InventoryCheckRepository        { return (*checkRepo)(u) }
func (u *unitOfWork) Outbox() port.OutboxWriter                    { return (*outboxWriter)(u) }

type personRepo unitOfWork

func (r *personRepo) FindByID(_ context.Context, id string) (*insured.Person, error) {
	p, ok := r.st.persons[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &p, nil
}

type medicationRepo unitOfWork

func (r *medicationRepo) FindByID(_ context.Context, id string) (*medication.Medication, error) {
	m, ok := r.st.medications[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := m
	cp.Ingredients = append([]medication.Ingredient(nil), m.Ingredients...)
	return &cp, nil
}

type prescriptionRepo unitOfWork

func (r *prescriptionRepo) FindByID(_ context.Context, id string) (*prescription.Prescription, error) {
	p, ok := r.st.prescriptions[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := p
	cp.Lines = append([]prescription.Line(nil), p.Lines...)
	return &cp, nil
}

type inventoryRepo unitOfWork

func (r *inventoryRepo) GetItem(_ context.Context, medicationID string) (*inventory.Item, error) {
	item, ok := r.st.items[medicationID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &item, nil
}

// GetItemForUpdate is identical to GetItem here: the store mutex already
// serializes whole transactions.
func (r *inventoryRepo) GetItemForUpdate(ctx context.Context, medicationID string) (*inventory.Item, error) {
	return r.GetItem(ctx, medicationID)
}

func (r *inventoryRepo) ListLots(_ context.Context, medicationID string) ([]inventory.Lot, error) {
	var lots []inventory.Lot
	for _, lot := range r.st.lots {
		if lot.MedicationID == medicationID {
			lots = append(lots, lot)
		}
	}
	// Same consumption order the SQL store produces with
	// ORDER BY expiry_date NULLS LAST, received_at, id.
	sort.Slice(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate != nil:
			if !a.ExpiryDate.Equal(*b.ExpiryDate) {
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
		case a.ExpiryDate != nil:
			return true
		case b.ExpiryDate != nil:
			return false
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
	return lots, nil
}

func (r *inventoryRepo) CreateItem(_ context.Context, item *inventory.Item) error {
	if _, ok := r.st.items[item.MedicationID]; ok {
		return port.ErrAlreadyExists
	}
	r.st.items[item.MedicationID] = *item
	return nil
}

func (r *inventoryRepo) SaveItem(_ context.Context, item *inventory.Item) error {
	stored, ok := r.st.items[item.MedicationID]
	if !ok {
		return port.ErrNotFound
	}
	if stored.Version != item.Version {
		return port.ErrConcurrencyConflict
	}
	item.Version++
	r.st.items[item.MedicationID] = *item
	return nil
}

func (r *inventoryRepo) InsertLot(_ context.Context, lot *inventory.Lot) error {
	r.st.lots[lot.ID] = *lot
	return nil
}

func (r *inventoryRepo) UpdateLotQuantity(_ context.Context, lotID string, quantity int64) error {
	lot, ok := r.st.lots[lotID]
	if !ok {
		return port.ErrNotFound
	}
	lot.Quantity = quantity
	r.st.lots[lotID] = lot
	return nil
}

type saleRepo unitOfWork

func (r *saleRepo) Insert(_ context.Context, s *sale.Sale) error {
	if s.PrescriptionID != nil {
		if _, ok := r.st.salesByPrescription[*s.PrescriptionID]; ok {
			return port.ErrAlreadyExists
		}
		r.st.salesByPrescription[*s.PrescriptionID] = s.ID
	}
	cp := *s
	cp.Details = append([]sale.Detail(nil), s.Details...)
	r.st.sales[s.ID] = cp
	return nil
}

func (r *saleRepo) FindByID(_ context.Context, id string) (*sale.Sale, error) {
	s, ok := r.st.sales[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := s
	cp.Details = append([]sale.Detail(nil), s.Details...)
	return &cp, nil
}

func (r *saleRepo) FindByPrescriptionID(ctx context.Context, prescriptionID string) (*sale.Sale, error) {
	saleID, ok := r.st.salesByPrescription[prescriptionID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return r.FindByID(ctx, saleID)
}

type checkRepo unitOfWork

func (r *checkRepo) FindByIDForUpdate(_ context.Context, id string) (*inventory.Check, error) {
	c, ok := r.st.checks[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := c
	cp.Lines = append([]inventory.CheckLine(nil), c.Lines...)
	return &cp, nil
}

func (r *checkRepo) MarkProcessed(_ context.Context, id string) error {
	c, ok := r.st.checks[id]
	if !ok {
		return port.ErrNotFound
	}
	c.Processed = true
	r.st.checks[id] = c
	return nil
}

type outboxWriter unitOfWork

func (w *outboxWriter) Write(_ context.Context, event *port.OutboxEvent) error {
	w.st.outbox = append(w.st.outbox, *event)
	return nil
}
