package repository

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/7D-Solutions/gaugecore/core"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/gauge"
)

// memState is the shared backing store for the in-memory repository set.
// A single mutex covers every map; the Runner holds it for the whole
// transaction function, which gives workflow tests the same serialization
// the real stores get from row locks.
type memState struct {
	mu sync.Mutex

	gauges   map[int64]*gauge.Gauge
	certs    map[int64]*Certificate
	checked  map[int64]*ActiveCheckout
	batches  map[int64]*Batch
	members  map[int64][]*BatchMember
	setIDs   map[string]*SetIDRecord
	users    map[string]*User
	nextID   int64
	nextCert int64
	nextCO   int64
	nextB    int64
}

// In-memory views over the shared state, one per repository interface.
type (
	MemoryGauges       struct{ s *memState }
	MemoryCertificates struct{ s *memState }
	MemoryCheckouts    struct{ s *memState }
	MemoryBatches      struct{ s *memState }
	MemorySetIDs       struct{ s *memState }
	MemoryUsers        struct{ s *memState }
)

// Memory bundles the in-memory repository set used by workflow tests. It
// mirrors the PostgreSQL bundle's shape so services wire against either.
type Memory struct {
	s *memState

	Gauges       *MemoryGauges
	Certificates *MemoryCertificates
	Checkouts    *MemoryCheckouts
	Batches      *MemoryBatches
	SetIDs       *MemorySetIDs
	Users        *MemoryUsers
}

// NewMemory creates an empty in-memory repository set.
func NewMemory() *Memory {
	s := &memState{
		gauges:  map[int64]*gauge.Gauge{},
		certs:   map[int64]*Certificate{},
		checked: map[int64]*ActiveCheckout{},
		batches: map[int64]*Batch{},
		members: map[int64][]*BatchMember{},
		setIDs:  map[string]*SetIDRecord{},
		users:   map[string]*User{},
	}
	return &Memory{
		s:            s,
		Gauges:       &MemoryGauges{s},
		Certificates: &MemoryCertificates{s},
		Checkouts:    &MemoryCheckouts{s},
		Batches:      &MemoryBatches{s},
		SetIDs:       &MemorySetIDs{s},
		Users:        &MemoryUsers{s},
	}
}

// WithTx runs fn under the store mutex with a nil transaction handle. The
// in-memory stores ignore the handle. Rollback is not simulated, so tests
// exercising failure paths should assert on the error, not on state.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return fn(ctx, nil)
}

var _ db.Runner = (*Memory)(nil)

var (
	_ GaugeRepository       = (*MemoryGauges)(nil)
	_ CertificateRepository = (*MemoryCertificates)(nil)
	_ CheckoutRepository    = (*MemoryCheckouts)(nil)
	_ BatchRepository       = (*MemoryBatches)(nil)
	_ SetIDRepository       = (*MemorySetIDs)(nil)
	_ UserRepository        = (*MemoryUsers)(nil)
)

func cloneGauge(g *gauge.Gauge) *gauge.Gauge {
	c := *g
	if g.GaugeID != nil {
		v := *g.GaugeID
		c.GaugeID = &v
	}
	if g.Suffix != nil {
		v := *g.Suffix
		c.Suffix = &v
	}
	if g.CompanionID != nil {
		v := *g.CompanionID
		c.CompanionID = &v
	}
	if g.StorageLoc != nil {
		v := *g.StorageLoc
		c.StorageLoc = &v
	}
	if g.OwnerUserID != nil {
		v := *g.OwnerUserID
		c.OwnerUserID = &v
	}
	if g.CustomName != nil {
		v := *g.CustomName
		c.CustomName = &v
	}
	if g.CategoryID != nil {
		v := *g.CategoryID
		c.CategoryID = &v
	}
	if g.Spec != nil {
		s := *g.Spec
		if g.Spec.Thread != nil {
			t := *g.Spec.Thread
			s.Thread = &t
		}
		if g.Spec.HandTool != nil {
			t := *g.Spec.HandTool
			s.HandTool = &t
		}
		if g.Spec.Large != nil {
			t := *g.Spec.Large
			s.Large = &t
		}
		if g.Spec.Standard != nil {
			t := *g.Spec.Standard
			s.Standard = &t
		}
		c.Spec = &s
	}
	return &c
}

// Create inserts a gauge, enforcing serial uniqueness among non-retired
// gauges of the same equipment type.
func (r *MemoryGauges) Create(ctx context.Context, tx db.Tx, g *gauge.Gauge) (*gauge.Gauge, error) {
	serial := gauge.NormalizeSerial(g.SerialNumber)
	if g.EquipmentType == gauge.EquipmentThreadGauge && serial == "" {
		return nil, core.Validation("serial_number", "thread gauges require a serial number")
	}
	for _, other := range r.s.gauges {
		if other.EquipmentType == g.EquipmentType && other.SerialNumber == serial && !other.IsRetired() {
			return nil, core.Conflict(fmt.Sprintf("serial %s already in use for %s", serial, g.EquipmentType))
		}
	}
	r.s.nextID++
	c := cloneGauge(g)
	c.ID = r.s.nextID
	c.SerialNumber = serial
	if c.Spec != nil && c.Spec.Thread != nil {
		size, err := gauge.CanonicalThreadSize(c.Spec.Thread.Size)
		if err != nil {
			return nil, core.Validation("thread_size", err.Error())
		}
		c.Spec.Thread.Size = size
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.gauges[c.ID] = c
	return cloneGauge(c), nil
}

func (r *MemoryGauges) FindByID(ctx context.Context, tx db.Tx, id int64) (*gauge.Gauge, error) {
	g, ok := r.s.gauges[id]
	if !ok {
		return nil, core.NotFound("gauge", fmt.Sprintf("%d", id))
	}
	return cloneGauge(g), nil
}

func (r *MemoryGauges) FindBySerial(ctx context.Context, tx db.Tx, et gauge.EquipmentType, serial string) (*gauge.Gauge, error) {
	serial = gauge.NormalizeSerial(serial)
	for _, g := range r.s.gauges {
		if g.EquipmentType == et && g.SerialNumber == serial && !g.IsRetired() {
			return cloneGauge(g), nil
		}
	}
	return nil, core.NotFound("gauge", serial)
}

func (r *MemoryGauges) FindByPublicID(ctx context.Context, tx db.Tx, setID string) ([]*gauge.Gauge, error) {
	var out []*gauge.Gauge
	for _, g := range r.s.gauges {
		if g.GaugeID == nil {
			continue
		}
		if *g.GaugeID == setID || *g.GaugeID == setID+"A" || *g.GaugeID == setID+"B" {
			out = append(out, cloneGauge(g))
		}
	}
	if len(out) == 0 {
		return nil, core.NotFound("gauge", setID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryGauges) FindSpareThreadGauges(ctx context.Context, tx db.Tx, f SpareFilter) ([]*gauge.Gauge, error) {
	var out []*gauge.Gauge
	for _, g := range r.s.gauges {
		if !g.IsSpare() || g.Status != gauge.StatusAvailable {
			continue
		}
		t := g.Spec.Thread
		if f.ThreadSize != "" && t.Size != f.ThreadSize {
			continue
		}
		if f.ThreadForm != "" && t.Form != f.ThreadForm {
			continue
		}
		if f.ThreadClass != "" && t.Class != f.ThreadClass {
			continue
		}
		out = append(out, cloneGauge(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryGauges) List(ctx context.Context, f GaugeListFilter) ([]*gauge.Gauge, error) {
	var out []*gauge.Gauge
	for _, g := range r.s.gauges {
		if f.EquipmentType != "" && g.EquipmentType != f.EquipmentType {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		if f.OwnershipType != "" && g.OwnershipType != f.OwnershipType {
			continue
		}
		if f.SetID != "" && g.SetID() != f.SetID {
			continue
		}
		out = append(out, cloneGauge(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryGauges) Update(ctx context.Context, tx db.Tx, g *gauge.Gauge) error {
	if _, ok := r.s.gauges[g.ID]; !ok {
		return core.NotFound("gauge", fmt.Sprintf("%d", g.ID))
	}
	c := cloneGauge(g)
	c.UpdatedAt = time.Now().UTC()
	r.s.gauges[g.ID] = c
	return nil
}

// Lock only checks existence; the Runner's mutex already serializes writers.
func (r *MemoryGauges) Lock(ctx context.Context, tx db.Tx, ids []int64) error {
	for _, id := range ids {
		if _, ok := r.s.gauges[id]; !ok {
			return core.NotFound("gauge", fmt.Sprintf("%d", id))
		}
	}
	return nil
}

func cloneCert(c *Certificate) *Certificate {
	cp := *c
	if c.CustomName != nil {
		v := *c.CustomName
		cp.CustomName = &v
	}
	if c.SupersededAt != nil {
		v := *c.SupersededAt
		cp.SupersededAt = &v
	}
	if c.SupersededBy != nil {
		v := *c.SupersededBy
		cp.SupersededBy = &v
	}
	if c.DeletedAt != nil {
		v := *c.DeletedAt
		cp.DeletedAt = &v
	}
	return &cp
}

func (r *MemoryCertificates) Insert(ctx context.Context, tx db.Tx, c *Certificate) (*Certificate, error) {
	// Mirrors the partial unique index on (gauge_id) WHERE is_current.
	if c.IsCurrent {
		for _, existing := range r.s.certs {
			if existing.GaugeID == c.GaugeID && existing.IsCurrent {
				return nil, core.Conflict(fmt.Sprintf("gauge %d already has a current certificate", c.GaugeID))
			}
		}
	}
	r.s.nextCert++
	cp := cloneCert(c)
	cp.ID = r.s.nextCert
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = time.Now().UTC()
	}
	r.s.certs[cp.ID] = cp
	return cloneCert(cp), nil
}

func (r *MemoryCertificates) Get(ctx context.Context, tx db.Tx, id int64) (*Certificate, error) {
	c, ok := r.s.certs[id]
	if !ok {
		return nil, core.NotFound("certificate", fmt.Sprintf("%d", id))
	}
	return cloneCert(c), nil
}

func (r *MemoryCertificates) CurrentFor(ctx context.Context, tx db.Tx, gaugeID int64) (*Certificate, error) {
	for _, c := range r.s.certs {
		if c.GaugeID == gaugeID && c.IsCurrent && c.DeletedAt == nil {
			return cloneCert(c), nil
		}
	}
	return nil, nil
}

func (r *MemoryCertificates) Supersede(ctx context.Context, tx db.Tx, oldID int64, at time.Time) error {
	c, ok := r.s.certs[oldID]
	if !ok || !c.IsCurrent {
		return core.Conflict(fmt.Sprintf("certificate %d is not current", oldID))
	}
	c.IsCurrent = false
	c.SupersededAt = &at
	return nil
}

func (r *MemoryCertificates) LinkSuccessor(ctx context.Context, tx db.Tx, oldID, newID int64) error {
	c, ok := r.s.certs[oldID]
	if !ok || c.SupersededAt == nil {
		return core.Conflict(fmt.Sprintf("certificate %d has not been superseded", oldID))
	}
	c.SupersededBy = &newID
	return nil
}

func (r *MemoryCertificates) ListFor(ctx context.Context, gaugeID int64, includeDeleted bool) ([]*Certificate, error) {
	var out []*Certificate
	for _, c := range r.s.certs {
		if c.GaugeID != gaugeID {
			continue
		}
		if c.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, cloneCert(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

func (r *MemoryCertificates) Rename(ctx context.Context, tx db.Tx, id int64, name string) error {
	c, ok := r.s.certs[id]
	if !ok || c.DeletedAt != nil {
		return core.NotFound("certificate", fmt.Sprintf("%d", id))
	}
	c.CustomName = &name
	return nil
}

func (r *MemoryCertificates) SoftDelete(ctx context.Context, tx db.Tx, id int64, at time.Time) error {
	c, ok := r.s.certs[id]
	if !ok || c.DeletedAt != nil {
		return core.NotFound("certificate", fmt.Sprintf("%d", id))
	}
	c.DeletedAt = &at
	c.IsCurrent = false
	return nil
}

func (r *MemoryCheckouts) Insert(ctx context.Context, tx db.Tx, ac *ActiveCheckout) (*ActiveCheckout, error) {
	if _, taken := r.s.checked[ac.GaugeID]; taken {
		return nil, core.AlreadyCheckedOut(fmt.Sprintf("%d", ac.GaugeID))
	}
	r.s.nextCO++
	cp := *ac
	cp.ID = r.s.nextCO
	if cp.CheckedAt.IsZero() {
		cp.CheckedAt = time.Now().UTC()
	}
	r.s.checked[cp.GaugeID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryCheckouts) FindByGauge(ctx context.Context, tx db.Tx, gaugeID int64) (*ActiveCheckout, error) {
	ac, ok := r.s.checked[gaugeID]
	if !ok {
		return nil, nil
	}
	cp := *ac
	return &cp, nil
}

func (r *MemoryCheckouts) DeleteForGauges(ctx context.Context, tx db.Tx, gaugeIDs []int64) error {
	for _, id := range gaugeIDs {
		delete(r.s.checked, id)
	}
	return nil
}

func (r *MemoryCheckouts) UpdateHolder(ctx context.Context, tx db.Tx, gaugeID int64, newUserID string) error {
	ac, ok := r.s.checked[gaugeID]
	if !ok {
		return core.NotFound("active_checkout", fmt.Sprintf("%d", gaugeID))
	}
	ac.UserID = newUserID
	return nil
}

func (r *MemoryBatches) Create(ctx context.Context, tx db.Tx, b *Batch) (*Batch, error) {
	r.s.nextB++
	cp := *b
	cp.ID = r.s.nextB
	if cp.Status == "" {
		cp.Status = BatchPendingSend
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.s.batches[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryBatches) Get(ctx context.Context, tx db.Tx, id int64) (*Batch, error) {
	b, ok := r.s.batches[id]
	if !ok {
		return nil, core.NotFound("batch", fmt.Sprintf("%d", id))
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryBatches) List(ctx context.Context, statuses []BatchStatus) ([]*Batch, error) {
	var out []*Batch
	for _, b := range r.s.batches {
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if b.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *MemoryBatches) UpdateStatus(ctx context.Context, tx db.Tx, id int64, status BatchStatus, sentAt *time.Time) error {
	b, ok := r.s.batches[id]
	if !ok {
		return core.NotFound("batch", fmt.Sprintf("%d", id))
	}
	b.Status = status
	if sentAt != nil {
		b.SentAt = sentAt
	}
	return nil
}

func (r *MemoryBatches) AddMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error {
	for _, mem := range r.s.members[batchID] {
		if mem.GaugeID == gaugeID {
			return core.Conflict(fmt.Sprintf("gauge %d is already in batch %d", gaugeID, batchID))
		}
	}
	r.s.members[batchID] = append(r.s.members[batchID], &BatchMember{BatchID: batchID, GaugeID: gaugeID})
	return nil
}

func (r *MemoryBatches) RemoveMember(ctx context.Context, tx db.Tx, batchID, gaugeID int64) error {
	mems := r.s.members[batchID]
	for i, mem := range mems {
		if mem.GaugeID == gaugeID {
			r.s.members[batchID] = append(mems[:i], mems[i+1:]...)
			return nil
		}
	}
	return core.NotFound("batch_member", fmt.Sprintf("%d/%d", batchID, gaugeID))
}

func (r *MemoryBatches) Members(ctx context.Context, tx db.Tx, batchID int64) ([]*BatchMember, error) {
	var out []*BatchMember
	for _, mem := range r.s.members[batchID] {
		cp := *mem
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GaugeID < out[j].GaugeID })
	return out, nil
}

func (r *MemoryBatches) MarkReceived(ctx context.Context, tx db.Tx, batchID, gaugeID int64, passed bool, at time.Time) error {
	for _, mem := range r.s.members[batchID] {
		if mem.GaugeID == gaugeID {
			mem.ReceivedAt = &at
			mem.Passed = &passed
			return nil
		}
	}
	return core.NotFound("batch_member", fmt.Sprintf("%d/%d", batchID, gaugeID))
}

func (r *MemoryBatches) ActiveBatchFor(ctx context.Context, tx db.Tx, gaugeID int64) (int64, error) {
	for batchID, mems := range r.s.members {
		b := r.s.batches[batchID]
		if b == nil || b.Status.Terminal() {
			continue
		}
		for _, mem := range mems {
			if mem.GaugeID == gaugeID {
				return batchID, nil
			}
		}
	}
	return 0, nil
}

func (r *MemorySetIDs) Exists(ctx context.Context, tx db.Tx, setID string) (bool, error) {
	_, ok := r.s.setIDs[setID]
	return ok, nil
}

func (r *MemorySetIDs) Insert(ctx context.Context, tx db.Tx, setID string, firstUsed time.Time) error {
	if _, ok := r.s.setIDs[setID]; ok {
		return core.SetIDReused(setID)
	}
	r.s.setIDs[setID] = &SetIDRecord{SetID: setID, FirstUsed: firstUsed}
	return nil
}

func (r *MemorySetIDs) Retire(ctx context.Context, tx db.Tx, setID string, at time.Time) error {
	rec, ok := r.s.setIDs[setID]
	if !ok {
		return core.NotFound("set_id", setID)
	}
	rec.RetiredAt = &at
	return nil
}

var numericSuffixRe = regexp.MustCompile(`^([0-9]+)[A-Z]?$`)

func (r *MemorySetIDs) MaxNumericSuffix(ctx context.Context, tx db.Tx, prefix string) (int, error) {
	max := 0
	consider := func(id string) {
		if !strings.HasPrefix(id, prefix) {
			return
		}
		match := numericSuffixRe.FindStringSubmatch(strings.TrimPrefix(id, prefix))
		if match == nil {
			return
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n > max {
			max = n
		}
	}
	for id := range r.s.setIDs {
		consider(id)
	}
	for _, g := range r.s.gauges {
		if g.GaugeID != nil {
			consider(*g.GaugeID)
		}
	}
	return max, nil
}

func (r *MemorySetIDs) History(ctx context.Context) ([]*SetIDRecord, error) {
	var out []*SetIDRecord
	for _, rec := range r.s.setIDs {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstUsed.Equal(out[j].FirstUsed) {
			return out[i].SetID < out[j].SetID
		}
		return out[i].FirstUsed.Before(out[j].FirstUsed)
	})
	return out, nil
}

func (r *MemoryUsers) Create(ctx context.Context, tx db.Tx, u *User) (*User, error) {
	if _, ok := r.s.users[u.ID]; ok {
		return nil, core.Conflict(fmt.Sprintf("user %s already exists", u.ID))
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryUsers) Get(ctx context.Context, id string) (*User, error) {
	u, ok := r.s.users[id]
	if !ok {
		return nil, core.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.NotFound("user", email)
}

func (r *MemoryUsers) UpdateRole(ctx context.Context, tx db.Tx, id, role string) error {
	u, ok := r.s.users[id]
	if !ok {
		return core.NotFound("user", id)
	}
	u.Role = role
	return nil
}

func (r *MemoryUsers) IsSystemAdmin(ctx context.Context, userID string) (bool, error) {
	u, ok := r.s.users[userID]
	return ok && u.Active && u.Role == "system_admin", nil
}

func (r *MemoryUsers) CountSystemAdmins(ctx context.Context) (int, error) {
	n := 0
	for _, u := range r.s.users {
		if u.Active && u.Role == "system_admin" {
			n++
		}
	}
	return n, nil
}
