package marketplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Fake is an in-memory Client for tests and dry runs. Failure modes are
// scriptable so lifecycle and orchestrator behavior can be exercised without
// touching the real marketplace.
type Fake struct {
	mu      sync.Mutex
	offers  []Offer
	taken   map[int]bool
	records map[int]*Instance
	counter int

	// ReadyAfterPolls delays the provisioning->running transition by that many
	// GetInstance calls per instance.
	ReadyAfterPolls int
	polls           map[int]int

	// NoCredit makes every CreateInstance fail with ErrInsufficientCredit.
	NoCredit bool

	// FailDestroy simulates provider-side destroy failures for specific ids.
	FailDestroy map[int]bool

	// Unreachable simulates a marketplace outage.
	Unreachable bool
}

func NewFake(offers ...Offer) *Fake {
	return &Fake{
		offers:      offers,
		taken:       make(map[int]bool),
		records:     make(map[int]*Instance),
		polls:       make(map[int]int),
		FailDestroy: make(map[int]bool),
	}
}

func (f *Fake) SearchOffers(ctx context.Context, filter Filter) ([]Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unreachable {
		return nil, errors.Wrap(ErrConnectivity, "fake marketplace down")
	}

	var matched []Offer

	for _, o := range f.offers {
		if !f.taken[o.ID] && filter.Matches(o) {
			matched = append(matched, o)
		}
	}

	SortOffers(matched)

	return matched, nil
}

func (f *Fake) CreateInstance(ctx context.Context, offerID int, spec InstanceSpec) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unreachable {
		return nil, errors.Wrap(ErrConnectivity, "fake marketplace down")
	}

	if f.NoCredit {
		return nil, errors.Wrap(ErrInsufficientCredit, "fake account balance exhausted")
	}

	var offer *Offer

	for i := range f.offers {
		if f.offers[i].ID == offerID {
			offer = &f.offers[i]
			break
		}
	}

	if offer == nil || f.taken[offerID] {
		return nil, errors.Wrapf(ErrOfferUnavailable, "offer %d", offerID)
	}

	f.taken[offerID] = true
	f.counter++

	status := StatusProvisioning

	if f.ReadyAfterPolls == 0 {
		status = StatusRunning
	}

	instance := &Instance{
		ID:      f.counter,
		OfferID: offerID,
		Label:   spec.Label,
		GPUName: offer.GPUName,
		Status:  status,
		Endpoint: Endpoint{
			Host: fmt.Sprintf("10.0.0.%d", f.counter),
			Port: 22000 + f.counter,
			User: "root",
		},
		PricePerHour: offer.PricePerHour,
		CreatedAt:    time.Now(),
	}

	f.records[instance.ID] = instance

	return copyInstance(instance), nil
}

func (f *Fake) GetInstance(ctx context.Context, instanceID int) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unreachable {
		return nil, errors.Wrap(ErrConnectivity, "fake marketplace down")
	}

	instance, ok := f.records[instanceID]

	if !ok {
		return nil, errors.Wrapf(ErrInstanceNotFound, "instance %d", instanceID)
	}

	if instance.Status == StatusProvisioning {
		f.polls[instanceID]++
		if f.polls[instanceID] >= f.ReadyAfterPolls {
			instance.Status = StatusRunning
		}
	}

	return copyInstance(instance), nil
}

func (f *Fake) ListInstances(ctx context.Context) ([]*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unreachable {
		return nil, errors.Wrap(ErrConnectivity, "fake marketplace down")
	}

	var instances []*Instance

	for _, instance := range f.records {
		instances = append(instances, copyInstance(instance))
	}

	return instances, nil
}

func (f *Fake) DestroyInstance(ctx context.Context, instanceID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unreachable {
		return false, errors.Wrap(ErrConnectivity, "fake marketplace down")
	}

	if f.FailDestroy[instanceID] {
		return false, errors.Errorf("fake provider refused to destroy instance %d", instanceID)
	}

	delete(f.records, instanceID)

	return true, nil
}

// ActiveCount reports how many instances the fake provider still bills for.
func (f *Fake) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.records)
}

func copyInstance(instance *Instance) *Instance {
	c := *instance
	return &c
}
