package marketplace

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Status of a rented instance as reported by the provider.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusDestroyed    Status = "destroyed"
)

// Offer is a marketplace advertisement of a rentable GPU. It is a snapshot:
// the marketplace is mutated by other renters, so an offer may be gone by the
// time it is acted upon.
type Offer struct {
	ID           int
	GPUName      string
	VRAMGb       int
	PricePerHour float64
	Reliability  float64
	Region       string
	Spot         bool
}

// Endpoint is the remote access endpoint of a running instance. Host and Port
// are populated asynchronously by the provider once sshd is up.
type Endpoint struct {
	Host string
	Port int
	User string
}

func (e Endpoint) Populated() bool {
	return e.Host != "" && e.Port > 0
}

// Instance is a reserved, billed compute resource.
type Instance struct {
	ID           int
	OfferID      int
	Label        string
	GPUName      string
	Status       Status
	Endpoint     Endpoint
	PricePerHour float64
	CreatedAt    time.Time
}

// InstanceSpec describes what to boot on a reserved offer.
type InstanceSpec struct {
	Image      string
	DiskSizeGb int
	Label      string
	OnStart    string
	Env        map[string]string
}

// Filter narrows an offer search. Zero values disable the corresponding field.
type Filter struct {
	MinVRAMGb       int
	MaxPricePerHour float64
	GPUName         string
	MinReliability  float64
	AllowSpot       bool
}

func (f Filter) Matches(o Offer) bool {
	if f.MinVRAMGb > 0 && o.VRAMGb < f.MinVRAMGb {
		return false
	}
	if f.MaxPricePerHour > 0 && o.PricePerHour > f.MaxPricePerHour {
		return false
	}
	if f.MinReliability > 0 && o.Reliability < f.MinReliability {
		return false
	}
	if f.GPUName != "" && !strings.Contains(strings.ToLower(o.GPUName), strings.ToLower(f.GPUName)) {
		return false
	}
	if o.Spot && !f.AllowSpot {
		return false
	}
	return true
}

// SortOffers orders offers ascending by price, ties broken by reliability
// descending.
func SortOffers(offers []Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].PricePerHour != offers[j].PricePerHour {
			return offers[i].PricePerHour < offers[j].PricePerHour
		}
		return offers[i].Reliability > offers[j].Reliability
	})
}

// Client is the marketplace API surface the orchestrator depends on.
type Client interface {
	SearchOffers(ctx context.Context, filter Filter) ([]Offer, error)
	CreateInstance(ctx context.Context, offerID int, spec InstanceSpec) (*Instance, error)
	GetInstance(ctx context.Context, instanceID int) (*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)
	DestroyInstance(ctx context.Context, instanceID int) (bool, error)
}
