package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	offer := Offer{ID: 1, GPUName: "RTX 4090", VRAMGb: 24, PricePerHour: 0.40, Reliability: 99.1}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter matches", filter: Filter{}, want: true},
		{name: "vram at threshold", filter: Filter{MinVRAMGb: 24}, want: true},
		{name: "vram below threshold", filter: Filter{MinVRAMGb: 48}, want: false},
		{name: "price over cap", filter: Filter{MaxPricePerHour: 0.30}, want: false},
		{name: "price at cap", filter: Filter{MaxPricePerHour: 0.40}, want: true},
		{name: "reliability below minimum", filter: Filter{MinReliability: 99.5}, want: false},
		{name: "gpu substring case-insensitive", filter: Filter{GPUName: "rtx"}, want: true},
		{name: "gpu substring no match", filter: Filter{GPUName: "A100"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(offer))
		})
	}
}

func TestFilterExcludesSpotByDefault(t *testing.T) {
	spot := Offer{ID: 2, GPUName: "A100", VRAMGb: 80, PricePerHour: 0.90, Spot: true}

	require.False(t, Filter{}.Matches(spot))
	require.True(t, Filter{AllowSpot: true}.Matches(spot))
}

func TestSortOffersCheapestFirst(t *testing.T) {
	offers := []Offer{
		{ID: 1, PricePerHour: 0.50, Reliability: 99.0},
		{ID: 2, PricePerHour: 0.11, Reliability: 95.0},
		{ID: 3, PricePerHour: 0.25, Reliability: 98.0},
		{ID: 4, PricePerHour: 0.25, Reliability: 99.9},
	}

	SortOffers(offers)

	ids := []int{offers[0].ID, offers[1].ID, offers[2].ID, offers[3].ID}
	require.Equal(t, []int{2, 4, 3, 1}, ids)
}

func TestSearchPicksCheapestMatching(t *testing.T) {
	fake := NewFake(
		Offer{ID: 10, GPUName: "RTX 3090", VRAMGb: 24, PricePerHour: 0.11, Reliability: 97.0},
		Offer{ID: 11, GPUName: "RTX 4090", VRAMGb: 24, PricePerHour: 0.25, Reliability: 99.0},
		Offer{ID: 12, GPUName: "A100", VRAMGb: 40, PricePerHour: 0.50, Reliability: 99.5},
	)

	offers, err := fake.SearchOffers(context.Background(), Filter{MinVRAMGb: 24, MaxPricePerHour: 0.15})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, 10, offers[0].ID)
}

func TestFakeCreateMarksOfferTaken(t *testing.T) {
	fake := NewFake(Offer{ID: 5, GPUName: "RTX 4090", VRAMGb: 24, PricePerHour: 0.30})

	instance, err := fake.CreateInstance(context.Background(), 5, InstanceSpec{Image: "pytorch/pytorch:latest"})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, instance.Status)
	require.True(t, instance.Endpoint.Populated())

	_, err = fake.CreateInstance(context.Background(), 5, InstanceSpec{})
	require.True(t, IsOfferUnavailable(err))

	offers, err := fake.SearchOffers(context.Background(), Filter{})
	require.NoError(t, err)
	require.Empty(t, offers)
}

func TestFakeReadyAfterPolls(t *testing.T) {
	fake := NewFake(Offer{ID: 5, GPUName: "RTX 4090", VRAMGb: 24, PricePerHour: 0.30})
	fake.ReadyAfterPolls = 2

	instance, err := fake.CreateInstance(context.Background(), 5, InstanceSpec{})
	require.NoError(t, err)
	require.Equal(t, StatusProvisioning, instance.Status)

	polled, err := fake.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProvisioning, polled.Status)

	polled, err = fake.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, polled.Status)
}

func TestEndpointPopulated(t *testing.T) {
	require.False(t, Endpoint{}.Populated())
	require.False(t, Endpoint{Host: "1.2.3.4"}.Populated())
	require.True(t, Endpoint{Host: "1.2.3.4", Port: 22}.Populated())
}
