package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gpurent/internal/marketplace"
	"gpurent/internal/registry"
)

func testOffer(id int) marketplace.Offer {
	return marketplace.Offer{ID: id, GPUName: "RTX 4090", VRAMGb: 24, PricePerHour: 0.30, Reliability: 99.0}
}

func TestReserveRegistersInstance(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{Image: "pytorch/pytorch:latest"})

	require.NoError(t, err)
	require.True(t, manager.Registry().Has(instance.ID))
}

func TestReserveTakenOffer(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	manager := NewManager(fake, registry.New())

	_, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	_, err = manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.True(t, marketplace.IsOfferUnavailable(err))
	require.Equal(t, 1, manager.Registry().Len())
}

func TestAwaitReadyImmediate(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	ready, err := manager.AwaitReady(context.Background(), instance.ID, time.Minute)

	require.NoError(t, err)
	require.Equal(t, marketplace.StatusRunning, ready.Status)
	require.True(t, ready.Endpoint.Populated())
}

func TestAwaitReadyTimeoutLeavesInstanceRunning(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	fake.ReadyAfterPolls = 1000
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	_, err = manager.AwaitReady(context.Background(), instance.ID, time.Millisecond)

	require.True(t, IsReadinessTimeout(err))
	// The timeout must not destroy anything: that decision is the caller's.
	require.Equal(t, 1, fake.ActiveCount())
	require.True(t, manager.Registry().Has(instance.ID))
}

func TestAwaitReadyConnectivityKeepsItsClass(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	fake.Unreachable = true

	_, err = manager.AwaitReady(context.Background(), instance.ID, time.Millisecond)

	require.True(t, marketplace.IsConnectivity(err))
	require.False(t, IsReadinessTimeout(err))
}

func TestAwaitReadyCancelled(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	fake.ReadyAfterPolls = 1000
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = manager.AwaitReady(ctx, instance.ID, time.Minute)

	require.ErrorIs(t, err, context.Canceled)
}

func TestDestroyIsIdempotent(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1))
	manager := NewManager(fake, registry.New())

	instance, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	ok, err := manager.Destroy(context.Background(), instance.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, manager.Registry().Has(instance.ID))

	// Second destroy of the same instance must also succeed.
	ok, err = manager.Destroy(context.Background(), instance.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDestroyAllContinuesPastFailures(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1), testOffer(2), testOffer(3))
	manager := NewManager(fake, registry.New())

	var ids []int

	for offer := 1; offer <= 3; offer++ {
		instance, err := manager.Reserve(context.Background(), offer, marketplace.InstanceSpec{})
		require.NoError(t, err)
		ids = append(ids, instance.ID)
	}

	fake.FailDestroy[ids[1]] = true

	destroyed, attempted, err := manager.DestroyAll(context.Background())

	require.Error(t, err)
	require.Equal(t, 3, attempted)
	require.Equal(t, 2, destroyed)
	require.Equal(t, 1, fake.ActiveCount())
	require.True(t, manager.Registry().Has(ids[1]))
}

func TestSyncReconcilesAgainstProvider(t *testing.T) {
	fake := marketplace.NewFake(testOffer(1), testOffer(2))
	manager := NewManager(fake, registry.New())

	first, err := manager.Reserve(context.Background(), 1, marketplace.InstanceSpec{})
	require.NoError(t, err)

	second, err := manager.Reserve(context.Background(), 2, marketplace.InstanceSpec{})
	require.NoError(t, err)

	// Simulate a crashed prior run: fresh registry with stale belief.
	stale := NewManager(fake, registry.New())
	stale.Registry().Add(999)

	require.NoError(t, stale.Sync(context.Background()))

	require.False(t, stale.Registry().Has(999))
	require.True(t, stale.Registry().Has(first.ID))
	require.True(t, stale.Registry().Has(second.ID))
}
