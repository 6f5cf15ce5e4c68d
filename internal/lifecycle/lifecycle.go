package lifecycle

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gpurent/internal/marketplace"
	"gpurent/internal/registry"
)

// ErrReadinessTimeout is returned by AwaitReady when the instance did not
// become reachable in time. The instance is left running: destroying or
// preserving it is the caller's decision.
var ErrReadinessTimeout = stderrors.New("instance readiness timeout")

func IsReadinessTimeout(err error) bool {
	return stderrors.Is(err, ErrReadinessTimeout)
}

const (
	pollDelay    = 5 * time.Second
	pollDelayCap = 30 * time.Second
)

// Manager owns instances for their full life: it is the only writer of the
// active-instance registry, and every reserve/destroy updates the registry
// before returning control to the caller.
type Manager struct {
	client   marketplace.Client
	registry *registry.Registry
}

func NewManager(client marketplace.Client, reg *registry.Registry) *Manager {
	return &Manager{client: client, registry: reg}
}

func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Sync reconciles the registry against the provider's own listing. The
// provider is ground truth; local belief from a crashed prior run is
// discarded.
func (m *Manager) Sync(ctx context.Context) error {
	instances, err := m.client.ListInstances(ctx)

	if err != nil {
		return errors.Wrap(err, "list instances for registry sync")
	}

	ids := make([]int, 0, len(instances))

	for _, instance := range instances {
		ids = append(ids, instance.ID)
	}

	m.registry.Replace(ids)

	log.WithField("active", len(ids)).Debug("registry synced against provider listing")

	return nil
}

// Reserve rents the given offer. Losing the offer to another renter surfaces
// as marketplace.ErrOfferUnavailable, an expected race the caller retries
// with the next candidate.
func (m *Manager) Reserve(ctx context.Context, offerID int, spec marketplace.InstanceSpec) (*marketplace.Instance, error) {
	instance, err := m.client.CreateInstance(ctx, offerID, spec)

	if err != nil {
		return nil, errors.Wrapf(err, "reserve offer %d", offerID)
	}

	m.registry.Add(instance.ID)

	log.WithFields(log.Fields{
		"instance": instance.ID,
		"offer":    offerID,
		"gpu":      instance.GPUName,
		"price":    instance.PricePerHour,
	}).Info("instance reserved")

	return instance, nil
}

// AwaitReady polls the provider until the instance reports running with a
// populated endpoint, backing off between polls. On expiry it returns
// ErrReadinessTimeout without destroying anything.
func (m *Manager) AwaitReady(ctx context.Context, instanceID int, timeout time.Duration) (*marketplace.Instance, error) {
	deadline := time.Now().Add(timeout)
	attempts := uint(timeout/pollDelay) + 1

	var ready *marketplace.Instance

	err := retry.Do(
		func() error {
			if time.Now().After(deadline) {
				return retry.Unrecoverable(errors.Wrapf(ErrReadinessTimeout, "instance %d after %s", instanceID, timeout))
			}

			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			instance, err := m.client.GetInstance(ctx, instanceID)

			if err != nil {
				return err
			}

			if instance.Status != marketplace.StatusRunning || !instance.Endpoint.Populated() {
				return errors.Errorf("instance %d not ready: status %s", instanceID, instance.Status)
			}

			ready = instance

			return nil
		},
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ *retry.Config) time.Duration {
			if n >= 3 {
				return pollDelayCap
			}
			return pollDelay << n
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Debug("instance not ready yet")
		}),
	)

	if err != nil {
		if IsReadinessTimeout(err) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if marketplace.IsConnectivity(err) {
			return nil, errors.Wrapf(err, "instance %d readiness poll", instanceID)
		}
		return nil, errors.Wrapf(ErrReadinessTimeout, "instance %d: %v", instanceID, err)
	}

	log.WithFields(log.Fields{
		"instance": instanceID,
		"host":     ready.Endpoint.Host,
		"port":     ready.Endpoint.Port,
	}).Info("instance ready")

	return ready, nil
}

// Destroy tears an instance down. It is idempotent: destroying an instance
// the provider no longer lists is reported as success so registry drift can
// only cause a redundant no-op call, never a crash.
func (m *Manager) Destroy(ctx context.Context, instanceID int) (bool, error) {
	ok, err := m.client.DestroyInstance(ctx, instanceID)

	if err != nil {
		if marketplace.IsNotFound(err) {
			m.registry.Remove(instanceID)
			return true, nil
		}
		return false, errors.Wrapf(err, "destroy instance %d", instanceID)
	}

	if ok {
		m.registry.Remove(instanceID)
		log.WithField("instance", instanceID).Info("instance destroyed")
	}

	return ok, nil
}

// DestroyAll lists instances from the provider, not the local registry, to
// catch orphans from a prior crashed run, and attempts to destroy every one
// independently. A failure never prevents attempting the rest.
func (m *Manager) DestroyAll(ctx context.Context) (destroyed, attempted int, err error) {
	instances, listErr := m.client.ListInstances(ctx)

	if listErr != nil {
		return 0, 0, errors.Wrap(listErr, "list instances for destroy-all")
	}

	var failed []int

	for _, instance := range instances {
		attempted++

		ok, destroyErr := m.Destroy(ctx, instance.ID)

		if destroyErr != nil || !ok {
			log.WithError(destroyErr).WithField("instance", instance.ID).Error("destroy failed, instance may still be billing")
			failed = append(failed, instance.ID)
			continue
		}

		destroyed++
	}

	if len(failed) > 0 {
		return destroyed, attempted, errors.Errorf("destroyed %d of %d instances, still billing: %v", destroyed, attempted, failed)
	}

	return destroyed, attempted, nil
}
