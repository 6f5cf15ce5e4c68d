package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gpurent/internal/archive"
	"gpurent/internal/lifecycle"
	"gpurent/internal/marketplace"
	"gpurent/internal/metric"
	"gpurent/internal/runlog"
)

// Run drives one complete rental: search, reserve, await readiness, execute,
// retrieve, destroy. It guarantees the rented instance is torn down on every
// exit path unless the caller explicitly asked to keep it, and escalates to a
// destroy-all of the whole account when credit runs out mid-flight.
func (o *Orchestrator) Run(ctx context.Context, filter marketplace.Filter, wl Workload, opts Options) (*RunResult, error) {
	opts.defaults()

	result := &RunResult{ExitCode: -1, Outcome: OutcomeFailed}
	start := time.Now()

	defer func() {
		result.Elapsed = time.Since(start)
		o.record(result)
	}()

	// Safety net for exit paths that did not reach an explicit destroy, run
	// cancellation included. Destroy is idempotent, so overlapping with an
	// explicit teardown is harmless.
	defer func() {
		if result.InstanceID != 0 && !result.Destroyed && !result.Preserved {
			tctx, cancel := teardownCtx()
			defer cancel()

			if ok, err := o.lifecycle.Destroy(tctx, result.InstanceID); err == nil && ok {
				result.Destroyed = true
			} else {
				log.WithError(err).WithField("instance", result.InstanceID).Error("teardown failed, instance may still be billing")
			}
		}
	}()

	o.to(result, StateSearching)

	offers, err := o.client.SearchOffers(ctx, filter)

	if err != nil {
		return result, errors.Wrap(err, "search offers")
	}

	if len(offers) == 0 {
		result.Outcome = OutcomeNoOffer
		return result, errors.WithStack(ErrNoOfferFound)
	}

	o.to(result, StateReserving)

	spec := marketplace.InstanceSpec{
		Image:      opts.Image,
		DiskSizeGb: opts.DiskSizeGb,
		Label:      opts.Label,
	}

	var instance *marketplace.Instance

	for _, offer := range offers {
		candidate, reserveErr := o.lifecycle.Reserve(ctx, offer.ID, spec)

		if reserveErr == nil {
			instance = candidate
			break
		}

		if marketplace.IsOfferUnavailable(reserveErr) {
			// Expected race: another renter got there first.
			log.WithField("offer", offer.ID).Info("offer already taken, trying next candidate")
			o.to(result, StateReserving)
			continue
		}

		if marketplace.IsInsufficientCredit(reserveErr) {
			return o.emergencyStop(result, reserveErr)
		}

		return result, reserveErr
	}

	if instance == nil {
		result.Outcome = OutcomeNoOffer
		return result, errors.Wrap(ErrNoOfferFound, "every candidate offer was taken")
	}

	result.InstanceID = instance.ID
	result.GPUName = instance.GPUName
	result.PricePerHour = instance.PricePerHour

	o.to(result, StateAwaitingReady)

	ready, err := o.lifecycle.AwaitReady(ctx, instance.ID, opts.ReadyTimeout)

	if err != nil {
		if lifecycle.IsReadinessTimeout(err) {
			result.Outcome = OutcomeReadyTimeout

			if opts.PreserveOnFailure {
				result.Preserved = true
				o.to(result, StateDone)
				log.WithField("instance", instance.ID).Warn("instance preserved for inspection and still billing")
				return result, err
			}
		} else if ctx.Err() != nil {
			result.Outcome = OutcomeCancelled
		}

		o.destroy(result)
		o.to(result, StateDone)

		return result, err
	}

	session, err := o.dialer.Dial(ctx, ready.Endpoint)

	if err != nil {
		if ctx.Err() != nil {
			result.Outcome = OutcomeCancelled
		}

		o.destroy(result)
		o.to(result, StateDone)

		return result, errors.Wrap(err, "connect to instance")
	}

	defer session.Close()

	o.to(result, StateExecuting)

	if paths := wl.BundlePaths(); len(paths) > 0 {
		if err := session.UploadBundle(ctx, paths, opts.RemoteDir); err != nil {
			o.destroy(result)
			o.to(result, StateDone)

			return result, errors.Wrap(err, "upload bundle")
		}
	}

	exitCode, execErr := session.Execute(ctx, wl.Command(opts.RemoteDir, opts.RemoteOutputDir), opts.Sink, opts.ExecTimeout)
	result.ExitCode = exitCode

	if execErr != nil {
		if marketplace.IsInsufficientCredit(execErr) {
			return o.emergencyStop(result, execErr)
		}

		if ctx.Err() != nil {
			result.Outcome = OutcomeCancelled
			o.destroy(result)
			o.to(result, StateDone)

			return result, execErr
		}
	}

	// Success and failure alike: whatever the instance produced, logs
	// included, aids debugging and is worth retrieving.
	o.to(result, StateRetrieving)
	o.retrieve(ctx, session, result, opts)

	if opts.KeepInstance {
		result.Preserved = true
	} else {
		o.destroy(result)
	}

	o.to(result, StateDone)

	switch {
	case execErr != nil:
		result.Outcome = OutcomeFailed
		return result, execErr
	case exitCode != 0:
		result.Outcome = OutcomeFailed
		return result, errors.Wrapf(ErrRemoteExecution, "workload exited with code %d", exitCode)
	case result.Artifacts.Partial():
		result.Outcome = OutcomePartial
	default:
		result.Outcome = OutcomeSucceeded
	}

	return result, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, session Session, result *RunResult, opts Options) {
	remotePaths, err := session.ListRemote(ctx, opts.RemoteOutputDir+"/*")

	if err != nil {
		log.WithError(err).Error("listing remote artifacts failed")
		return
	}

	if len(remotePaths) == 0 {
		log.WithField("dir", opts.RemoteOutputDir).Warn("no artifacts produced")
		return
	}

	artifacts, err := session.DownloadArtifacts(ctx, remotePaths, opts.LocalDest)
	result.Artifacts = artifacts

	if err != nil {
		log.WithError(err).Error("artifact retrieval incomplete")
	}

	if artifacts.Partial() {
		log.WithField("missing", artifacts.Missing).Warn("partial result: some expected artifacts were not produced")
	}

	if o.bucket != nil && len(artifacts.Retrieved) > 0 {
		prefix := opts.ArchivePrefix

		if prefix == "" {
			prefix = fmt.Sprintf("runs/%d", result.InstanceID)
		}

		if err := archive.Files(ctx, o.bucket, prefix, artifacts.Retrieved); err != nil {
			log.WithError(err).Error("artifact archiving failed")
		}
	}
}

// destroy tears down the run's instance and records the visible transition.
// Failures are non-fatal to the run but loud: they imply continued billing.
func (o *Orchestrator) destroy(result *RunResult) {
	if result.InstanceID == 0 {
		return
	}

	o.to(result, StateDestroying)

	tctx, cancel := teardownCtx()
	defer cancel()

	ok, err := o.lifecycle.Destroy(tctx, result.InstanceID)

	if err != nil || !ok {
		log.WithError(err).WithField("instance", result.InstanceID).Error("destroy failed, instance may still be billing")
		return
	}

	result.Destroyed = true
}

// emergencyStop destroys every instance the provider lists, bounding cost
// exposure when the account balance runs out mid-operation, then propagates
// the original error.
func (o *Orchestrator) emergencyStop(result *RunResult, cause error) (*RunResult, error) {
	o.to(result, StateEmergencyStopped)
	result.Outcome = OutcomeEmergencyStopped

	log.WithError(cause).Error("account out of credit, destroying every active instance")

	tctx, cancel := teardownCtx()
	defer cancel()

	destroyed, attempted, err := o.lifecycle.DestroyAll(tctx)

	if err != nil {
		log.WithError(err).Error("emergency destroy-all incomplete, instances may still be billing")
	} else {
		log.WithFields(log.Fields{
			"destroyed": destroyed,
			"attempted": attempted,
		}).Warn("emergency stop complete")
	}

	if result.InstanceID != 0 && !o.lifecycle.Registry().Has(result.InstanceID) {
		result.Destroyed = true
	}

	return result, cause
}

func (o *Orchestrator) record(result *RunResult) {
	if result.InstanceID == 0 {
		return
	}

	o.metrics.Send(metric.RunPoint(result.GPUName, result.Outcome, result.PricePerHour, result.Elapsed, result.ExitCode))

	if o.runLog == nil {
		return
	}

	entry := &runlog.Entry{
		InstanceID:   result.InstanceID,
		GPUName:      result.GPUName,
		PricePerHour: result.PricePerHour,
		Duration:     result.Elapsed,
		Outcome:      result.Outcome,
		Destroyed:    result.Destroyed,
	}

	if err := o.runLog.Append(entry); err != nil {
		log.WithError(err).Error("run log append failed")
	}
}
