package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/events"
	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
)

// runner carries the state of one CreateInstance call.
type runner struct {
	svc     *Service
	in      CreateInstanceInput
	project *domain.Project
	run     *domain.ProvisioningRun
	log     *slog.Logger
	saga    saga
	orphans []domain.OrphanedResource
}

func (r *runner) execute(ctx context.Context) (summary *InstanceSummary, err error) {
	defer func() {
		if err != nil && r.saga.pending() {
			orphans := r.saga.compensate(ctx, r.svc.cfg.CompensationTimeout, r.log, func(u *undo) {
				r.emit(ctx, u.step, events.StatusReverted, u.resourceID, nil)
			})
			r.orphans = append(r.orphans, orphans...)
		}
	}()

	space, subnet, keyPair, err := r.prerequisites(ctx)
	if err != nil {
		return nil, err
	}
	group, err := r.securityGroup(ctx, space)
	if err != nil {
		return nil, err
	}
	if err := r.defaultRule(ctx, group); err != nil {
		return nil, err
	}
	instance, err := r.instance(ctx, subnet, keyPair, group)
	if err != nil {
		return nil, err
	}
	r.saga.keepAll()

	return &InstanceSummary{
		Name:            instance.Name,
		PublicIP:        instance.PublicIP,
		PrivateIP:       instance.PrivateIP,
		SecurityGroupID: group.ProviderResourceID,
		InstanceID:      instance.ProviderResourceID,
	}, nil
}

// prerequisites resolves the shared network space, subnet and key pair under the project lock.
func (r *runner) prerequisites(ctx context.Context) (*domain.NetworkSpace, *domain.Subnet, *domain.KeyPair, error) {
	started := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, r.svc.cfg.LockWait)
	defer cancel()
	release, err := r.svc.deps.Locker.Acquire(lockCtx, lock.ProvisionKey(r.project.ID, r.in.Region))
	if err != nil {
		return nil, nil, nil, r.fail(ctx, StepLock, started, stepError(StepLock, err, ""))
	}
	defer release()

	space, err := r.networkSpace(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	subnet, err := r.subnet(ctx, space)
	if err != nil {
		return nil, nil, nil, err
	}
	keyPair, err := r.keyPair(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return space, subnet, keyPair, nil
}

func (r *runner) networkSpace(ctx context.Context) (*domain.NetworkSpace, error) {
	const step = StepNetworkSpace
	started := time.Now()
	repo := r.svc.deps.Network

	existing, err := repo.GetNetworkSpace(ctx, r.project.ID, r.in.Region)
	switch {
	case err == nil:
		r.reused(ctx, step, started, existing.ProviderResourceID, domain.StateNetworkReady)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, r.fail(ctx, step, started, persistenceError(step, err, ""))
	}
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	res, err := r.svc.deps.Networks.CreateNetworkSpace(detached(ctx), awsprovider.NetworkSpaceInput{
		Name:      r.project.Name,
		CIDRBlock: r.svc.cfg.NetworkCIDR,
		Region:    r.in.Region,
	})
	if err != nil {
		r.orphanFrom("vpc", err)
		return nil, r.fail(ctx, step, started, stepError(step, err, ""))
	}
	region := r.in.Region
	u := r.saga.push(&undo{
		step:       step,
		kind:       "vpc",
		resourceID: res.ProviderResourceID,
		region:     region,
		run: func(ctx context.Context) error {
			return r.svc.deps.Networks.DeleteNetworkSpace(ctx, region, res.ProviderResourceID, res.InternetGatewayID)
		},
	})
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	space := &domain.NetworkSpace{
		Name:               r.project.Name,
		ProviderResourceID: res.ProviderResourceID,
		InternetGatewayID:  res.InternetGatewayID,
		CIDRBlock:          res.CIDRBlock,
		Region:             region,
		ProjectID:          r.project.ID,
	}
	if err := repo.CreateNetworkSpace(ctx, space); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if winner, gerr := repo.GetNetworkSpace(ctx, r.project.ID, region); gerr == nil {
				r.log.Warn("network space created concurrently, discarding duplicate", "vpc_id", res.ProviderResourceID, "kept_vpc_id", winner.ProviderResourceID)
				r.revertNow(ctx, u)
				r.reused(ctx, step, started, winner.ProviderResourceID, domain.StateNetworkReady)
				return winner, nil
			}
		}
		return nil, r.fail(ctx, step, started, persistenceError(step, err, res.ProviderResourceID))
	}
	r.saga.keep(u)
	r.succeeded(ctx, step, started, space.ProviderResourceID, domain.StateNetworkReady)
	return space, nil
}

func (r *runner) subnet(ctx context.Context, space *domain.NetworkSpace) (*domain.Subnet, error) {
	const step = StepSubnet
	started := time.Now()
	repo := r.svc.deps.Network

	existing, err := repo.GetSubnetByNetworkSpace(ctx, space.ID)
	switch {
	case err == nil:
		r.reused(ctx, step, started, existing.ProviderResourceID, domain.StateSubnetReady)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, r.fail(ctx, step, started, persistenceError(step, err, ""))
	}
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	region := r.in.Region
	res, err := r.svc.deps.Networks.CreateSubnet(detached(ctx), awsprovider.SubnetInput{
		Name:             space.Name + "-00",
		CIDRBlock:        r.svc.cfg.SubnetCIDR,
		AvailabilityZone: region + "a",
		NetworkSpaceID:   space.ProviderResourceID,
		Region:           region,
	})
	if err != nil {
		r.orphanFrom("subnet", err)
		return nil, r.fail(ctx, step, started, stepError(step, err, ""))
	}
	u := r.saga.push(&undo{
		step:       step,
		kind:       "subnet",
		resourceID: res.ProviderResourceID,
		region:     region,
		run: func(ctx context.Context) error {
			return r.svc.deps.Networks.DeleteSubnet(ctx, region, res.ProviderResourceID)
		},
	})
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	subnet := &domain.Subnet{
		Name:                   space.Name + "-00",
		ProviderResourceID:     res.ProviderResourceID,
		CIDRBlock:              res.CIDRBlock,
		NetworkSpaceID:         space.ID,
		AvailabilityZone:       res.AvailabilityZone,
		Region:                 region,
		ProjectID:              r.project.ID,
		NetworkSpaceProviderID: space.ProviderResourceID,
	}
	if err := repo.CreateSubnet(ctx, subnet); err != nil {
		return nil, r.fail(ctx, step, started, persistenceError(step, err, res.ProviderResourceID))
	}
	r.saga.keep(u)
	r.succeeded(ctx, step, started, subnet.ProviderResourceID, domain.StateSubnetReady)
	return subnet, nil
}

func (r *runner) keyPair(ctx context.Context) (*domain.KeyPair, error) {
	const step = StepKeyPair
	started := time.Now()
	repo := r.svc.deps.Compute

	existing, err := repo.GetKeyPair(ctx, r.project.ID, r.in.Region)
	switch {
	case err == nil:
		r.reused(ctx, step, started, existing.Name, domain.StateKeyPairReady)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, r.fail(ctx, step, started, persistenceError(step, err, ""))
	}
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	region := r.in.Region
	name := keyPairName(r.project, region)
	res, err := r.svc.deps.KeyPairs.CreateKeyPair(detached(ctx), name, region)
	if err != nil {
		r.orphanFrom("key_pair", err)
		return nil, r.fail(ctx, step, started, stepError(step, err, ""))
	}
	u := r.saga.push(&undo{
		step:       step,
		kind:       "key_pair",
		resourceID: res.Name,
		region:     region,
		run: func(ctx context.Context) error {
			return r.svc.deps.KeyPairs.DeleteKeyPair(ctx, res.Name, region)
		},
	})
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	keyPair := &domain.KeyPair{
		Name:            res.Name,
		Fingerprint:     res.Fingerprint,
		SecretObjectKey: res.ObjectKey,
		Region:          region,
		ProjectID:       r.project.ID,
	}
	if err := repo.CreateKeyPair(ctx, keyPair); err != nil {
		return nil, r.fail(ctx, step, started, persistenceError(step, err, res.Name))
	}
	r.saga.keep(u)
	r.succeeded(ctx, step, started, keyPair.Name, domain.StateKeyPairReady)
	return keyPair, nil
}

func (r *runner) securityGroup(ctx context.Context, space *domain.NetworkSpace) (*domain.SecurityGroup, error) {
	const step = StepSecurityGroup
	started := time.Now()
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	region := r.in.Region
	name := r.in.Name + "-sg"
	groupID, err := r.svc.deps.SecurityGroups.CreateSecurityGroup(detached(ctx), awsprovider.SecurityGroupInput{
		Name:           name,
		Description:    "Security Group for " + r.in.Name,
		NetworkSpaceID: space.ProviderResourceID,
		Region:         region,
	})
	if err != nil {
		return nil, r.fail(ctx, step, started, stepError(step, err, ""))
	}
	providerUndo := r.saga.push(&undo{
		step:       step,
		kind:       "security_group",
		resourceID: groupID,
		region:     region,
		run: func(ctx context.Context) error {
			return r.svc.deps.SecurityGroups.DeleteSecurityGroup(ctx, region, groupID)
		},
	})
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	group := &domain.SecurityGroup{
		Name:                   name,
		ProviderResourceID:     groupID,
		NetworkSpaceID:         space.ID,
		Region:                 region,
		ProjectID:              r.project.ID,
		NetworkSpaceProviderID: space.ProviderResourceID,
	}
	if err := r.svc.deps.Compute.CreateSecurityGroup(ctx, group); err != nil {
		return nil, r.fail(ctx, step, started, persistenceError(step, err, groupID))
	}

	// Per-instance groups are removed together with their local row if the instance never lands.
	r.saga.keep(providerUndo)
	r.saga.push(&undo{
		step:       step,
		kind:       "security_group",
		resourceID: groupID,
		region:     region,
		run: func(ctx context.Context) error {
			if err := r.svc.deps.SecurityGroups.DeleteSecurityGroup(ctx, region, groupID); err != nil {
				return err
			}
			if err := r.svc.deps.Compute.DeleteSecurityGroup(ctx, group.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				r.log.Error("delete security group row", "security_group_id", group.ID, "error", err)
			}
			return nil
		},
	})
	r.succeeded(ctx, step, started, groupID, domain.StateSecurityGroupReady)
	return group, nil
}

func (r *runner) defaultRule(ctx context.Context, group *domain.SecurityGroup) error {
	const step = StepRule
	started := time.Now()
	if err := r.checkContext(ctx, step); err != nil {
		return r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	region := r.in.Region
	ruleID, err := r.svc.deps.SecurityGroups.CreateSecurityGroupRule(detached(ctx), awsprovider.RuleInput{
		Direction:       DefaultRuleDirection,
		SecurityGroupID: group.ProviderResourceID,
		Port:            DefaultRulePort,
		Protocol:        DefaultRuleProtocol,
		CIDRIP:          DefaultRuleCIDR,
		Region:          region,
	})
	if err != nil {
		return r.fail(ctx, step, started, stepError(step, err, ""))
	}
	if err := r.checkContext(ctx, step); err != nil {
		return r.fail(ctx, step, started, err)
	}

	rule := &domain.SecurityGroupRule{
		Direction:               DefaultRuleDirection,
		ProviderResourceID:      ruleID,
		SecurityGroupID:         group.ID,
		Port:                    DefaultRulePort,
		Protocol:                DefaultRuleProtocol,
		CIDRIP:                  DefaultRuleCIDR,
		Region:                  region,
		ProjectID:               r.project.ID,
		SecurityGroupProviderID: group.ProviderResourceID,
	}
	if err := r.svc.deps.Compute.CreateSecurityGroupRule(ctx, rule); err != nil {
		return r.fail(ctx, step, started, persistenceError(step, err, ruleID))
	}
	r.succeeded(ctx, step, started, ruleID, domain.StateRuleReady)
	return nil
}

func (r *runner) instance(ctx context.Context, subnet *domain.Subnet, keyPair *domain.KeyPair, group *domain.SecurityGroup) (*domain.Instance, error) {
	const step = StepInstance
	started := time.Now()
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	r.emit(ctx, step, events.StatusStarted, "", nil)
	region := r.in.Region
	res, err := r.svc.deps.Instances.CreateInstance(detached(ctx), awsprovider.InstanceInput{
		Name:            r.in.Name,
		ImageID:         r.in.ImageID,
		InstanceType:    r.in.InstanceType,
		KeyPairName:     keyPair.Name,
		SubnetID:        subnet.ProviderResourceID,
		SecurityGroupID: group.ProviderResourceID,
		DiskSizeGB:      r.in.DiskSizeGB,
		Region:          region,
	})
	if err != nil {
		if r.orphanFrom("instance", err) {
			// The instance still references the group, so the group stays as well.
			r.saga.keepAll()
		}
		return nil, r.fail(ctx, step, started, stepError(step, err, ""))
	}
	r.saga.push(&undo{
		step:       step,
		kind:       "instance",
		resourceID: res.ProviderResourceID,
		region:     region,
		run: func(ctx context.Context) error {
			return r.svc.deps.Instances.TerminateInstance(ctx, region, res.ProviderResourceID)
		},
	})
	if err := r.checkContext(ctx, step); err != nil {
		return nil, r.fail(ctx, step, started, err)
	}

	instance := &domain.Instance{
		Name:               r.in.Name,
		ProviderResourceID: res.ProviderResourceID,
		DiskSizeGB:         r.in.DiskSizeGB,
		PublicIP:           res.PublicIP,
		PrivateIP:          res.PrivateIP,
		KeyPairID:          keyPair.ID,
		InstanceType:       r.in.InstanceType,
		ImageID:            r.in.ImageID,
		SubnetID:           subnet.ID,
		SecurityGroupID:    group.ID,
		Region:             region,
		ProjectID:          r.project.ID,
	}
	if err := r.svc.deps.Compute.CreateInstance(ctx, instance); err != nil {
		return nil, r.fail(ctx, step, started, persistenceError(step, err, res.ProviderResourceID))
	}
	r.succeeded(ctx, step, started, instance.ProviderResourceID, domain.StateInstanceReady)
	return instance, nil
}

// checkContext stops the chain once the caller is gone.
func (r *runner) checkContext(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return &StepError{Step: step, Kind: context.Canceled, Err: fmt.Errorf("%w: %w", context.Canceled, err)}
	}
	return nil
}

// orphanFrom records a resource a driver left behind. It reports whether one was found.
func (r *runner) orphanFrom(kind string, err error) bool {
	id := awsprovider.LeftoverResourceID(err)
	if id == "" {
		return false
	}
	r.orphans = append(r.orphans, domain.OrphanedResource{
		Kind:       kind,
		ResourceID: id,
		Region:     r.in.Region,
		Reason:     err.Error(),
	})
	return true
}

func (r *runner) revertNow(ctx context.Context, u *undo) {
	u.done = true
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.svc.cfg.CompensationTimeout)
	defer cancel()
	if err := u.run(cctx); err != nil {
		r.log.Error("discard duplicate resource", "resource_id", u.resourceID, "error", err)
		r.orphans = append(r.orphans, domain.OrphanedResource{Kind: u.kind, ResourceID: u.resourceID, Region: u.region, Reason: err.Error()})
	}
}

func (r *runner) advance(ctx context.Context, state domain.ProvisioningState) {
	r.run.State = state
	if err := r.svc.deps.Runs.UpdateRun(ctx, domain.ProvisioningRunUpdate{ID: r.run.ID, State: state}); err != nil {
		r.log.Warn("record run state", "state", state, "error", err)
	}
}

func (r *runner) succeeded(ctx context.Context, step string, started time.Time, resourceID string, state domain.ProvisioningState) {
	r.advance(ctx, state)
	r.svc.deps.Metrics.observeStep(step, events.StatusSucceeded, time.Since(started))
	r.log.Info("step succeeded", "step", step, "resource_id", resourceID, "state", state)
	r.emit(ctx, step, events.StatusSucceeded, resourceID, nil)
}

func (r *runner) reused(ctx context.Context, step string, started time.Time, resourceID string, state domain.ProvisioningState) {
	r.advance(ctx, state)
	r.svc.deps.Metrics.observeStep(step, events.StatusReused, time.Since(started))
	r.log.Info("step reused existing resource", "step", step, "resource_id", resourceID, "state", state)
	r.emit(ctx, step, events.StatusReused, resourceID, nil)
}

func (r *runner) fail(ctx context.Context, step string, started time.Time, err error) error {
	r.svc.deps.Metrics.observeStep(step, events.StatusFailed, time.Since(started))
	var resourceID string
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		resourceID = stepErr.ResourceID
	}
	r.log.Error("step failed", "step", step, "resource_id", resourceID, "error_kind", KindName(err), "error", err)
	r.emit(ctx, step, events.StatusFailed, resourceID, err)
	return err
}

func (r *runner) emit(ctx context.Context, step, status, resourceID string, err error) {
	event := events.Event{
		RunID:      r.run.ID,
		ProjectID:  r.project.ID,
		Region:     r.in.Region,
		Step:       step,
		State:      string(r.run.State),
		Status:     status,
		ResourceID: resourceID,
		Timestamp:  r.svc.now(),
	}
	if err != nil {
		event.Error = err.Error()
		event.ErrorKind = KindName(err)
	}
	r.svc.deps.Events.Publish(context.WithoutCancel(ctx), event)
}

// detached keeps provider calls alive after the caller goes away; drivers bound their own waits.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
