package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/events"
	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
	"github.com/barckcode/puyu-api/internal/service/provision/provisiontest"
)

type harness struct {
	store *provisiontest.Store
	cloud *provisiontest.Cloud
	sink  *provisiontest.Sink
	svc   *Service
}

func newHarness(t *testing.T, mutate ...func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		store: provisiontest.NewStore(domain.Project{ID: 7, Name: "acme"}),
		cloud: provisiontest.NewCloud(),
		sink:  &provisiontest.Sink{},
	}
	deps := Dependencies{
		Projects:       h.store,
		Network:        h.store,
		Compute:        h.store,
		Runs:           h.store,
		Networks:       h.cloud,
		KeyPairs:       h.cloud,
		SecurityGroups: h.cloud,
		Instances:      h.cloud,
		Events:         h.sink,
		Metrics:        NewMetrics(prometheus.NewRegistry()),
	}
	for _, m := range mutate {
		m(&deps)
	}
	svc, err := New(deps, Config{LockWait: time.Second, CompensationTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) onlyRun(t *testing.T) domain.ProvisioningRun {
	t.Helper()
	runs := h.store.RunList()
	require.Len(t, runs, 1)
	return runs[0]
}

func webRequest() CreateInstanceInput {
	return CreateInstanceInput{
		Name:         "web1",
		Region:       "eu-west-1",
		ImageID:      "ami-x",
		InstanceType: "t4g.small",
		DiskSizeGB:   20,
		ProjectID:    7,
	}
}

func TestCreateInstanceProvisionsChain(t *testing.T) {
	h := newHarness(t)

	summary, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateNetworkSpace",
		"CreateSubnet",
		"CreateKeyPair",
		"CreateSecurityGroup",
		"CreateSecurityGroupRule",
		"CreateInstance",
	}, h.cloud.Calls())

	assert.Equal(t, "web1", summary.Name)
	assert.Equal(t, "i-0006", summary.InstanceID)
	assert.Equal(t, "sg-0004", summary.SecurityGroupID)
	assert.Equal(t, "203.0.113.10", summary.PublicIP)
	assert.Equal(t, "10.255.0.10", summary.PrivateIP)
	assert.NotEmpty(t, summary.RunID)

	s := h.store
	require.Len(t, s.Spaces, 1)
	require.Len(t, s.Subnets, 1)
	require.Len(t, s.KeyPairs, 1)
	require.Len(t, s.Groups, 1)
	require.Len(t, s.Rules, 1)
	require.Len(t, s.Instances, 1)
	for _, region := range []string{s.Spaces[0].Region, s.Subnets[0].Region, s.KeyPairs[0].Region, s.Groups[0].Region, s.Instances[0].Region} {
		assert.Equal(t, "eu-west-1", region)
	}
	for _, pid := range []int64{s.Spaces[0].ProjectID, s.Subnets[0].ProjectID, s.KeyPairs[0].ProjectID, s.Groups[0].ProjectID, s.Instances[0].ProjectID} {
		assert.Equal(t, int64(7), pid)
	}

	assert.Equal(t, "acme", s.Spaces[0].Name)
	assert.Equal(t, "vpc-0001", s.Spaces[0].ProviderResourceID)
	assert.Equal(t, "10.255.0.0/16", s.Spaces[0].CIDRBlock)
	assert.Equal(t, "acme-00", s.Subnets[0].Name)
	assert.Equal(t, "eu-west-1a", s.Subnets[0].AvailabilityZone)
	assert.Equal(t, s.Spaces[0].ID, s.Subnets[0].NetworkSpaceID)
	assert.Equal(t, "acme-eu-west-1", s.KeyPairs[0].Name)
	assert.Equal(t, "acme-eu-west-1.pem", s.KeyPairs[0].SecretObjectKey)
	assert.Equal(t, "web1-sg", s.Groups[0].Name)

	rule := s.Rules[0]
	assert.Equal(t, domain.DirectionIngress, rule.Direction)
	assert.Equal(t, 22, rule.Port)
	assert.Equal(t, "tcp", rule.Protocol)
	assert.Equal(t, "0.0.0.0/0", rule.CIDRIP)
	assert.Equal(t, s.Groups[0].ID, rule.SecurityGroupID)

	inst := s.Instances[0]
	assert.Equal(t, s.KeyPairs[0].ID, inst.KeyPairID)
	assert.Equal(t, s.Subnets[0].ID, inst.SubnetID)
	assert.Equal(t, s.Groups[0].ID, inst.SecurityGroupID)
	assert.Equal(t, 20, inst.DiskSizeGB)

	require.Len(t, h.cloud.InstanceInputs, 1)
	in := h.cloud.InstanceInputs[0]
	assert.Equal(t, "acme-eu-west-1", in.KeyPairName)
	assert.Equal(t, "subnet-0002", in.SubnetID)
	assert.Equal(t, "sg-0004", in.SecurityGroupID)
	assert.Equal(t, "ami-x", in.ImageID)
	assert.Equal(t, "t4g.small", in.InstanceType)

	run := h.onlyRun(t)
	assert.Equal(t, summary.RunID, run.ID)
	assert.Equal(t, domain.StateInstanceReady, run.State)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Empty(t, run.Orphans)
	assert.NotNil(t, run.CompletedAt)

	assert.Equal(t, []string{events.StatusStarted, events.StatusSucceeded}, h.sink.Statuses(StepNetworkSpace))
	assert.Equal(t, []string{events.StatusStarted, events.StatusSucceeded}, h.sink.Statuses(StepInstance))
}

func TestCreateInstanceReusesPrerequisites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	space := &domain.NetworkSpace{Name: "acme", ProviderResourceID: "vpc-seed", CIDRBlock: "10.255.0.0/16", Region: "eu-west-1", ProjectID: 7}
	require.NoError(t, h.store.CreateNetworkSpace(ctx, space))
	require.NoError(t, h.store.CreateSubnet(ctx, &domain.Subnet{Name: "acme-00", ProviderResourceID: "subnet-seed", NetworkSpaceID: space.ID, Region: "eu-west-1", ProjectID: 7}))
	require.NoError(t, h.store.CreateKeyPair(ctx, &domain.KeyPair{Name: "acme-eu-west-1", Region: "eu-west-1", ProjectID: 7}))

	_, err := h.svc.CreateInstance(ctx, webRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"CreateSecurityGroup", "CreateSecurityGroupRule", "CreateInstance"}, h.cloud.Calls())
	assert.Len(t, h.store.Spaces, 1)
	assert.Len(t, h.store.Subnets, 1)
	assert.Len(t, h.store.KeyPairs, 1)
	require.Len(t, h.cloud.InstanceInputs, 1)
	assert.Equal(t, "subnet-seed", h.cloud.InstanceInputs[0].SubnetID)
	assert.Equal(t, []string{events.StatusReused}, h.sink.Statuses(StepNetworkSpace))
	assert.Equal(t, []string{events.StatusReused}, h.sink.Statuses(StepKeyPair))
}

func TestCreateInstanceSecondRegionGetsOwnNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateInstance(ctx, webRequest())
	require.NoError(t, err)
	other := webRequest()
	other.Name = "web2"
	other.Region = "us-east-1"
	_, err = h.svc.CreateInstance(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, 2, h.cloud.Count("CreateNetworkSpace"))
	assert.Len(t, h.store.Spaces, 2)
	assert.Len(t, h.store.KeyPairs, 2)
}

func TestConcurrentRequestsShareNetworkSpace(t *testing.T) {
	h := newHarness(t)
	h.cloud.NetworkDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := webRequest()
			in.Name = fmt.Sprintf("web%d", i+1)
			_, errs[i] = h.svc.CreateInstance(context.Background(), in)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.cloud.Count("CreateNetworkSpace"))
	assert.Equal(t, 1, h.cloud.Count("CreateSubnet"))
	assert.Equal(t, 1, h.cloud.Count("CreateKeyPair"))
	assert.Equal(t, 2, h.cloud.Count("CreateInstance"))
	assert.Len(t, h.store.Spaces, 1)
	assert.Len(t, h.store.Groups, 2)
	assert.Len(t, h.store.Instances, 2)
}

func TestNetworkSpaceConflictReusesWinner(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.Locker = provisiontest.OpenLocker{} })
	h.store.BeforeCreateSpace = func() {
		h.store.BeforeCreateSpace = nil
		require.NoError(t, h.store.CreateNetworkSpace(context.Background(), &domain.NetworkSpace{
			Name: "acme", ProviderResourceID: "vpc-winner", Region: "eu-west-1", ProjectID: 7,
		}))
	}

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.NoError(t, err)

	assert.Contains(t, h.cloud.Calls(), "DeleteNetworkSpace:vpc-0001")
	require.Len(t, h.store.Spaces, 1)
	assert.Equal(t, "vpc-winner", h.store.Spaces[0].ProviderResourceID)
	require.Len(t, h.store.Subnets, 1)
	assert.Equal(t, "vpc-winner", h.store.Subnets[0].NetworkSpaceProviderID)
	assert.Empty(t, h.onlyRun(t).Orphans)
}

func TestInstanceTimeoutKeepsSecurityGroupAndRecordsOrphan(t *testing.T) {
	h := newHarness(t)
	h.cloud.InstanceErr = &awsprovider.ResourceError{
		ResourceID: "i-0006",
		Err:        fmt.Errorf("%w: instance i-0006 not running", awsprovider.ErrProviderTimeout),
	}

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, awsprovider.ErrProviderTimeout)
	assert.Equal(t, "provider_timeout", KindName(err))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepInstance, stepErr.Step)
	assert.Equal(t, "i-0006", stepErr.ResourceID)

	assert.Zero(t, h.cloud.Count("DeleteSecurityGroup:sg-0004"))
	assert.Len(t, h.store.Groups, 1)
	assert.Empty(t, h.store.Instances)

	run := h.onlyRun(t)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, domain.StateRuleReady, run.State)
	assert.Equal(t, "provider_timeout", run.ErrorKind)
	require.Len(t, run.Orphans, 1)
	assert.Equal(t, domain.OrphanedResource{Kind: "instance", ResourceID: "i-0006", Region: "eu-west-1", Reason: h.cloud.InstanceErr.Error()}, run.Orphans[0])
}

func TestInstanceFailureRevertsSecurityGroup(t *testing.T) {
	h := newHarness(t)
	h.cloud.InstanceErr = fmt.Errorf("%w: InsufficientInstanceCapacity", awsprovider.ErrProviderResource)

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, awsprovider.ErrProviderResource)

	assert.Equal(t, 1, h.cloud.Count("DeleteSecurityGroup:sg-0004"))
	assert.Empty(t, h.store.Groups)
	assert.Empty(t, h.store.Rules)
	assert.Len(t, h.store.Spaces, 1)
	assert.Len(t, h.store.Subnets, 1)
	assert.Len(t, h.store.KeyPairs, 1)
	assert.Zero(t, h.cloud.Count("DeleteNetworkSpace:vpc-0001"))
	assert.Contains(t, h.sink.Statuses(StepSecurityGroup), events.StatusReverted)
	assert.Empty(t, h.onlyRun(t).Orphans)
}

func TestInstancePersistenceFailureTerminatesInstance(t *testing.T) {
	h := newHarness(t)
	h.store.FailCreateInstance = provisiontest.ErrDatabase

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, provisiontest.ErrDatabase)
	assert.Equal(t, "persistence", KindName(err))

	calls := h.cloud.Calls()
	require.GreaterOrEqual(t, len(calls), 8)
	assert.Equal(t, []string{"TerminateInstance:i-0006", "DeleteSecurityGroup:sg-0004"}, calls[6:8])
	assert.False(t, h.cloud.Live("i-0006"))
	assert.Empty(t, h.store.Groups)
	assert.Empty(t, h.onlyRun(t).Orphans)
}

func TestFailedTerminationIsReportedAsOrphan(t *testing.T) {
	h := newHarness(t)
	h.store.FailCreateInstance = provisiontest.ErrDatabase
	h.cloud.DeleteErr["instance"] = errors.New("UnauthorizedOperation")

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)

	orphans := h.onlyRun(t).Orphans
	require.Len(t, orphans, 2)
	assert.Equal(t, "instance", orphans[0].Kind)
	assert.Equal(t, "i-0006", orphans[0].ResourceID)
	assert.Equal(t, "eu-west-1", orphans[0].Region)
	assert.Equal(t, "security_group", orphans[1].Kind)
	assert.Equal(t, "sg-0004", orphans[1].ResourceID)
	assert.Contains(t, orphans[1].Reason, "DependencyViolation")
	assert.Len(t, h.store.Groups, 1)
}

func TestSecretStoreFailureStopsBeforeKeyPairRow(t *testing.T) {
	h := newHarness(t)
	h.cloud.KeyPairErr = fmt.Errorf("%w: bucket puyu-keys missing", awsprovider.ErrSecretStore)

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, awsprovider.ErrSecretStore)
	assert.Equal(t, "secret_store", KindName(err))

	assert.Empty(t, h.store.KeyPairs)
	assert.Len(t, h.store.Spaces, 1)
	assert.Len(t, h.store.Subnets, 1)
	assert.Zero(t, h.cloud.Count("CreateSecurityGroup"))

	run := h.onlyRun(t)
	assert.Equal(t, domain.StateSubnetReady, run.State)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestNetworkLeftoverIsReportedAsOrphan(t *testing.T) {
	h := newHarness(t)
	h.cloud.NetworkErr = &awsprovider.ResourceError{
		ResourceID: "vpc-stuck",
		Err:        fmt.Errorf("%w: attach gateway", awsprovider.ErrProviderResource),
	}

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.Empty(t, h.store.Spaces)

	run := h.onlyRun(t)
	assert.Equal(t, domain.StateNoNetwork, run.State)
	require.Len(t, run.Orphans, 1)
	assert.Equal(t, "vpc", run.Orphans[0].Kind)
	assert.Equal(t, "vpc-stuck", run.Orphans[0].ResourceID)
}

func TestCancelledRequestRevertsUnpersistedResource(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.cloud.OnCreateNetwork = cancel

	_, err := h.svc.CreateInstance(ctx, webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", KindName(err))

	assert.Equal(t, []string{"CreateNetworkSpace", "DeleteNetworkSpace:vpc-0001"}, h.cloud.Calls())
	assert.Empty(t, h.store.Spaces)

	run := h.onlyRun(t)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, "cancelled", run.ErrorKind)
}

func TestCreateInstanceUnknownProject(t *testing.T) {
	h := newHarness(t)
	in := webRequest()
	in.ProjectID = 99

	_, err := h.svc.CreateInstance(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, h.cloud.Calls())
	assert.Empty(t, h.store.Runs)
}

func TestCreateInstanceValidation(t *testing.T) {
	h := newHarness(t)
	in := webRequest()
	in.Name = "  "
	in.DiskSizeGB = 0

	_, err := h.svc.CreateInstance(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, awsprovider.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "disk size must be between 1 and 65536 GiB")

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepValidate, stepErr.Step)
	assert.Empty(t, h.cloud.Calls())
	assert.Empty(t, h.store.Runs)
}

func TestCreateInstanceRejectsOversizedDisk(t *testing.T) {
	h := newHarness(t)
	for _, size := range []int{awsprovider.MaxDiskSizeGB + 1, 4294967316} {
		in := webRequest()
		in.DiskSizeGB = size

		_, err := h.svc.CreateInstance(context.Background(), in)
		require.ErrorIs(t, err, awsprovider.ErrInvalidArgument, "size %d", size)
	}
	assert.Empty(t, h.cloud.Calls())
	assert.Empty(t, h.store.Runs)
}

func TestCreateInstanceLockBusy(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.Locker = provisiontest.BusyLocker{} })

	_, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrBusy)
	assert.Equal(t, "busy", KindName(err))
	assert.Empty(t, h.cloud.Calls())
	assert.Equal(t, domain.RunStatusFailed, h.onlyRun(t).Status)
}

func TestGetRun(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.GetRun(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, awsprovider.ErrInvalidArgument)

	summary, err := h.svc.CreateInstance(context.Background(), webRequest())
	require.NoError(t, err)
	run, err := h.svc.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInstanceReady, run.State)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projects")
	assert.Contains(t, err.Error(), "drivers")
}

func TestKeyPairName(t *testing.T) {
	assert.Equal(t, "acme-corp-eu-west-1", keyPairName(&domain.Project{ID: 1, Name: "Acme Corp!"}, "eu-west-1"))
	assert.Equal(t, "project-3-us-east-1", keyPairName(&domain.Project{ID: 3, Name: "***"}, "us-east-1"))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	second := NewMetrics(reg)
	assert.Same(t, first.steps, second.steps)
	assert.Same(t, first.runs, second.runs)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.observeStep(StepSubnet, "succeeded", time.Second) })
}
