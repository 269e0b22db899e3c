// Package provisiontest provides in-memory repositories and a fake cloud for exercising the orchestrator.
package provisiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/events"
	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
)

// Store implements every repository interface in memory. The exported slices may be read once
// the calls under test have returned.
type Store struct {
	mu sync.Mutex

	nextID    int64
	projects  map[int64]domain.Project
	Spaces    []domain.NetworkSpace
	Subnets   []domain.Subnet
	KeyPairs  []domain.KeyPair
	Groups    []domain.SecurityGroup
	Rules     []domain.SecurityGroupRule
	Instances []domain.Instance
	Runs      map[string]domain.ProvisioningRun

	FailCreateInstance error
	BeforeCreateSpace  func()
}

var (
	_ repository.ProjectRepository = (*Store)(nil)
	_ repository.NetworkRepository = (*Store)(nil)
	_ repository.ComputeRepository = (*Store)(nil)
	_ repository.RunRepository     = (*Store)(nil)
)

// NewStore returns a Store seeded with projects.
func NewStore(projects ...domain.Project) *Store {
	s := &Store{
		nextID:   100,
		projects: map[int64]domain.Project{},
		Runs:     map[string]domain.ProvisioningRun{},
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateProject(_ context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.Name == p.Name {
			return repository.ErrConflict
		}
	}
	p.ID = s.id()
	s.projects[p.ID] = *p
	return nil
}

func (s *Store) GetProjectByID(_ context.Context, id int64) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProjects(context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) CreateNetworkSpace(_ context.Context, space *domain.NetworkSpace) error {
	if s.BeforeCreateSpace != nil {
		s.BeforeCreateSpace()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Spaces {
		if existing.ProjectID == space.ProjectID && existing.Region == space.Region {
			return repository.ErrConflict
		}
	}
	space.ID = s.id()
	space.CreatedAt = time.Now()
	s.Spaces = append(s.Spaces, *space)
	return nil
}

func (s *Store) GetNetworkSpace(_ context.Context, projectID int64, region string) (*domain.NetworkSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Spaces {
		if existing.ProjectID == projectID && existing.Region == region {
			out := existing
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListNetworkSpaces(_ context.Context, projectID int64, region string) ([]domain.NetworkSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.Spaces, func(v domain.NetworkSpace) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) DeleteNetworkSpace(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	s.Spaces, ok = remove(s.Spaces, func(v domain.NetworkSpace) bool { return v.ID == id })
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSubnet(_ context.Context, subnet *domain.Subnet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subnet.ID = s.id()
	s.Subnets = append(s.Subnets, *subnet)
	return nil
}

func (s *Store) GetSubnetByNetworkSpace(_ context.Context, networkSpaceID int64) (*domain.Subnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Subnets {
		if existing.NetworkSpaceID == networkSpaceID {
			out := existing
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListSubnets(_ context.Context, projectID int64, region string) ([]domain.Subnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.Subnets, func(v domain.Subnet) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) DeleteSubnet(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	s.Subnets, ok = remove(s.Subnets, func(v domain.Subnet) bool { return v.ID == id })
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CreateKeyPair(_ context.Context, kp *domain.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.KeyPairs {
		if existing.ProjectID == kp.ProjectID && existing.Region == kp.Region {
			return repository.ErrConflict
		}
	}
	kp.ID = s.id()
	s.KeyPairs = append(s.KeyPairs, *kp)
	return nil
}

func (s *Store) GetKeyPair(_ context.Context, projectID int64, region string) (*domain.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.KeyPairs {
		if existing.ProjectID == projectID && existing.Region == region {
			out := existing
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListKeyPairs(_ context.Context, projectID int64, region string) ([]domain.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.KeyPairs, func(v domain.KeyPair) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) DeleteKeyPair(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	s.KeyPairs, ok = remove(s.KeyPairs, func(v domain.KeyPair) bool { return v.ID == id })
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSecurityGroup(_ context.Context, g *domain.SecurityGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.id()
	s.Groups = append(s.Groups, *g)
	return nil
}

func (s *Store) ListSecurityGroups(_ context.Context, projectID int64, region string) ([]domain.SecurityGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.Groups, func(v domain.SecurityGroup) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) DeleteSecurityGroup(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	s.Groups, ok = remove(s.Groups, func(v domain.SecurityGroup) bool { return v.ID == id })
	if !ok {
		return repository.ErrNotFound
	}
	s.Rules, _ = remove(s.Rules, func(v domain.SecurityGroupRule) bool { return v.SecurityGroupID == id })
	return nil
}

func (s *Store) CreateSecurityGroupRule(_ context.Context, rule *domain.SecurityGroupRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.id()
	s.Rules = append(s.Rules, *rule)
	return nil
}

func (s *Store) ListSecurityGroupRules(_ context.Context, projectID int64, region string) ([]domain.SecurityGroupRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.Rules, func(v domain.SecurityGroupRule) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) CreateInstance(_ context.Context, inst *domain.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateInstance != nil {
		return s.FailCreateInstance
	}
	inst.ID = s.id()
	s.Instances = append(s.Instances, *inst)
	return nil
}

func (s *Store) ListInstances(_ context.Context, projectID int64, region string) ([]domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter(s.Instances, func(v domain.Instance) bool { return matches(v.ProjectID, v.Region, projectID, region) }), nil
}

func (s *Store) CreateRun(_ context.Context, run *domain.ProvisioningRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Runs[run.ID] = *run
	return nil
}

func (s *Store) UpdateRun(_ context.Context, u domain.ProvisioningRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.Runs[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if u.State != "" {
		run.State = u.State
	}
	if u.Status != "" {
		run.Status = u.Status
	}
	if u.Error != "" {
		run.Error = u.Error
	}
	if u.ErrorKind != "" {
		run.ErrorKind = u.ErrorKind
	}
	if u.Orphans != nil {
		run.Orphans = u.Orphans
	}
	if u.CompletedAt != nil {
		run.CompletedAt = u.CompletedAt
	}
	s.Runs[u.ID] = run
	return nil
}

// RunList returns every recorded run.
func (s *Store) RunList() []domain.ProvisioningRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProvisioningRun, 0, len(s.Runs))
	for _, run := range s.Runs {
		out = append(out, run)
	}
	return out
}

func (s *Store) GetRun(_ context.Context, id string) (*domain.ProvisioningRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.Runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func matches(pid int64, region string, wantPID int64, wantRegion string) bool {
	return pid == wantPID && (wantRegion == "" || region == wantRegion)
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := []T{}
	for _, v := range items {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func remove[T any](items []T, match func(T) bool) ([]T, bool) {
	out := items[:0]
	found := false
	for _, v := range items {
		if match(v) {
			found = true
			continue
		}
		out = append(out, v)
	}
	return out, found
}

// Cloud implements every driver and records calls in order.
type Cloud struct {
	mu    sync.Mutex
	calls []string
	seq   int

	NetworkErr  error
	KeyPairErr  error
	GroupErr    error
	InstanceErr error
	DeleteErr   map[string]error

	OnCreateNetwork func()
	NetworkDelay    time.Duration

	InstanceInputs []awsprovider.InstanceInput
	RuleInputs     []awsprovider.RuleInput

	// security group of every instance not yet terminated
	live map[string]string
}

// NewCloud returns a Cloud whose resources all become ready immediately.
func NewCloud() *Cloud {
	return &Cloud{DeleteErr: map[string]error{}, live: map[string]string{}}
}

func (f *Cloud) record(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.seq++
	return f.seq
}

// Calls returns the driver calls made so far, in order.
func (f *Cloud) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count reports how often call was made.
func (f *Cloud) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *Cloud) CreateNetworkSpace(_ context.Context, in awsprovider.NetworkSpaceInput) (*awsprovider.NetworkSpaceResult, error) {
	n := f.record("CreateNetworkSpace")
	if f.NetworkDelay > 0 {
		time.Sleep(f.NetworkDelay)
	}
	if f.OnCreateNetwork != nil {
		f.OnCreateNetwork()
	}
	if f.NetworkErr != nil {
		return nil, f.NetworkErr
	}
	return &awsprovider.NetworkSpaceResult{
		ProviderResourceID: fmt.Sprintf("vpc-%04d", n),
		InternetGatewayID:  fmt.Sprintf("igw-%04d", n),
		CIDRBlock:          in.CIDRBlock,
		Region:             in.Region,
	}, nil
}

func (f *Cloud) DeleteNetworkSpace(_ context.Context, _, vpcID, _ string) error {
	f.record("DeleteNetworkSpace:" + vpcID)
	return f.DeleteErr["network_space"]
}

func (f *Cloud) CreateSubnet(_ context.Context, in awsprovider.SubnetInput) (*awsprovider.SubnetResult, error) {
	n := f.record("CreateSubnet")
	return &awsprovider.SubnetResult{
		ProviderResourceID: fmt.Sprintf("subnet-%04d", n),
		CIDRBlock:          in.CIDRBlock,
		AvailabilityZone:   in.AvailabilityZone,
	}, nil
}

func (f *Cloud) DeleteSubnet(_ context.Context, _, subnetID string) error {
	f.record("DeleteSubnet:" + subnetID)
	return f.DeleteErr["subnet"]
}

func (f *Cloud) CreateKeyPair(_ context.Context, name, _ string) (*awsprovider.KeyPairResult, error) {
	f.record("CreateKeyPair")
	if f.KeyPairErr != nil {
		return nil, f.KeyPairErr
	}
	return &awsprovider.KeyPairResult{Name: name, Fingerprint: "SHA256:abc", ObjectKey: awsprovider.ObjectKey(name)}, nil
}

func (f *Cloud) DeleteKeyPair(_ context.Context, name, _ string) error {
	f.record("DeleteKeyPair:" + name)
	return f.DeleteErr["key_pair"]
}

func (f *Cloud) CreateSecurityGroup(_ context.Context, _ awsprovider.SecurityGroupInput) (string, error) {
	n := f.record("CreateSecurityGroup")
	if f.GroupErr != nil {
		return "", f.GroupErr
	}
	return fmt.Sprintf("sg-%04d", n), nil
}

// DeleteSecurityGroup fails while a live instance still uses the group.
func (f *Cloud) DeleteSecurityGroup(_ context.Context, _, groupID string) error {
	f.record("DeleteSecurityGroup:" + groupID)
	f.mu.Lock()
	defer f.mu.Unlock()
	for instanceID, group := range f.live {
		if group == groupID {
			return fmt.Errorf("%w: DependencyViolation: %s is in use by %s", awsprovider.ErrProviderResource, groupID, instanceID)
		}
	}
	return f.DeleteErr["security_group"]
}

func (f *Cloud) CreateSecurityGroupRule(_ context.Context, in awsprovider.RuleInput) (string, error) {
	n := f.record("CreateSecurityGroupRule")
	f.mu.Lock()
	f.RuleInputs = append(f.RuleInputs, in)
	f.mu.Unlock()
	return fmt.Sprintf("sgr-%04d", n), nil
}

func (f *Cloud) CreateInstance(_ context.Context, in awsprovider.InstanceInput) (*awsprovider.InstanceResult, error) {
	n := f.record("CreateInstance")
	f.mu.Lock()
	f.InstanceInputs = append(f.InstanceInputs, in)
	f.mu.Unlock()
	if f.InstanceErr != nil {
		return nil, f.InstanceErr
	}
	id := fmt.Sprintf("i-%04d", n)
	f.mu.Lock()
	f.live[id] = in.SecurityGroupID
	f.mu.Unlock()
	return &awsprovider.InstanceResult{
		ProviderResourceID: id,
		PublicIP:           "203.0.113.10",
		PrivateIP:          "10.255.0.10",
	}, nil
}

func (f *Cloud) TerminateInstance(_ context.Context, _, instanceID string) error {
	f.record("TerminateInstance:" + instanceID)
	if err := f.DeleteErr["instance"]; err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.live, instanceID)
	f.mu.Unlock()
	return nil
}

// Live reports whether instanceID was created and not terminated.
func (f *Cloud) Live(instanceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[instanceID]
	return ok
}

// Sink captures published events.
type Sink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *Sink) Publish(_ context.Context, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Statuses lists the statuses published for step.
func (s *Sink) Statuses(step string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Step == step {
			out = append(out, e.Status)
		}
	}
	return out
}

// BusyLocker never grants a lease.
type BusyLocker struct{}

func (BusyLocker) Acquire(_ context.Context, key string) (func(), error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrBusy, key)
}

// OpenLocker always grants a lease immediately.
type OpenLocker struct{}

func (OpenLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// ErrDatabase is a stand-in for a failing database.
var ErrDatabase = errors.New("database unavailable")
