package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/events"
	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
)

// Step names reported in errors, events and metrics.
const (
	StepValidate      = "validate"
	StepRun           = "run"
	StepLock          = "lock"
	StepNetworkSpace  = "network_space"
	StepSubnet        = "subnet"
	StepKeyPair       = "key_pair"
	StepSecurityGroup = "security_group"
	StepRule          = "security_group_rule"
	StepInstance      = "instance"
)

// Default SSH rule attached to every new security group.
const (
	DefaultRuleDirection = domain.DirectionIngress
	DefaultRulePort      = 22
	DefaultRuleProtocol  = "tcp"
	DefaultRuleCIDR      = "0.0.0.0/0"
)

// Config tunes the orchestrator.
type Config struct {
	NetworkCIDR         string
	SubnetCIDR          string
	LockWait            time.Duration
	CompensationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NetworkCIDR == "" {
		c.NetworkCIDR = "10.255.0.0/16"
	}
	if c.SubnetCIDR == "" {
		c.SubnetCIDR = "10.255.0.0/20"
	}
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Minute
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = 2 * time.Minute
	}
	return c
}

// Dependencies are the collaborators of the orchestrator.
type Dependencies struct {
	Projects       repository.ProjectRepository
	Network        repository.NetworkRepository
	Compute        repository.ComputeRepository
	Runs           repository.RunRepository
	Networks       NetworkDriver
	KeyPairs       KeyPairDriver
	SecurityGroups SecurityGroupDriver
	Instances      InstanceDriver
	Locker         lock.Locker
	Events         events.Sink
	Metrics        *Metrics
}

// Service provisions a reachable instance and its prerequisites.
type Service struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// CreateInstanceInput is a request for one instance.
type CreateInstanceInput struct {
	Name         string `json:"name"`
	Region       string `json:"region"`
	ImageID      string `json:"image_id"`
	InstanceType string `json:"instance_type"`
	DiskSizeGB   int    `json:"disk_size"`
	ProjectID    int64  `json:"project_id"`
}

// InstanceSummary describes a provisioned instance.
type InstanceSummary struct {
	RunID           string `json:"run_id"`
	Name            string `json:"name"`
	PublicIP        string `json:"public_ip"`
	PrivateIP       string `json:"private_ip"`
	SecurityGroupID string `json:"security_group_id"`
	InstanceID      string `json:"instance_id"`
}

// New returns a provisioning service.
func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Service, error) {
	var missing []string
	if deps.Projects == nil {
		missing = append(missing, "projects")
	}
	if deps.Network == nil {
		missing = append(missing, "network repository")
	}
	if deps.Compute == nil {
		missing = append(missing, "compute repository")
	}
	if deps.Runs == nil {
		missing = append(missing, "runs repository")
	}
	if deps.Networks == nil || deps.KeyPairs == nil || deps.SecurityGroups == nil || deps.Instances == nil {
		missing = append(missing, "drivers")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("provision: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "provision"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateInstance runs the resource chain NO_NETWORK through INSTANCE_READY for one request.
func (s *Service) CreateInstance(ctx context.Context, in CreateInstanceInput) (*InstanceSummary, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, &StepError{Step: StepValidate, Kind: awsprovider.ErrInvalidArgument, Err: err}
	}

	project, err := s.deps.Projects.GetProjectByID(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("project %d: %w", in.ProjectID, repository.ErrNotFound)
		}
		return nil, persistenceError(StepValidate, err, "")
	}

	request, _ := json.Marshal(in)
	run := &domain.ProvisioningRun{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Region:    in.Region,
		Request:   request,
		State:     domain.StateNoNetwork,
		Status:    domain.RunStatusRunning,
		StartedAt: s.now(),
	}
	if err := s.deps.Runs.CreateRun(ctx, run); err != nil {
		return nil, persistenceError(StepRun, err, "")
	}

	r := &runner{
		svc:     s,
		in:      in,
		project: project,
		run:     run,
		log:     s.logger.With("run_id", run.ID, "project_id", project.ID, "region", in.Region),
	}
	summary, runErr := r.execute(ctx)
	s.finish(ctx, r, runErr)
	if runErr != nil {
		return nil, runErr
	}
	summary.RunID = run.ID
	return summary, nil
}

// GetRun returns a recorded provisioning run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.ProvisioningRun, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: run id %q", awsprovider.ErrInvalidArgument, runID)
	}
	return s.deps.Runs.GetRun(ctx, runID)
}

func (s *Service) finish(ctx context.Context, r *runner, runErr error) {
	completed := s.now()
	update := domain.ProvisioningRunUpdate{
		ID:          r.run.ID,
		State:       r.run.State,
		Status:      domain.RunStatusSucceeded,
		Orphans:     r.orphans,
		CompletedAt: &completed,
	}
	if runErr != nil {
		update.Status = domain.RunStatusFailed
		update.Error = runErr.Error()
		update.ErrorKind = KindName(runErr)
	}
	if update.Orphans == nil {
		update.Orphans = []domain.OrphanedResource{}
	}
	r.run.Status = update.Status
	r.run.Error = update.Error
	r.run.ErrorKind = update.ErrorKind
	r.run.Orphans = update.Orphans
	r.run.CompletedAt = &completed

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.deps.Runs.UpdateRun(writeCtx, update); err != nil {
		s.logger.Error("record provisioning run", "run_id", r.run.ID, "error", err)
	}
	s.deps.Metrics.observeRun(update.Status, update.ErrorKind)
	if runErr != nil {
		r.log.Error("provisioning failed", "state", r.run.State, "error_kind", update.ErrorKind, "orphans", len(r.orphans), "error", runErr)
		return
	}
	r.log.Info("provisioning succeeded", "state", r.run.State)
}

func (in *CreateInstanceInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Region = strings.TrimSpace(in.Region)
	in.ImageID = strings.TrimSpace(in.ImageID)
	in.InstanceType = strings.TrimSpace(in.InstanceType)
}

func (in CreateInstanceInput) validate() error {
	var errs []error
	if in.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if in.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if in.ImageID == "" {
		errs = append(errs, errors.New("image id is required"))
	}
	if in.InstanceType == "" {
		errs = append(errs, errors.New("instance type is required"))
	}
	if in.DiskSizeGB <= 0 || in.DiskSizeGB > awsprovider.MaxDiskSizeGB {
		errs = append(errs, fmt.Errorf("disk size must be between 1 and %d GiB, got %d", awsprovider.MaxDiskSizeGB, in.DiskSizeGB))
	}
	if in.ProjectID <= 0 {
		errs = append(errs, errors.New("project id is required"))
	}
	return errors.Join(errs...)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9-]+`)

// keyPairName derives the per-project, per-region key pair name.
func keyPairName(project *domain.Project, region string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(project.Name), "-"), "-")
	if slug == "" {
		slug = fmt.Sprintf("project-%d", project.ID)
	}
	return slug + "-" + region
}
