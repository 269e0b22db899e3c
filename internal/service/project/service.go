package project

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/barckcode/puyu-api/internal/domain"
	"github.com/barckcode/puyu-api/internal/repository"
)

const maxNameLength = 63

// Service manages projects and lists the cloud resources mirrored for them.
type Service struct {
	projects repository.ProjectRepository
	network  repository.NetworkRepository
	compute  repository.ComputeRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, network repository.NetworkRepository, compute repository.ComputeRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{projects: projects, network: network, compute: compute, logger: logger}
}

var (
	errInvalidProjectName = fmt.Errorf("%w: project name is required", repository.ErrInvalidArgument)
	errProjectNameTooLong = fmt.Errorf("%w: project name exceeds %d characters", repository.ErrInvalidArgument, maxNameLength)
	errMissingProjectID   = fmt.Errorf("%w: project id required", repository.ErrInvalidArgument)
)

// Create registers a project under a unique name.
func (s Service) Create(ctx context.Context, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	if len(name) > maxNameLength {
		return nil, errProjectNameTooLong
	}
	project := &domain.Project{Name: name}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "name", project.Name)
	return project, nil
}

// Get returns a project by id.
func (s Service) Get(ctx context.Context, projectID int64) (*domain.Project, error) {
	if projectID <= 0 {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// List returns every project.
func (s Service) List(ctx context.Context) ([]domain.Project, error) {
	return s.projects.ListProjects(ctx)
}

// Resources returns the mirrored rows of a project, optionally restricted to one region.
func (s Service) Resources(ctx context.Context, projectID int64, region string) (*domain.ProjectResources, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	region = strings.TrimSpace(region)
	out := &domain.ProjectResources{ProjectID: projectID, Region: region}

	var err error
	if out.NetworkSpaces, err = s.network.ListNetworkSpaces(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list network spaces: %w", err)
	}
	if out.Subnets, err = s.network.ListSubnets(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list subnets: %w", err)
	}
	if out.KeyPairs, err = s.compute.ListKeyPairs(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list key pairs: %w", err)
	}
	if out.SecurityGroups, err = s.compute.ListSecurityGroups(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list security groups: %w", err)
	}
	if out.SecurityGroupRules, err = s.compute.ListSecurityGroupRules(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list security group rules: %w", err)
	}
	if out.Instances, err = s.compute.ListInstances(ctx, projectID, region); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}
