package repository

import (
	"context"

	"github.com/barckcode/puyu-api/internal/domain"
)

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID int64) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// NetworkRepository mirrors network spaces and subnets.
type NetworkRepository interface {
	CreateNetworkSpace(ctx context.Context, space *domain.NetworkSpace) error
	GetNetworkSpace(ctx context.Context, projectID int64, region string) (*domain.NetworkSpace, error)
	ListNetworkSpaces(ctx context.Context, projectID int64, region string) ([]domain.NetworkSpace, error)
	DeleteNetworkSpace(ctx context.Context, id int64) error
	CreateSubnet(ctx context.Context, subnet *domain.Subnet) error
	GetSubnetByNetworkSpace(ctx context.Context, networkSpaceID int64) (*domain.Subnet, error)
	ListSubnets(ctx context.Context, projectID int64, region string) ([]domain.Subnet, error)
	DeleteSubnet(ctx context.Context, id int64) error
}

// ComputeRepository mirrors key pairs, security groups, rules and instances.
type ComputeRepository interface {
	CreateKeyPair(ctx context.Context, keyPair *domain.KeyPair) error
	GetKeyPair(ctx context.Context, projectID int64, region string) (*domain.KeyPair, error)
	ListKeyPairs(ctx context.Context, projectID int64, region string) ([]domain.KeyPair, error)
	DeleteKeyPair(ctx context.Context, id int64) error
	CreateSecurityGroup(ctx context.Context, group *domain.SecurityGroup) error
	ListSecurityGroups(ctx context.Context, projectID int64, region string) ([]domain.SecurityGroup, error)
	DeleteSecurityGroup(ctx context.Context, id int64) error
	CreateSecurityGroupRule(ctx context.Context, rule *domain.SecurityGroupRule) error
	ListSecurityGroupRules(ctx context.Context, projectID int64, region string) ([]domain.SecurityGroupRule, error)
	CreateInstance(ctx context.Context, instance *domain.Instance) error
	ListInstances(ctx context.Context, projectID int64, region string) ([]domain.Instance, error)
}

// RunRepository stores provisioning run records.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.ProvisioningRun) error
	UpdateRun(ctx context.Context, update domain.ProvisioningRunUpdate) error
	GetRun(ctx context.Context, runID string) (*domain.ProvisioningRun, error)
}
