package provision

import (
	"context"

	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
)

// NetworkDriver creates and removes VPCs and subnets.
type NetworkDriver interface {
	CreateNetworkSpace(ctx context.Context, in awsprovider.NetworkSpaceInput) (*awsprovider.NetworkSpaceResult, error)
	DeleteNetworkSpace(ctx context.Context, region, vpcID, internetGatewayID string) error
	CreateSubnet(ctx context.Context, in awsprovider.SubnetInput) (*awsprovider.SubnetResult, error)
	DeleteSubnet(ctx context.Context, region, subnetID string) error
}

// KeyPairDriver creates and removes key pairs.
type KeyPairDriver interface {
	CreateKeyPair(ctx context.Context, name, region string) (*awsprovider.KeyPairResult, error)
	DeleteKeyPair(ctx context.Context, name, region string) error
}

// SecurityGroupDriver creates and removes security groups and rules.
type SecurityGroupDriver interface {
	CreateSecurityGroup(ctx context.Context, in awsprovider.SecurityGroupInput) (string, error)
	DeleteSecurityGroup(ctx context.Context, region, groupID string) error
	CreateSecurityGroupRule(ctx context.Context, in awsprovider.RuleInput) (string, error)
}

// InstanceDriver launches and terminates instances.
type InstanceDriver interface {
	CreateInstance(ctx context.Context, in awsprovider.InstanceInput) (*awsprovider.InstanceResult, error)
	TerminateInstance(ctx context.Context, region, instanceID string) error
}

var (
	_ NetworkDriver       = (*awsprovider.NetworkDriver)(nil)
	_ KeyPairDriver       = (*awsprovider.KeyPairDriver)(nil)
	_ SecurityGroupDriver = (*awsprovider.SecurityGroupDriver)(nil)
	_ InstanceDriver      = (*awsprovider.InstanceDriver)(nil)
)
