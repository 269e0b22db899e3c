package domain

import "time"

// Rule directions accepted by the provider.
const (
	DirectionIngress = "ingress"
	DirectionEgress  = "egress"
)

// KeyPair mirrors a provider key pair. The private material lives only in the secret store.
type KeyPair struct {
	ID              int64
	Name            string
	Fingerprint     string
	SecretObjectKey string
	Region          string
	ProjectID       int64
	CreatedAt       time.Time
}

// SecurityGroup mirrors a provider security group.
type SecurityGroup struct {
	ID                 int64
	Name               string
	ProviderResourceID string
	NetworkSpaceID     int64
	Region             string
	ProjectID          int64
	CreatedAt          time.Time

	NetworkSpaceProviderID string
}

// SecurityGroupRule mirrors a single authorized rule.
type SecurityGroupRule struct {
	ID                 int64
	Direction          string
	ProviderResourceID string
	SecurityGroupID    int64
	Port               int
	Protocol           string
	CIDRIP             string
	Region             string
	ProjectID          int64
	CreatedAt          time.Time

	SecurityGroupProviderID string
}

// Instance mirrors a launched virtual machine.
type Instance struct {
	ID                 int64
	Name               string
	ProviderResourceID string
	DiskSizeGB         int
	PublicIP           string
	PrivateIP          string
	KeyPairID          int64
	InstanceType       string
	ImageID            string
	SubnetID           int64
	SecurityGroupID    int64
	Region             string
	ProjectID          int64
	CreatedAt          time.Time
}
