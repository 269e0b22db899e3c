package domain

import "time"

// NetworkSpace mirrors a provider VPC. At most one exists per project and region.
type NetworkSpace struct {
	ID                 int64
	Name               string
	ProviderResourceID string
	InternetGatewayID  string
	CIDRBlock          string
	Region             string
	ProjectID          int64
	CreatedAt          time.Time
}

// Subnet mirrors a provider subnet inside a NetworkSpace.
type Subnet struct {
	ID                 int64
	Name               string
	ProviderResourceID string
	CIDRBlock          string
	NetworkSpaceID     int64
	AvailabilityZone   string
	Region             string
	ProjectID          int64
	CreatedAt          time.Time

	// NetworkSpaceProviderID is joined from the parent row on reads.
	NetworkSpaceProviderID string
}
