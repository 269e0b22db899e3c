package domain

import "time"

// Project owns every mirrored cloud resource.
type Project struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ProjectResources groups the mirrored rows of a project in one region.
type ProjectResources struct {
	ProjectID          int64
	Region             string
	NetworkSpaces      []NetworkSpace
	Subnets            []Subnet
	KeyPairs           []KeyPair
	SecurityGroups     []SecurityGroup
	SecurityGroupRules []SecurityGroupRule
	Instances          []Instance
}
