package httpx

import (
	"encoding/json"
	"time"

	"github.com/barckcode/puyu-api/internal/domain"
)

type projectResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func newProjectResponse(p *domain.Project) projectResponse {
	return projectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

type runResponse struct {
	ID          string                    `json:"id"`
	ProjectID   int64                     `json:"project_id"`
	Region      string                    `json:"region"`
	Request     json.RawMessage           `json:"request,omitempty"`
	State       string                    `json:"state"`
	Status      string                    `json:"status"`
	Error       string                    `json:"error,omitempty"`
	ErrorKind   string                    `json:"error_kind,omitempty"`
	Orphans     []domain.OrphanedResource `json:"orphans"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

func newRunResponse(run *domain.ProvisioningRun) runResponse {
	orphans := run.Orphans
	if orphans == nil {
		orphans = []domain.OrphanedResource{}
	}
	return runResponse{
		ID:          run.ID,
		ProjectID:   run.ProjectID,
		Region:      run.Region,
		Request:     run.Request,
		State:       string(run.State),
		Status:      run.Status,
		Error:       run.Error,
		ErrorKind:   run.ErrorKind,
		Orphans:     orphans,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
}

type networkSpaceResponse struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	ProviderResourceID string    `json:"provider_resource_id"`
	InternetGatewayID  string    `json:"internet_gateway_id"`
	CIDRBlock          string    `json:"cidr_block"`
	Region             string    `json:"region"`
	CreatedAt          time.Time `json:"created_at"`
}

type subnetResponse struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	ProviderResourceID     string    `json:"provider_resource_id"`
	CIDRBlock              string    `json:"cidr_block"`
	NetworkSpaceID         int64     `json:"network_space_id"`
	NetworkSpaceProviderID string    `json:"network_space_provider_id"`
	AvailabilityZone       string    `json:"availability_zone"`
	Region                 string    `json:"region"`
	CreatedAt              time.Time `json:"created_at"`
}

type keyPairResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Fingerprint     string    `json:"fingerprint"`
	SecretObjectKey string    `json:"secret_object_key"`
	Region          string    `json:"region"`
	CreatedAt       time.Time `json:"created_at"`
}

type securityGroupResponse struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	ProviderResourceID     string    `json:"provider_resource_id"`
	NetworkSpaceID         int64     `json:"network_space_id"`
	NetworkSpaceProviderID string    `json:"network_space_provider_id"`
	Region                 string    `json:"region"`
	CreatedAt              time.Time `json:"created_at"`
}

type ruleResponse struct {
	ID                      int64     `json:"id"`
	Direction               string    `json:"direction"`
	ProviderResourceID      string    `json:"provider_resource_id"`
	SecurityGroupID         int64     `json:"security_group_id"`
	SecurityGroupProviderID string    `json:"security_group_provider_id"`
	Port                    int       `json:"port"`
	Protocol                string    `json:"protocol"`
	CIDRIP                  string    `json:"cidr_ip"`
	Region                  string    `json:"region"`
	CreatedAt               time.Time `json:"created_at"`
}

type instanceResponse struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	ProviderResourceID string    `json:"provider_resource_id"`
	DiskSizeGB         int       `json:"disk_size"`
	PublicIP           string    `json:"public_ip"`
	PrivateIP          string    `json:"private_ip"`
	InstanceType       string    `json:"instance_type"`
	ImageID            string    `json:"image_id"`
	KeyPairID          int64     `json:"key_pair_id"`
	SubnetID           int64     `json:"subnet_id"`
	SecurityGroupID    int64     `json:"security_group_id"`
	Region             string    `json:"region"`
	CreatedAt          time.Time `json:"created_at"`
}

type resourcesResponse struct {
	ProjectID          int64                   `json:"project_id"`
	Region             string                  `json:"region,omitempty"`
	NetworkSpaces      []networkSpaceResponse  `json:"network_spaces"`
	Subnets            []subnetResponse        `json:"subnets"`
	KeyPairs           []keyPairResponse       `json:"key_pairs"`
	SecurityGroups     []securityGroupResponse `json:"security_groups"`
	SecurityGroupRules []ruleResponse          `json:"security_group_rules"`
	Instances          []instanceResponse      `json:"instances"`
}

func newResourcesResponse(res *domain.ProjectResources) resourcesResponse {
	out := resourcesResponse{
		ProjectID:          res.ProjectID,
		Region:             res.Region,
		NetworkSpaces:      make([]networkSpaceResponse, 0, len(res.NetworkSpaces)),
		Subnets:            make([]subnetResponse, 0, len(res.Subnets)),
		KeyPairs:           make([]keyPairResponse, 0, len(res.KeyPairs)),
		SecurityGroups:     make([]securityGroupResponse, 0, len(res.SecurityGroups)),
		SecurityGroupRules: make([]ruleResponse, 0, len(res.SecurityGroupRules)),
		Instances:          make([]instanceResponse, 0, len(res.Instances)),
	}
	for _, v := range res.NetworkSpaces {
		out.NetworkSpaces = append(out.NetworkSpaces, networkSpaceResponse{
			ID: v.ID, Name: v.Name, ProviderResourceID: v.ProviderResourceID, InternetGatewayID: v.InternetGatewayID,
			CIDRBlock: v.CIDRBlock, Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	for _, v := range res.Subnets {
		out.Subnets = append(out.Subnets, subnetResponse{
			ID: v.ID, Name: v.Name, ProviderResourceID: v.ProviderResourceID, CIDRBlock: v.CIDRBlock,
			NetworkSpaceID: v.NetworkSpaceID, NetworkSpaceProviderID: v.NetworkSpaceProviderID,
			AvailabilityZone: v.AvailabilityZone, Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	for _, v := range res.KeyPairs {
		out.KeyPairs = append(out.KeyPairs, keyPairResponse{
			ID: v.ID, Name: v.Name, Fingerprint: v.Fingerprint, SecretObjectKey: v.SecretObjectKey,
			Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	for _, v := range res.SecurityGroups {
		out.SecurityGroups = append(out.SecurityGroups, securityGroupResponse{
			ID: v.ID, Name: v.Name, ProviderResourceID: v.ProviderResourceID, NetworkSpaceID: v.NetworkSpaceID,
			NetworkSpaceProviderID: v.NetworkSpaceProviderID, Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	for _, v := range res.SecurityGroupRules {
		out.SecurityGroupRules = append(out.SecurityGroupRules, ruleResponse{
			ID: v.ID, Direction: v.Direction, ProviderResourceID: v.ProviderResourceID,
			SecurityGroupID: v.SecurityGroupID, SecurityGroupProviderID: v.SecurityGroupProviderID,
			Port: v.Port, Protocol: v.Protocol, CIDRIP: v.CIDRIP, Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	for _, v := range res.Instances {
		out.Instances = append(out.Instances, instanceResponse{
			ID: v.ID, Name: v.Name, ProviderResourceID: v.ProviderResourceID, DiskSizeGB: v.DiskSizeGB,
			PublicIP: v.PublicIP, PrivateIP: v.PrivateIP, InstanceType: v.InstanceType, ImageID: v.ImageID,
			KeyPairID: v.KeyPairID, SubnetID: v.SubnetID, SecurityGroupID: v.SecurityGroupID,
			Region: v.Region, CreatedAt: v.CreatedAt,
		})
	}
	return out
}
