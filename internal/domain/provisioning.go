package domain

import (
	"encoding/json"
	"time"
)

// ProvisioningState tracks how far a run advanced through the resource chain.
type ProvisioningState string

const (
	StateNoNetwork          ProvisioningState = "NO_NETWORK"
	StateNetworkReady       ProvisioningState = "NETWORK_READY"
	StateSubnetReady        ProvisioningState = "SUBNET_READY"
	StateKeyPairReady       ProvisioningState = "KEYPAIR_READY"
	StateSecurityGroupReady ProvisioningState = "SECURITY_GROUP_READY"
	StateRuleReady          ProvisioningState = "RULE_READY"
	StateInstanceReady      ProvisioningState = "INSTANCE_READY"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// OrphanedResource is a provider resource that could not be cleaned up after a failure.
type OrphanedResource struct {
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id"`
	Region     string `json:"region"`
	Reason     string `json:"reason,omitempty"`
}

// ProvisioningRun is the durable record of one orchestrated request.
type ProvisioningRun struct {
	ID          string
	ProjectID   int64
	Region      string
	Request     json.RawMessage
	State       ProvisioningState
	Status      string
	Error       string
	ErrorKind   string
	Orphans     []OrphanedResource
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ProvisioningRunUpdate captures the mutable fields of a run.
type ProvisioningRunUpdate struct {
	ID          string
	State       ProvisioningState
	Status      string
	Error       string
	ErrorKind   string
	Orphans     []OrphanedResource
	CompletedAt *time.Time
}
