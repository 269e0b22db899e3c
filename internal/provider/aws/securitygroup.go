package aws

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Rule directions.
const (
	DirectionIngress = "ingress"
	DirectionEgress  = "egress"
)

// SecurityGroupInput describes a security group to create inside a VPC.
type SecurityGroupInput struct {
	Name           string
	Description    string
	NetworkSpaceID string
	Region         string
}

// RuleInput describes a single rule to authorize.
type RuleInput struct {
	Direction       string
	SecurityGroupID string
	Port            int
	Protocol        string
	CIDRIP          string
	Region          string
}

// SecurityGroupDriver creates security groups and their rules.
type SecurityGroupDriver struct {
	clients ClientSource
	log     *slog.Logger
}

// NewSecurityGroupDriver constructs a SecurityGroupDriver.
func NewSecurityGroupDriver(clients ClientSource, opts Options) *SecurityGroupDriver {
	opts = opts.withDefaults()
	return &SecurityGroupDriver{clients: clients, log: opts.Logger.With("component", "security-group-driver")}
}

// CreateSecurityGroup creates a named security group and returns its provider id.
func (d *SecurityGroupDriver) CreateSecurityGroup(ctx context.Context, in SecurityGroupInput) (string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", invalid("security group name is required")
	}
	if strings.TrimSpace(in.NetworkSpaceID) == "" {
		return "", invalid("network space id is required")
	}
	description := in.Description
	if description == "" {
		description = "Security Group for " + in.Name
	}
	c, err := d.clients.Clients(ctx, in.Region)
	if err != nil {
		return "", err
	}

	out, err := c.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         awssdk.String(in.Name),
		Description:       awssdk.String(description),
		VpcId:             awssdk.String(in.NetworkSpaceID),
		TagSpecifications: tagSpec(ec2types.ResourceTypeSecurityGroup, in.Name),
	})
	if err != nil {
		return "", wrap("create security group", err)
	}
	groupID := awssdk.ToString(out.GroupId)
	if groupID == "" {
		return "", fmt.Errorf("create security group: %w: empty group id", ErrProviderResource)
	}
	d.log.Info("security group ready", "region", in.Region, "vpc_id", in.NetworkSpaceID, "group_id", groupID)
	return groupID, nil
}

// DeleteSecurityGroup removes a security group. Missing groups are not an error.
func (d *SecurityGroupDriver) DeleteSecurityGroup(ctx context.Context, region, groupID string) error {
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := c.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: awssdk.String(groupID)}); err != nil && !isNotFound(err) {
		return wrap("delete security group", err)
	}
	return nil
}

// CreateSecurityGroupRule authorizes one ingress or egress rule and returns the rule id.
func (d *SecurityGroupDriver) CreateSecurityGroupRule(ctx context.Context, in RuleInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	c, err := d.clients.Clients(ctx, in.Region)
	if err != nil {
		return "", err
	}

	permissions := []ec2types.IpPermission{{
		IpProtocol: awssdk.String(strings.ToLower(in.Protocol)),
		FromPort:   awssdk.Int32(int32(in.Port)),
		ToPort:     awssdk.Int32(int32(in.Port)),
		IpRanges:   []ec2types.IpRange{{CidrIp: awssdk.String(in.CIDRIP)}},
	}}

	var rules []ec2types.SecurityGroupRule
	switch in.Direction {
	case DirectionIngress:
		out, err := c.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       awssdk.String(in.SecurityGroupID),
			IpPermissions: permissions,
		})
		if err != nil {
			return "", wrap("authorize ingress", err)
		}
		rules = out.SecurityGroupRules
	case DirectionEgress:
		out, err := c.EC2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       awssdk.String(in.SecurityGroupID),
			IpPermissions: permissions,
		})
		if err != nil {
			return "", wrap("authorize egress", err)
		}
		rules = out.SecurityGroupRules
	}

	var ruleID string
	if len(rules) > 0 {
		ruleID = awssdk.ToString(rules[0].SecurityGroupRuleId)
	}
	d.log.Info("security group rule ready", "region", in.Region, "group_id", in.SecurityGroupID,
		"direction", in.Direction, "port", in.Port, "protocol", in.Protocol, "rule_id", ruleID)
	return ruleID, nil
}

func (in RuleInput) validate() error {
	if in.Direction != DirectionIngress && in.Direction != DirectionEgress {
		return invalid("direction must be %q or %q, got %q", DirectionIngress, DirectionEgress, in.Direction)
	}
	if strings.TrimSpace(in.SecurityGroupID) == "" {
		return invalid("security group id is required")
	}
	if in.Port < 0 || in.Port > 65535 {
		return invalid("port %d out of range", in.Port)
	}
	if strings.TrimSpace(in.Protocol) == "" {
		return invalid("protocol is required")
	}
	if _, err := netip.ParsePrefix(in.CIDRIP); err != nil {
		return invalid("cidr %q: %v", in.CIDRIP, err)
	}
	return nil
}
