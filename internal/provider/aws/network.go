package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const cleanupTimeout = time.Minute

// NetworkSpaceInput describes a VPC to create.
type NetworkSpaceInput struct {
	Name      string
	CIDRBlock string
	Region    string
}

// NetworkSpaceResult is the provider view of a ready VPC.
type NetworkSpaceResult struct {
	ProviderResourceID string
	InternetGatewayID  string
	CIDRBlock          string
	Region             string
}

// SubnetInput describes a subnet to create inside a VPC.
type SubnetInput struct {
	Name             string
	CIDRBlock        string
	AvailabilityZone string
	NetworkSpaceID   string
	Region           string
}

// SubnetResult is the provider view of a ready subnet.
type SubnetResult struct {
	ProviderResourceID string
	CIDRBlock          string
	AvailabilityZone   string
}

// NetworkDriver creates VPCs with internet egress and their subnets.
type NetworkDriver struct {
	clients ClientSource
	opts    Options
	log     *slog.Logger
}

// NewNetworkDriver constructs a NetworkDriver.
func NewNetworkDriver(clients ClientSource, opts Options) *NetworkDriver {
	opts = opts.withDefaults()
	return &NetworkDriver{clients: clients, opts: opts, log: opts.Logger.With("component", "network-driver")}
}

// CreateNetworkSpace creates a VPC, waits for it, then wires an internet gateway and a default route.
// Partial work is removed before an error is returned; a ResourceError reports what could not be removed.
func (d *NetworkDriver) CreateNetworkSpace(ctx context.Context, in NetworkSpaceInput) (*NetworkSpaceResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("network space name is required")
	}
	if _, err := netip.ParsePrefix(in.CIDRBlock); err != nil {
		return nil, invalid("cidr block %q: %v", in.CIDRBlock, err)
	}
	c, err := d.clients.Clients(ctx, in.Region)
	if err != nil {
		return nil, err
	}

	out, err := c.EC2.CreateVpc(ctx, &ec2.CreateVpcInput{CidrBlock: awssdk.String(in.CIDRBlock)})
	if err != nil {
		return nil, wrap("create vpc", err)
	}
	if out.Vpc == nil || awssdk.ToString(out.Vpc.VpcId) == "" {
		return nil, fmt.Errorf("create vpc: %w: empty vpc id", ErrProviderResource)
	}
	vpcID := awssdk.ToString(out.Vpc.VpcId)
	log := d.log.With("region", in.Region, "vpc_id", vpcID)

	var igwID string
	var attached bool
	fail := func(op string, err error) (*NetworkSpaceResult, error) {
		err = wrap(op, err)
		if cerr := d.teardown(ctx, c, vpcID, igwID, attached); cerr != nil {
			log.Error("network cleanup failed", "error", cerr)
			return nil, &ResourceError{ResourceID: vpcID, Err: err}
		}
		return nil, err
	}

	err = waitUntil(ctx, d.opts.Poll, d.opts.NetworkTimeout, "vpc "+vpcID+" available", func(ctx context.Context) (bool, error) {
		desc, err := c.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{vpcID}})
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, err
		}
		for _, vpc := range desc.Vpcs {
			if vpc.State == ec2types.VpcStateAvailable {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fail("wait for vpc", err)
	}

	if _, err := c.EC2.CreateTags(ctx, &ec2.CreateTagsInput{Resources: []string{vpcID}, Tags: nameTags(in.Name)}); err != nil {
		return fail("tag vpc", err)
	}

	igw, err := c.EC2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return fail("create internet gateway", err)
	}
	if igw.InternetGateway != nil {
		igwID = awssdk.ToString(igw.InternetGateway.InternetGatewayId)
	}
	if igwID == "" {
		return fail("create internet gateway", errors.New("empty internet gateway id"))
	}
	if _, err := c.EC2.CreateTags(ctx, &ec2.CreateTagsInput{Resources: []string{igwID}, Tags: nameTags(in.Name)}); err != nil {
		return fail("tag internet gateway", err)
	}
	if _, err := c.EC2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: awssdk.String(igwID),
		VpcId:             awssdk.String(vpcID),
	}); err != nil {
		return fail("attach internet gateway", err)
	}
	attached = true

	tables, err := c.EC2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{Filters: []ec2types.Filter{vpcFilter(vpcID)}})
	if err != nil {
		return fail("describe route tables", err)
	}
	routeTableID := mainRouteTable(tables.RouteTables)
	if routeTableID == "" {
		return fail("describe route tables", errors.New("vpc has no route table"))
	}
	if _, err := c.EC2.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         awssdk.String(routeTableID),
		DestinationCidrBlock: awssdk.String("0.0.0.0/0"),
		GatewayId:            awssdk.String(igwID),
	}); err != nil {
		return fail("create default route", err)
	}

	log.Info("network space ready", "internet_gateway_id", igwID, "route_table_id", routeTableID)
	return &NetworkSpaceResult{
		ProviderResourceID: vpcID,
		InternetGatewayID:  igwID,
		CIDRBlock:          in.CIDRBlock,
		Region:             c.Region,
	}, nil
}

// DeleteNetworkSpace detaches and deletes the internet gateway, then deletes the VPC.
func (d *NetworkDriver) DeleteNetworkSpace(ctx context.Context, region, vpcID, internetGatewayID string) error {
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return err
	}
	return d.teardown(ctx, c, vpcID, internetGatewayID, internetGatewayID != "")
}

func (d *NetworkDriver) teardown(ctx context.Context, c *Clients, vpcID, igwID string, attached bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	if igwID != "" {
		if attached {
			_, err := c.EC2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: awssdk.String(igwID),
				VpcId:             awssdk.String(vpcID),
			})
			if err != nil && !isNotFound(err) {
				errs = append(errs, wrap("detach internet gateway", err))
			}
		}
		if _, err := c.EC2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: awssdk.String(igwID)}); err != nil && !isNotFound(err) {
			errs = append(errs, wrap("delete internet gateway", err))
		}
	}
	if _, err := c.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: awssdk.String(vpcID)}); err != nil && !isNotFound(err) {
		errs = append(errs, wrap("delete vpc", err))
	}
	return errors.Join(errs...)
}

// CreateSubnet creates a subnet, waits until it is available and tags it.
func (d *NetworkDriver) CreateSubnet(ctx context.Context, in SubnetInput) (*SubnetResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("subnet name is required")
	}
	if strings.TrimSpace(in.NetworkSpaceID) == "" {
		return nil, invalid("network space id is required")
	}
	if _, err := netip.ParsePrefix(in.CIDRBlock); err != nil {
		return nil, invalid("cidr block %q: %v", in.CIDRBlock, err)
	}
	c, err := d.clients.Clients(ctx, in.Region)
	if err != nil {
		return nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     awssdk.String(in.NetworkSpaceID),
		CidrBlock: awssdk.String(in.CIDRBlock),
	}
	if in.AvailabilityZone != "" {
		input.AvailabilityZone = awssdk.String(in.AvailabilityZone)
	}
	out, err := c.EC2.CreateSubnet(ctx, input)
	if err != nil {
		return nil, wrap("create subnet", err)
	}
	if out.Subnet == nil || awssdk.ToString(out.Subnet.SubnetId) == "" {
		return nil, fmt.Errorf("create subnet: %w: empty subnet id", ErrProviderResource)
	}
	subnetID := awssdk.ToString(out.Subnet.SubnetId)
	zone := awssdk.ToString(out.Subnet.AvailabilityZone)
	if zone == "" {
		zone = in.AvailabilityZone
	}

	fail := func(op string, err error) (*SubnetResult, error) {
		err = wrap(op, err)
		if cerr := d.DeleteSubnet(ctx, in.Region, subnetID); cerr != nil {
			d.log.Error("subnet cleanup failed", "subnet_id", subnetID, "error", cerr)
			return nil, &ResourceError{ResourceID: subnetID, Err: err}
		}
		return nil, err
	}

	err = waitUntil(ctx, d.opts.Poll, d.opts.NetworkTimeout, "subnet "+subnetID+" available", func(ctx context.Context) (bool, error) {
		desc, err := c.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{subnetID}})
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, err
		}
		for _, s := range desc.Subnets {
			if s.State == ec2types.SubnetStateAvailable {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fail("wait for subnet", err)
	}

	if _, err := c.EC2.CreateTags(ctx, &ec2.CreateTagsInput{Resources: []string{subnetID}, Tags: nameTags(in.Name)}); err != nil {
		return fail("tag subnet", err)
	}

	d.log.Info("subnet ready", "region", in.Region, "vpc_id", in.NetworkSpaceID, "subnet_id", subnetID)
	return &SubnetResult{ProviderResourceID: subnetID, CIDRBlock: in.CIDRBlock, AvailabilityZone: zone}, nil
}

// DeleteSubnet removes a subnet. Missing subnets are not an error.
func (d *NetworkDriver) DeleteSubnet(ctx context.Context, region, subnetID string) error {
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := c.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: awssdk.String(subnetID)}); err != nil && !isNotFound(err) {
		return wrap("delete subnet", err)
	}
	return nil
}

func mainRouteTable(tables []ec2types.RouteTable) string {
	for _, rt := range tables {
		for _, assoc := range rt.Associations {
			if awssdk.ToBool(assoc.Main) {
				return awssdk.ToString(rt.RouteTableId)
			}
		}
	}
	if len(tables) > 0 {
		return awssdk.ToString(tables[0].RouteTableId)
	}
	return ""
}
