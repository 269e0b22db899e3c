package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const defaultRootDevice = "/dev/xvda"

// MaxDiskSizeGB is the largest gp3 volume EBS accepts.
const MaxDiskSizeGB = 65536

// InstanceInput describes a single instance launch.
type InstanceInput struct {
	Name            string
	ImageID         string
	InstanceType    string
	KeyPairName     string
	SubnetID        string
	SecurityGroupID string
	DiskSizeGB      int
	Region          string
}

// InstanceResult is the provider view of a running instance.
type InstanceResult struct {
	ProviderResourceID string
	PublicIP           string
	PrivateIP          string
}

// InstanceDriver launches instances and waits until they are reachable.
type InstanceDriver struct {
	clients ClientSource
	opts    Options
	log     *slog.Logger
}

// NewInstanceDriver constructs an InstanceDriver.
func NewInstanceDriver(clients ClientSource, opts Options) *InstanceDriver {
	opts = opts.withDefaults()
	return &InstanceDriver{clients: clients, opts: opts, log: opts.Logger.With("component", "instance-driver")}
}

// CreateInstance launches one instance with a public address and a gp3 root volume,
// then waits for the running state and a public IP. Errors after launch carry the instance id.
func (d *InstanceDriver) CreateInstance(ctx context.Context, in InstanceInput) (*InstanceResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := d.clients.Clients(ctx, in.Region)
	if err != nil {
		return nil, err
	}

	rootDevice, err := d.rootDeviceName(ctx, c, in.ImageID)
	if err != nil {
		return nil, err
	}

	out, err := c.EC2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      awssdk.String(in.ImageID),
		InstanceType: ec2types.InstanceType(in.InstanceType),
		KeyName:      awssdk.String(in.KeyPairName),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		NetworkInterfaces: []ec2types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              awssdk.Int32(0),
			AssociatePublicIpAddress: awssdk.Bool(true),
			DeleteOnTermination:      awssdk.Bool(true),
			SubnetId:                 awssdk.String(in.SubnetID),
			Groups:                   []string{in.SecurityGroupID},
		}},
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{{
			DeviceName: awssdk.String(rootDevice),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          awssdk.Int32(int32(in.DiskSizeGB)),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: awssdk.Bool(true),
			},
		}},
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeInstance, Tags: nameTags(in.Name)},
			{ResourceType: ec2types.ResourceTypeVolume, Tags: nameTags(in.Name)},
		},
	})
	if err != nil {
		return nil, wrap("run instances", err)
	}
	if len(out.Instances) == 0 || awssdk.ToString(out.Instances[0].InstanceId) == "" {
		return nil, fmt.Errorf("run instances: %w: no instance returned", ErrProviderResource)
	}
	instanceID := awssdk.ToString(out.Instances[0].InstanceId)
	log := d.log.With("region", in.Region, "instance_id", instanceID)
	log.Info("instance launched", "image_id", in.ImageID, "instance_type", in.InstanceType)

	// Both waits share one deadline.
	waitCtx, cancel := context.WithTimeout(ctx, d.opts.InstanceTimeout)
	defer cancel()

	var current ec2types.Instance
	describe := func(ctx context.Context) (bool, error) {
		desc, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, err
		}
		for _, res := range desc.Reservations {
			for _, inst := range res.Instances {
				if awssdk.ToString(inst.InstanceId) == instanceID {
					current = inst
					return true, nil
				}
			}
		}
		return false, nil
	}

	err = waitUntil(waitCtx, d.opts.Poll, d.opts.InstanceTimeout, "instance "+instanceID+" running", func(ctx context.Context) (bool, error) {
		found, err := describe(ctx)
		if err != nil || !found || current.State == nil {
			return false, err
		}
		switch current.State.Name {
		case ec2types.InstanceStateNameRunning:
			return true, nil
		case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameStopped:
			return false, fmt.Errorf("%w: instance entered state %s", ErrProviderResource, current.State.Name)
		}
		return false, nil
	})
	if err != nil {
		return nil, &ResourceError{ResourceID: instanceID, Err: wrap("wait for instance running", err)}
	}

	err = waitUntil(waitCtx, d.opts.Poll, d.opts.InstanceTimeout, "instance "+instanceID+" public ip", func(ctx context.Context) (bool, error) {
		if awssdk.ToString(current.PublicIpAddress) != "" {
			return true, nil
		}
		found, err := describe(ctx)
		if err != nil || !found {
			return false, err
		}
		return awssdk.ToString(current.PublicIpAddress) != "", nil
	})
	if err != nil {
		return nil, &ResourceError{ResourceID: instanceID, Err: wrap("wait for public ip", err)}
	}

	result := &InstanceResult{
		ProviderResourceID: instanceID,
		PublicIP:           awssdk.ToString(current.PublicIpAddress),
		PrivateIP:          awssdk.ToString(current.PrivateIpAddress),
	}
	log.Info("instance ready", "public_ip", result.PublicIP, "private_ip", result.PrivateIP)
	return result, nil
}

// TerminateInstance terminates an instance and waits until it is gone, so its network
// interface no longer holds the security group. Missing instances are not an error.
func (d *InstanceDriver) TerminateInstance(ctx context.Context, region, instanceID string) error {
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout+d.opts.InstanceTimeout)
	defer cancel()
	if _, err := c.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return wrap("terminate instance", err)
	}

	err = waitUntil(ctx, d.opts.Poll, d.opts.InstanceTimeout, "instance "+instanceID+" terminated", func(ctx context.Context) (bool, error) {
		desc, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
		if err != nil {
			if isNotFound(err) {
				return true, nil
			}
			return false, err
		}
		for _, res := range desc.Reservations {
			for _, inst := range res.Instances {
				if awssdk.ToString(inst.InstanceId) == instanceID && inst.State != nil {
					return inst.State.Name == ec2types.InstanceStateNameTerminated, nil
				}
			}
		}
		return true, nil
	})
	if err != nil {
		return &ResourceError{ResourceID: instanceID, Err: wrap("wait for instance terminated", err)}
	}
	d.log.Info("instance terminated", "region", region, "instance_id", instanceID)
	return nil
}

func (d *InstanceDriver) rootDeviceName(ctx context.Context, c *Clients, imageID string) (string, error) {
	out, err := c.EC2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		if isImageNotFound(err) {
			return "", invalid("image %s not found", imageID)
		}
		return "", wrap("describe image", err)
	}
	for _, img := range out.Images {
		if name := awssdk.ToString(img.RootDeviceName); name != "" {
			return name, nil
		}
	}
	return defaultRootDevice, nil
}

func (in InstanceInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return invalid("instance name is required")
	case strings.TrimSpace(in.ImageID) == "":
		return invalid("image id is required")
	case strings.TrimSpace(in.InstanceType) == "":
		return invalid("instance type is required")
	case strings.TrimSpace(in.KeyPairName) == "":
		return invalid("key pair name is required")
	case strings.TrimSpace(in.SubnetID) == "":
		return invalid("subnet id is required")
	case strings.TrimSpace(in.SecurityGroupID) == "":
		return invalid("security group id is required")
	case in.DiskSizeGB <= 0 || in.DiskSizeGB > MaxDiskSizeGB:
		return invalid("disk size must be between 1 and %d GiB, got %d", MaxDiskSizeGB, in.DiskSizeGB)
	}
	return nil
}
