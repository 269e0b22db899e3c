package aws

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/crypto/ssh"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

type staticSource struct {
	clients *Clients
}

func (s staticSource) Clients(_ context.Context, region string) (*Clients, error) {
	if region == "" {
		return nil, invalid("region is required")
	}
	c := *s.clients
	c.Region = region
	return &c, nil
}

func newSource(e *fakeEC2, s *fakeS3) staticSource {
	return staticSource{clients: &Clients{EC2: e, S3: s}}
}

func testOptions() Options {
	return Options{
		Poll:            PollConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		NetworkTimeout:  time.Second,
		InstanceTimeout: time.Second,
		SecretBucket:    "puyu-secrets",
	}
}

// fakeEC2 records calls and simulates the lifecycle of created resources.
type fakeEC2 struct {
	mu    sync.Mutex
	calls []string
	seq   int

	fail map[string]error

	// describe calls before a resource reports ready
	pendingPolls      int
	instanceNeverRuns bool
	publicIPPolls     int
	rootDevice        string
	images            []ec2types.Image

	// time-based lifecycle, used instead of poll counts when runningAfter is set
	runningAfter time.Duration
	noPublicIP   bool
	launched     map[string]time.Time

	// instances keep their security group in use until terminated
	instanceGroup  map[string]string
	terminatePolls int
	terminating    map[string]int
	terminated     map[string]bool

	describeCount map[string]int

	runInput     *ec2.RunInstancesInput
	ingressInput *ec2.AuthorizeSecurityGroupIngressInput
	egressInput  *ec2.AuthorizeSecurityGroupEgressInput
	subnetInput  *ec2.CreateSubnetInput
	routeInput   *ec2.CreateRouteInput
	sgInput      *ec2.CreateSecurityGroupInput
	imagesInput  *ec2.DescribeImagesInput
	tagged       map[string]string
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		fail:          make(map[string]error),
		describeCount: make(map[string]int),
		tagged:        make(map[string]string),
		launched:      make(map[string]time.Time),
		instanceGroup: make(map[string]string),
		terminating:   make(map[string]int),
		terminated:    make(map[string]bool),
	}
}

func (f *fakeEC2) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeEC2) nextID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%04d", prefix, f.seq)
}

func (f *fakeEC2) polls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCount[key]++
	return f.describeCount[key]
}

func (f *fakeEC2) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEC2) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeEC2) CreateVpc(_ context.Context, in *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	if err := f.record("CreateVpc"); err != nil {
		return nil, err
	}
	return &ec2.CreateVpcOutput{Vpc: &ec2types.Vpc{VpcId: awssdk.String(f.nextID("vpc")), CidrBlock: in.CidrBlock, State: ec2types.VpcStatePending}}, nil
}

func (f *fakeEC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if err := f.record("DescribeVpcs"); err != nil {
		return nil, err
	}
	state := ec2types.VpcStatePending
	if f.polls(in.VpcIds[0]) > f.pendingPolls {
		state = ec2types.VpcStateAvailable
	}
	return &ec2.DescribeVpcsOutput{Vpcs: []ec2types.Vpc{{VpcId: awssdk.String(in.VpcIds[0]), State: state}}}, nil
}

func (f *fakeEC2) DeleteVpc(context.Context, *ec2.DeleteVpcInput, ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	if err := f.record("DeleteVpc"); err != nil {
		return nil, err
	}
	return &ec2.DeleteVpcOutput{}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	if err := f.record("CreateTags"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Resources {
		for _, tag := range in.Tags {
			if awssdk.ToString(tag.Key) == "Name" {
				f.tagged[id] = awssdk.ToString(tag.Value)
			}
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) CreateInternetGateway(context.Context, *ec2.CreateInternetGatewayInput, ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	if err := f.record("CreateInternetGateway"); err != nil {
		return nil, err
	}
	return &ec2.CreateInternetGatewayOutput{InternetGateway: &ec2types.InternetGateway{InternetGatewayId: awssdk.String(f.nextID("igw"))}}, nil
}

func (f *fakeEC2) AttachInternetGateway(context.Context, *ec2.AttachInternetGatewayInput, ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	if err := f.record("AttachInternetGateway"); err != nil {
		return nil, err
	}
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DetachInternetGateway(context.Context, *ec2.DetachInternetGatewayInput, ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	if err := f.record("DetachInternetGateway"); err != nil {
		return nil, err
	}
	return &ec2.DetachInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DeleteInternetGateway(context.Context, *ec2.DeleteInternetGatewayInput, ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	if err := f.record("DeleteInternetGateway"); err != nil {
		return nil, err
	}
	return &ec2.DeleteInternetGatewayOutput{}, nil
}

func (f *fakeEC2) DescribeRouteTables(context.Context, *ec2.DescribeRouteTablesInput, ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	if err := f.record("DescribeRouteTables"); err != nil {
		return nil, err
	}
	return &ec2.DescribeRouteTablesOutput{RouteTables: []ec2types.RouteTable{
		{RouteTableId: awssdk.String("rtb-other")},
		{RouteTableId: awssdk.String("rtb-main"), Associations: []ec2types.RouteTableAssociation{{Main: awssdk.Bool(true)}}},
	}}, nil
}

func (f *fakeEC2) CreateRoute(_ context.Context, in *ec2.CreateRouteInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	if err := f.record("CreateRoute"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.routeInput = in
	f.mu.Unlock()
	return &ec2.CreateRouteOutput{Return: awssdk.Bool(true)}, nil
}

func (f *fakeEC2) CreateSubnet(_ context.Context, in *ec2.CreateSubnetInput, _ ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	if err := f.record("CreateSubnet"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subnetInput = in
	f.mu.Unlock()
	return &ec2.CreateSubnetOutput{Subnet: &ec2types.Subnet{
		SubnetId:         awssdk.String(f.nextID("subnet")),
		AvailabilityZone: in.AvailabilityZone,
		CidrBlock:        in.CidrBlock,
		State:            ec2types.SubnetStatePending,
	}}, nil
}

func (f *fakeEC2) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if err := f.record("DescribeSubnets"); err != nil {
		return nil, err
	}
	state := ec2types.SubnetStatePending
	if f.polls(in.SubnetIds[0]) > f.pendingPolls {
		state = ec2types.SubnetStateAvailable
	}
	return &ec2.DescribeSubnetsOutput{Subnets: []ec2types.Subnet{{SubnetId: awssdk.String(in.SubnetIds[0]), State: state}}}, nil
}

func (f *fakeEC2) DeleteSubnet(context.Context, *ec2.DeleteSubnetInput, ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	if err := f.record("DeleteSubnet"); err != nil {
		return nil, err
	}
	return &ec2.DeleteSubnetOutput{}, nil
}

func (f *fakeEC2) CreateKeyPair(_ context.Context, in *ec2.CreateKeyPairInput, _ ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error) {
	if err := f.record("CreateKeyPair"); err != nil {
		return nil, err
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, err
	}
	return &ec2.CreateKeyPairOutput{
		KeyName:        in.KeyName,
		KeyPairId:      awssdk.String(f.nextID("key")),
		KeyFingerprint: awssdk.String("provider-fingerprint"),
		KeyMaterial:    awssdk.String(string(pem.EncodeToMemory(block))),
	}, nil
}

func (f *fakeEC2) DeleteKeyPair(context.Context, *ec2.DeleteKeyPairInput, ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
	if err := f.record("DeleteKeyPair"); err != nil {
		return nil, err
	}
	return &ec2.DeleteKeyPairOutput{}, nil
}

func (f *fakeEC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	if err := f.record("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sgInput = in
	f.mu.Unlock()
	return &ec2.CreateSecurityGroupOutput{GroupId: awssdk.String(f.nextID("sg"))}, nil
}

func (f *fakeEC2) DeleteSecurityGroup(_ context.Context, in *ec2.DeleteSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	if err := f.record("DeleteSecurityGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, group := range f.instanceGroup {
		if group == awssdk.ToString(in.GroupId) && !f.terminated[id] {
			return nil, apiError("DependencyViolation")
		}
	}
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	if err := f.record("AuthorizeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.ingressInput = in
	f.mu.Unlock()
	return &ec2.AuthorizeSecurityGroupIngressOutput{
		Return:             awssdk.Bool(true),
		SecurityGroupRules: []ec2types.SecurityGroupRule{{SecurityGroupRuleId: awssdk.String(f.nextID("sgr"))}},
	}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupEgress(_ context.Context, in *ec2.AuthorizeSecurityGroupEgressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupEgressOutput, error) {
	if err := f.record("AuthorizeSecurityGroupEgress"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.egressInput = in
	f.mu.Unlock()
	return &ec2.AuthorizeSecurityGroupEgressOutput{
		Return:             awssdk.Bool(true),
		SecurityGroupRules: []ec2types.SecurityGroupRule{{SecurityGroupRuleId: awssdk.String(f.nextID("sgr"))}},
	}, nil
}

func (f *fakeEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	if err := f.record("RunInstances"); err != nil {
		return nil, err
	}
	id := f.nextID("i")
	f.mu.Lock()
	f.runInput = in
	f.launched[id] = time.Now()
	for _, nic := range in.NetworkInterfaces {
		for _, group := range nic.Groups {
			f.instanceGroup[id] = group
		}
	}
	f.mu.Unlock()
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{
		InstanceId: awssdk.String(id),
		State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
	}}}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if err := f.record("DescribeInstances"); err != nil {
		return nil, err
	}
	id := in.InstanceIds[0]
	inst := ec2types.Instance{
		InstanceId:       awssdk.String(id),
		PrivateIpAddress: awssdk.String("10.255.0.10"),
		State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
	}
	f.mu.Lock()
	remaining, stopping := f.terminating[id]
	switch {
	case f.terminated[id]:
		inst.State.Name = ec2types.InstanceStateNameTerminated
	case stopping && remaining > 0:
		f.terminating[id]--
		inst.State.Name = ec2types.InstanceStateNameShuttingDown
	case stopping:
		f.terminated[id] = true
		inst.State.Name = ec2types.InstanceStateNameTerminated
	}
	launched := f.launched[id]
	done := f.terminated[id]
	f.mu.Unlock()
	if stopping || done {
		return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{inst}}}}, nil
	}

	if f.runningAfter > 0 {
		if time.Since(launched) >= f.runningAfter {
			inst.State.Name = ec2types.InstanceStateNameRunning
			if !f.noPublicIP {
				inst.PublicIpAddress = awssdk.String("203.0.113.10")
			}
		}
		return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{inst}}}}, nil
	}

	n := f.polls(id)
	if !f.instanceNeverRuns && n > f.pendingPolls {
		inst.State.Name = ec2types.InstanceStateNameRunning
		if n > f.pendingPolls+f.publicIPPolls {
			inst.PublicIpAddress = awssdk.String("203.0.113.10")
		}
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{inst}}}}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if err := f.record("TerminateInstances"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.InstanceIds {
		if _, ok := f.terminating[id]; !ok && !f.terminated[id] {
			f.terminating[id] = f.terminatePolls
		}
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeImages(_ context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if err := f.record("DescribeImages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.imagesInput = in
	f.mu.Unlock()
	if len(in.ImageIds) > 0 {
		img := ec2types.Image{ImageId: awssdk.String(in.ImageIds[0])}
		if f.rootDevice != "" {
			img.RootDeviceName = awssdk.String(f.rootDevice)
		}
		return &ec2.DescribeImagesOutput{Images: []ec2types.Image{img}}, nil
	}
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

// fakeS3 stores uploaded objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{fail: make(map[string]error), objects: make(map[string][]byte)}
}

func (f *fakeS3) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.record("HeadBucket"); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.record("PutObject"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[awssdk.ToString(in.Key)] = body
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.record("DeleteObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	delete(f.objects, awssdk.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}
