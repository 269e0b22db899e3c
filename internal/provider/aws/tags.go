package aws

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const managedByTag = "puyu:managed-by"

func nameTags(name string) []ec2types.Tag {
	return []ec2types.Tag{
		{Key: awssdk.String("Name"), Value: awssdk.String(name)},
		{Key: awssdk.String(managedByTag), Value: awssdk.String("puyu-api")},
	}
}

func tagSpec(resource ec2types.ResourceType, name string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{{ResourceType: resource, Tags: nameTags(name)}}
}

func vpcFilter(vpcID string) ec2types.Filter {
	return ec2types.Filter{Name: awssdk.String("vpc-id"), Values: []string{vpcID}}
}
