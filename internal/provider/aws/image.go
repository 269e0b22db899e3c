package aws

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// ImageQuery filters machine images.
type ImageQuery struct {
	Region       string
	Name         string
	Architecture string
	Owners       []string
}

// Image is a machine image summary.
type Image struct {
	ID             string `json:"image_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Architecture   string `json:"architecture"`
	OwnerID        string `json:"owner_id"`
	RootDeviceName string `json:"root_device_name,omitempty"`
	CreationDate   string `json:"creation_date,omitempty"`
	Platform       string `json:"platform,omitempty"`
}

// ImageDriver searches machine images.
type ImageDriver struct {
	clients ClientSource
	log     *slog.Logger
}

// NewImageDriver constructs an ImageDriver.
func NewImageDriver(clients ClientSource, opts Options) *ImageDriver {
	opts = opts.withDefaults()
	return &ImageDriver{clients: clients, log: opts.Logger.With("component", "image-driver")}
}

// SearchImages returns available images whose name contains q.Name, newest first.
func (d *ImageDriver) SearchImages(ctx context.Context, q ImageQuery) ([]Image, error) {
	name := strings.TrimSpace(q.Name)
	if name == "" {
		return nil, invalid("image name is required")
	}
	arch := strings.TrimSpace(q.Architecture)
	if arch == "" {
		return nil, invalid("architecture is required")
	}
	c, err := d.clients.Clients(ctx, q.Region)
	if err != nil {
		return nil, err
	}

	input := &ec2.DescribeImagesInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("name"), Values: []string{"*" + name + "*"}},
			{Name: awssdk.String("architecture"), Values: []string{arch}},
			{Name: awssdk.String("state"), Values: []string{"available"}},
		},
		Owners: q.Owners,
	}
	out, err := c.EC2.DescribeImages(ctx, input)
	if err != nil {
		return nil, wrap("describe images", err)
	}

	images := make([]Image, 0, len(out.Images))
	for _, img := range out.Images {
		images = append(images, Image{
			ID:             awssdk.ToString(img.ImageId),
			Name:           awssdk.ToString(img.Name),
			Description:    awssdk.ToString(img.Description),
			Architecture:   string(img.Architecture),
			OwnerID:        awssdk.ToString(img.OwnerId),
			RootDeviceName: awssdk.ToString(img.RootDeviceName),
			CreationDate:   awssdk.ToString(img.CreationDate),
			Platform:       awssdk.ToString(img.PlatformDetails),
		})
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].CreationDate > images[j].CreationDate })
	d.log.Debug("image search", "region", c.Region, "name", name, "architecture", arch, "results", len(images))
	return images, nil
}

func isImageNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "InvalidAMIID.NotFound" || code == "InvalidAMIID.Malformed"
}
