package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/crypto/ssh"

	"github.com/barckcode/puyu-api/pkg/crypto"
)

// KeyPairResult describes a key pair whose private material is held in the secret store.
type KeyPairResult struct {
	Name        string
	Fingerprint string
	ObjectKey   string
	Sealed      bool
}

// KeyPairDriver creates ed25519 key pairs and stores their private material.
type KeyPairDriver struct {
	clients ClientSource
	opts    Options
	log     *slog.Logger
}

// NewKeyPairDriver constructs a KeyPairDriver.
func NewKeyPairDriver(clients ClientSource, opts Options) *KeyPairDriver {
	opts = opts.withDefaults()
	return &KeyPairDriver{clients: clients, opts: opts, log: opts.Logger.With("component", "keypair-driver")}
}

// ObjectKey returns the secret store key holding the private material of name.
func ObjectKey(name string) string {
	return name + ".pem"
}

// CreateKeyPair verifies the secret store, generates the key pair and uploads the private key.
// A store failure yields ErrSecretStore and leaves no key pair behind unless deletion also failed.
func (d *KeyPairDriver) CreateKeyPair(ctx context.Context, name, region string) (*KeyPairResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("key pair name is required")
	}
	if d.opts.SecretBucket == "" {
		return nil, fmt.Errorf("%w: secret bucket is not configured", ErrConfiguration)
	}
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return nil, err
	}

	if _, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awssdk.String(d.opts.SecretBucket)}); err != nil {
		return nil, secretStoreError("check secret bucket", err)
	}

	out, err := c.EC2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           awssdk.String(name),
		KeyType:           ec2types.KeyTypeEd25519,
		KeyFormat:         ec2types.KeyFormatPem,
		TagSpecifications: tagSpec(ec2types.ResourceTypeKeyPair, name),
	})
	if err != nil {
		return nil, wrap("create key pair", err)
	}
	material := awssdk.ToString(out.KeyMaterial)
	result := &KeyPairResult{
		Name:        name,
		Fingerprint: fingerprint(material, awssdk.ToString(out.KeyFingerprint)),
		ObjectKey:   ObjectKey(name),
	}

	payload := []byte(material)
	contentType := "application/x-pem-file"
	if d.opts.SealKey != "" {
		sealed, err := crypto.Seal(d.opts.SealKey, payload)
		if err != nil {
			return nil, d.abandon(ctx, c, name, fmt.Errorf("seal key material: %w: %w", ErrConfiguration, err))
		}
		payload = sealed
		contentType = "application/octet-stream"
		result.Sealed = true
	}

	_, err = c.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               awssdk.String(d.opts.SecretBucket),
		Key:                  awssdk.String(result.ObjectKey),
		Body:                 bytes.NewReader(payload),
		ContentType:          awssdk.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return nil, d.abandon(ctx, c, name, secretStoreError("upload private key", err))
	}

	d.log.Info("key pair ready", "region", region, "key_name", name, "fingerprint", result.Fingerprint)
	return result, nil
}

// DeleteKeyPair removes the provider key pair and its stored private key.
func (d *KeyPairDriver) DeleteKeyPair(ctx context.Context, name, region string) error {
	c, err := d.clients.Clients(ctx, region)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	if _, err := c.EC2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: awssdk.String(name)}); err != nil && !isNotFound(err) {
		errs = append(errs, wrap("delete key pair", err))
	}
	if d.opts.SecretBucket != "" {
		_, err := c.S3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: awssdk.String(d.opts.SecretBucket),
			Key:    awssdk.String(ObjectKey(name)),
		})
		if err != nil && !isNotFound(err) {
			errs = append(errs, secretStoreError("delete private key", err))
		}
	}
	return errors.Join(errs...)
}

// abandon deletes a key pair whose material could not be stored.
func (d *KeyPairDriver) abandon(ctx context.Context, c *Clients, name string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := c.EC2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: awssdk.String(name)}); err != nil && !isNotFound(err) {
		d.log.Error("key pair cleanup failed", "key_name", name, "error", err)
		return &ResourceError{ResourceID: name, Err: cause}
	}
	return cause
}

func secretStoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrSecretStore, err)
}

// fingerprint prefers the SHA256 fingerprint of the returned private key and falls back to the provider's value.
func fingerprint(material, fallback string) string {
	if material == "" {
		return fallback
	}
	signer, err := ssh.ParsePrivateKey([]byte(material))
	if err != nil {
		return fallback
	}
	return ssh.FingerprintSHA256(signer.PublicKey())
}
