package postgres

import (
	"context"

	"github.com/barckcode/puyu-api/internal/domain"
)

// CreateKeyPair inserts a key pair. One key pair exists per project and region.
func (r *Repository) CreateKeyPair(ctx context.Context, keyPair *domain.KeyPair) error {
	const query = `INSERT INTO key_pairs (name, fingerprint, secret_object_key, region, project_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		keyPair.Name,
		keyPair.Fingerprint,
		keyPair.SecretObjectKey,
		keyPair.Region,
		keyPair.ProjectID,
	).Scan(&keyPair.ID, &keyPair.CreatedAt)
	return mapError(err)
}

// GetKeyPair returns the key pair of a project in a region.
func (r *Repository) GetKeyPair(ctx context.Context, projectID int64, region string) (*domain.KeyPair, error) {
	const query = `SELECT id, name, fingerprint, secret_object_key, region, project_id, created_at
		FROM key_pairs WHERE project_id = $1 AND region = $2`
	var k domain.KeyPair
	err := r.pool.QueryRow(ctx, query, projectID, region).Scan(
		&k.ID, &k.Name, &k.Fingerprint, &k.SecretObjectKey, &k.Region, &k.ProjectID, &k.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &k, nil
}

// ListKeyPairs lists key pairs of a project.
func (r *Repository) ListKeyPairs(ctx context.Context, projectID int64, region string) ([]domain.KeyPair, error) {
	const query = `SELECT id, name, fingerprint, secret_object_key, region, project_id, created_at
		FROM key_pairs
		WHERE project_id = $1 AND ($2 = '' OR region = $2)
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keyPairs := make([]domain.KeyPair, 0)
	for rows.Next() {
		var k domain.KeyPair
		if err := rows.Scan(&k.ID, &k.Name, &k.Fingerprint, &k.SecretObjectKey, &k.Region, &k.ProjectID, &k.CreatedAt); err != nil {
			return nil, err
		}
		keyPairs = append(keyPairs, k)
	}
	return keyPairs, rows.Err()
}

// DeleteKeyPair removes a key pair row.
func (r *Repository) DeleteKeyPair(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, `DELETE FROM key_pairs WHERE id = $1`, id)
}

// CreateSecurityGroup inserts a security group.
func (r *Repository) CreateSecurityGroup(ctx context.Context, group *domain.SecurityGroup) error {
	const query = `INSERT INTO security_groups (name, provider_resource_id, network_space_id, region, project_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		group.Name,
		group.ProviderResourceID,
		group.NetworkSpaceID,
		group.Region,
		group.ProjectID,
	).Scan(&group.ID, &group.CreatedAt)
	return mapError(err)
}

// ListSecurityGroups lists security groups of a project.
func (r *Repository) ListSecurityGroups(ctx context.Context, projectID int64, region string) ([]domain.SecurityGroup, error) {
	const query = `SELECT g.id, g.name, g.provider_resource_id, g.network_space_id, g.region, g.project_id, g.created_at,
			n.provider_resource_id
		FROM security_groups g
		INNER JOIN network_spaces n ON n.id = g.network_space_id
		WHERE g.project_id = $1 AND ($2 = '' OR g.region = $2)
		ORDER BY g.id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.SecurityGroup, 0)
	for rows.Next() {
		var g domain.SecurityGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.ProviderResourceID, &g.NetworkSpaceID, &g.Region, &g.ProjectID, &g.CreatedAt, &g.NetworkSpaceProviderID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteSecurityGroup removes a security group and its rules.
func (r *Repository) DeleteSecurityGroup(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, `DELETE FROM security_groups WHERE id = $1`, id)
}

// CreateSecurityGroupRule inserts a rule. Unknown directions are rejected by the table check.
func (r *Repository) CreateSecurityGroupRule(ctx context.Context, rule *domain.SecurityGroupRule) error {
	const query = `INSERT INTO security_group_rules (direction, provider_resource_id, security_group_id, port, protocol, cidr_ip, region, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		rule.Direction,
		rule.ProviderResourceID,
		rule.SecurityGroupID,
		rule.Port,
		rule.Protocol,
		rule.CIDRIP,
		rule.Region,
		rule.ProjectID,
	).Scan(&rule.ID, &rule.CreatedAt)
	return mapError(err)
}

// ListSecurityGroupRules lists rules of a project.
func (r *Repository) ListSecurityGroupRules(ctx context.Context, projectID int64, region string) ([]domain.SecurityGroupRule, error) {
	const query = `SELECT sr.id, sr.direction, sr.provider_resource_id, sr.security_group_id, sr.port, sr.protocol, sr.cidr_ip,
			sr.region, sr.project_id, sr.created_at, g.provider_resource_id
		FROM security_group_rules sr
		INNER JOIN security_groups g ON g.id = sr.security_group_id
		WHERE sr.project_id = $1 AND ($2 = '' OR sr.region = $2)
		ORDER BY sr.id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.SecurityGroupRule, 0)
	for rows.Next() {
		var sr domain.SecurityGroupRule
		if err := rows.Scan(
			&sr.ID, &sr.Direction, &sr.ProviderResourceID, &sr.SecurityGroupID, &sr.Port, &sr.Protocol, &sr.CIDRIP,
			&sr.Region, &sr.ProjectID, &sr.CreatedAt, &sr.SecurityGroupProviderID,
		); err != nil {
			return nil, err
		}
		rules = append(rules, sr)
	}
	return rules, rows.Err()
}

// CreateInstance inserts an instance.
func (r *Repository) CreateInstance(ctx context.Context, instance *domain.Instance) error {
	const query = `INSERT INTO instances (name, provider_resource_id, disk_size_gb, public_ip, private_ip, key_pair_id,
			instance_type, image_id, subnet_id, security_group_id, region, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		instance.Name,
		instance.ProviderResourceID,
		instance.DiskSizeGB,
		instance.PublicIP,
		instance.PrivateIP,
		instance.KeyPairID,
		instance.InstanceType,
		instance.ImageID,
		instance.SubnetID,
		instance.SecurityGroupID,
		instance.Region,
		instance.ProjectID,
	).Scan(&instance.ID, &instance.CreatedAt)
	return mapError(err)
}

// ListInstances lists instances of a project.
func (r *Repository) ListInstances(ctx context.Context, projectID int64, region string) ([]domain.Instance, error) {
	const query = `SELECT id, name, provider_resource_id, disk_size_gb, public_ip, private_ip, key_pair_id,
			instance_type, image_id, subnet_id, security_group_id, region, project_id, created_at
		FROM instances
		WHERE project_id = $1 AND ($2 = '' OR region = $2)
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]domain.Instance, 0)
	for rows.Next() {
		var i domain.Instance
		if err := rows.Scan(
			&i.ID, &i.Name, &i.ProviderResourceID, &i.DiskSizeGB, &i.PublicIP, &i.PrivateIP, &i.KeyPairID,
			&i.InstanceType, &i.ImageID, &i.SubnetID, &i.SecurityGroupID, &i.Region, &i.ProjectID, &i.CreatedAt,
		); err != nil {
			return nil, err
		}
		instances = append(instances, i)
	}
	return instances, rows.Err()
}
