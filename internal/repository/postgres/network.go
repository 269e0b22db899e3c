package postgres

import (
	"context"

	"github.com/barckcode/puyu-api/internal/domain"
)

// CreateNetworkSpace inserts a network space. A second space for the same project and region yields ErrConflict.
func (r *Repository) CreateNetworkSpace(ctx context.Context, space *domain.NetworkSpace) error {
	const query = `INSERT INTO network_spaces (name, provider_resource_id, internet_gateway_id, cidr_block, region, project_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		space.Name,
		space.ProviderResourceID,
		space.InternetGatewayID,
		space.CIDRBlock,
		space.Region,
		space.ProjectID,
	).Scan(&space.ID, &space.CreatedAt)
	return mapError(err)
}

// GetNetworkSpace returns the network space of a project in a region.
func (r *Repository) GetNetworkSpace(ctx context.Context, projectID int64, region string) (*domain.NetworkSpace, error) {
	const query = `SELECT id, name, provider_resource_id, internet_gateway_id, cidr_block, region, project_id, created_at
		FROM network_spaces WHERE project_id = $1 AND region = $2`
	var s domain.NetworkSpace
	err := r.pool.QueryRow(ctx, query, projectID, region).Scan(
		&s.ID, &s.Name, &s.ProviderResourceID, &s.InternetGatewayID, &s.CIDRBlock, &s.Region, &s.ProjectID, &s.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

// ListNetworkSpaces lists network spaces of a project. An empty region matches all regions.
func (r *Repository) ListNetworkSpaces(ctx context.Context, projectID int64, region string) ([]domain.NetworkSpace, error) {
	const query = `SELECT id, name, provider_resource_id, internet_gateway_id, cidr_block, region, project_id, created_at
		FROM network_spaces
		WHERE project_id = $1 AND ($2 = '' OR region = $2)
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	spaces := make([]domain.NetworkSpace, 0)
	for rows.Next() {
		var s domain.NetworkSpace
		if err := rows.Scan(&s.ID, &s.Name, &s.ProviderResourceID, &s.InternetGatewayID, &s.CIDRBlock, &s.Region, &s.ProjectID, &s.CreatedAt); err != nil {
			return nil, err
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// DeleteNetworkSpace removes a network space row.
func (r *Repository) DeleteNetworkSpace(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, `DELETE FROM network_spaces WHERE id = $1`, id)
}

// CreateSubnet inserts a subnet.
func (r *Repository) CreateSubnet(ctx context.Context, subnet *domain.Subnet) error {
	const query = `INSERT INTO subnets (name, provider_resource_id, cidr_block, network_space_id, availability_zone, region, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		subnet.Name,
		subnet.ProviderResourceID,
		subnet.CIDRBlock,
		subnet.NetworkSpaceID,
		subnet.AvailabilityZone,
		subnet.Region,
		subnet.ProjectID,
	).Scan(&subnet.ID, &subnet.CreatedAt)
	return mapError(err)
}

const subnetColumns = `s.id, s.name, s.provider_resource_id, s.cidr_block, s.network_space_id, s.availability_zone,
	s.region, s.project_id, s.created_at, n.provider_resource_id`

// GetSubnetByNetworkSpace returns the first subnet created inside a network space.
func (r *Repository) GetSubnetByNetworkSpace(ctx context.Context, networkSpaceID int64) (*domain.Subnet, error) {
	const query = `SELECT ` + subnetColumns + `
		FROM subnets s
		INNER JOIN network_spaces n ON n.id = s.network_space_id
		WHERE s.network_space_id = $1
		ORDER BY s.id
		LIMIT 1`
	var s domain.Subnet
	err := r.pool.QueryRow(ctx, query, networkSpaceID).Scan(
		&s.ID, &s.Name, &s.ProviderResourceID, &s.CIDRBlock, &s.NetworkSpaceID, &s.AvailabilityZone,
		&s.Region, &s.ProjectID, &s.CreatedAt, &s.NetworkSpaceProviderID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

// ListSubnets lists subnets of a project.
func (r *Repository) ListSubnets(ctx context.Context, projectID int64, region string) ([]domain.Subnet, error) {
	const query = `SELECT ` + subnetColumns + `
		FROM subnets s
		INNER JOIN network_spaces n ON n.id = s.network_space_id
		WHERE s.project_id = $1 AND ($2 = '' OR s.region = $2)
		ORDER BY s.id`
	rows, err := r.pool.Query(ctx, query, projectID, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subnets := make([]domain.Subnet, 0)
	for rows.Next() {
		var s domain.Subnet
		if err := rows.Scan(
			&s.ID, &s.Name, &s.ProviderResourceID, &s.CIDRBlock, &s.NetworkSpaceID, &s.AvailabilityZone,
			&s.Region, &s.ProjectID, &s.CreatedAt, &s.NetworkSpaceProviderID,
		); err != nil {
			return nil, err
		}
		subnets = append(subnets, s)
	}
	return subnets, rows.Err()
}

// DeleteSubnet removes a subnet row.
func (r *Repository) DeleteSubnet(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, `DELETE FROM subnets WHERE id = $1`, id)
}
