package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/quarry-io/quarry/internal/provider"
)

type vpcConfig struct {
	CidrBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags"`
}

type subnetConfig struct {
	VpcID               string            `json:"vpc_id"`
	CidrBlock           string            `json:"cidr_block"`
	AvailabilityZone    string            `json:"availability_zone"`
	MapPublicIPOnLaunch bool              `json:"map_public_ip_on_launch"`
	Tags                map[string]string `json:"tags"`
}

type securityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []securityGroupRule `json:"ingress"`
	Tags        map[string]string   `json:"tags"`
}

type securityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks"`
}

type natGatewayConfig struct {
	SubnetID     string            `json:"subnet_id"`
	AllocationID string            `json:"allocation_id"`
	Tags         map[string]string `json:"tags"`
}

// decodeProps maps a generic property bag onto a typed config through its
// JSON tags.
func decodeProps(props map[string]any, out any) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}
	return nil
}

func ec2Tags(tags map[string]string) []types.Tag {
	var out []types.Tag
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func (p *Provider) syncTags(ctx context.Context, handle string, props map[string]any) error {
	var cfg struct {
		Tags map[string]string `json:"tags"`
	}
	if err := decodeProps(props, &cfg); err != nil {
		return err
	}
	if len(cfg.Tags) == 0 {
		return nil
	}
	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{handle},
		Tags:      ec2Tags(cfg.Tags),
	})
	return err
}

func (p *Provider) createVPC(ctx context.Context, props map[string]any) (string, provider.RemoteStatus, error) {
	var cfg vpcConfig
	if err := decodeProps(props, &cfg); err != nil {
		return "", "", err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(cfg.CidrBlock),
	})
	if err != nil {
		return "", "", err
	}
	vpcID := aws.ToString(resp.Vpc.VpcId)

	if len(cfg.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{vpcID},
			Tags:      ec2Tags(cfg.Tags),
		})
	}
	return vpcID, provider.StatusProvisioning, nil
}

func (p *Provider) deleteVPC(ctx context.Context, handle string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(handle)})
	return err
}

func (p *Provider) vpcStatus(ctx context.Context, handle string) (provider.RemoteStatus, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{handle}})
	if err != nil {
		return "", err
	}
	if len(resp.Vpcs) == 0 {
		return provider.StatusGone, nil
	}
	if resp.Vpcs[0].State == types.VpcStateAvailable {
		return provider.StatusReady, nil
	}
	return provider.StatusProvisioning, nil
}

func (p *Provider) createSubnet(ctx context.Context, props map[string]any) (string, provider.RemoteStatus, error) {
	var cfg subnetConfig
	if err := decodeProps(props, &cfg); err != nil {
		return "", "", err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     aws.String(cfg.VpcID),
		CidrBlock: aws.String(cfg.CidrBlock),
	}
	if cfg.AvailabilityZone != "" {
		input.AvailabilityZone = aws.String(cfg.AvailabilityZone)
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return "", "", err
	}
	subnetID := aws.ToString(resp.Subnet.SubnetId)

	if cfg.MapPublicIPOnLaunch {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            resp.Subnet.SubnetId,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}
	if len(cfg.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{subnetID},
			Tags:      ec2Tags(cfg.Tags),
		})
	}
	return subnetID, provider.StatusProvisioning, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, handle string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(handle)})
	return err
}

func (p *Provider) subnetStatus(ctx context.Context, handle string) (provider.RemoteStatus, error) {
	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{handle}})
	if err != nil {
		return "", err
	}
	if len(resp.Subnets) == 0 {
		return provider.StatusGone, nil
	}
	if resp.Subnets[0].State == types.SubnetStateAvailable {
		return provider.StatusReady, nil
	}
	return provider.StatusProvisioning, nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, props map[string]any) (string, provider.RemoteStatus, error) {
	var cfg securityGroupConfig
	if err := decodeProps(props, &cfg); err != nil {
		return "", "", err
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(cfg.Name),
		Description: aws.String(cfg.Description),
	}
	if cfg.VpcID != "" {
		input.VpcId = aws.String(cfg.VpcID)
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", "", err
	}
	groupID := aws.ToString(resp.GroupId)

	if err := p.authorizeIngress(ctx, groupID, cfg.Ingress); err != nil {
		return "", "", err
	}
	if len(cfg.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{groupID},
			Tags:      ec2Tags(cfg.Tags),
		})
	}
	return groupID, provider.StatusReady, nil
}

func (p *Provider) updateSecurityGroup(ctx context.Context, handle string, props map[string]any) error {
	var cfg securityGroupConfig
	if err := decodeProps(props, &cfg); err != nil {
		return err
	}

	// Re-sync rules: revoke everything currently authorized, then authorize
	// the desired set.
	desc, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{handle},
	})
	if err != nil {
		return err
	}
	if len(desc.SecurityGroups) > 0 && len(desc.SecurityGroups[0].IpPermissions) > 0 {
		_, err = p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(handle),
			IpPermissions: desc.SecurityGroups[0].IpPermissions,
		})
		if err != nil {
			return err
		}
	}
	return p.authorizeIngress(ctx, handle, cfg.Ingress)
}

func (p *Provider) authorizeIngress(ctx context.Context, groupID string, rules []securityGroupRule) error {
	if len(rules) == 0 {
		return nil
	}
	var perms []types.IpPermission
	for _, rule := range rules {
		var ipRanges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ipRanges = append(ipRanges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perms = append(perms, types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(int32(rule.FromPort)),
			ToPort:     aws.Int32(int32(rule.ToPort)),
			IpRanges:   ipRanges,
		})
	}
	_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: perms,
	})
	return err
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, handle string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(handle)})
	return err
}

func (p *Provider) securityGroupStatus(ctx context.Context, handle string) (provider.RemoteStatus, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{handle},
	})
	if err != nil {
		return "", err
	}
	if len(resp.SecurityGroups) == 0 {
		return provider.StatusGone, nil
	}
	// Security groups are usable as soon as they exist.
	return provider.StatusReady, nil
}

func (p *Provider) createNATGateway(ctx context.Context, props map[string]any) (string, provider.RemoteStatus, error) {
	var cfg natGatewayConfig
	if err := decodeProps(props, &cfg); err != nil {
		return "", "", err
	}

	input := &ec2.CreateNatGatewayInput{SubnetId: aws.String(cfg.SubnetID)}
	if cfg.AllocationID != "" {
		input.AllocationId = aws.String(cfg.AllocationID)
	}

	resp, err := p.ec2Client.CreateNatGateway(ctx, input)
	if err != nil {
		return "", "", err
	}
	natID := aws.ToString(resp.NatGateway.NatGatewayId)

	if len(cfg.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{natID},
			Tags:      ec2Tags(cfg.Tags),
		})
	}
	// NAT gateways take minutes to become available; the engine polls.
	return natID, provider.StatusProvisioning, nil
}

func (p *Provider) deleteNATGateway(ctx context.Context, handle string) error {
	_, err := p.ec2Client.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(handle)})
	return err
}

func (p *Provider) natGatewayStatus(ctx context.Context, handle string) (provider.RemoteStatus, error) {
	resp, err := p.ec2Client.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: []string{handle},
	})
	if err != nil {
		return "", err
	}
	if len(resp.NatGateways) == 0 {
		return provider.StatusGone, nil
	}
	switch resp.NatGateways[0].State {
	case types.NatGatewayStateAvailable:
		return provider.StatusReady, nil
	case types.NatGatewayStateFailed:
		return provider.StatusFailed, nil
	case types.NatGatewayStateDeleted:
		return provider.StatusGone, nil
	default:
		return provider.StatusProvisioning, nil
	}
}
