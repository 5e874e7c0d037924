package aws

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/quarry-io/quarry/internal/provider"
)

type instanceConfig struct {
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instance_type"`
	SubnetID         string            `json:"subnet_id"`
	SecurityGroupIDs []string          `json:"security_group_ids"`
	KeyName          string            `json:"key_name"`
	UserData         string            `json:"user_data"`
	Tags             map[string]string `json:"tags"`
}

func (p *Provider) createInstance(ctx context.Context, props map[string]any) (string, provider.RemoteStatus, error) {
	var cfg instanceConfig
	if err := decodeProps(props, &cfg); err != nil {
		return "", "", err
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(cfg.AMI),
		InstanceType: types.InstanceType(cfg.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if cfg.SubnetID != "" {
		input.SubnetId = aws.String(cfg.SubnetID)
	}
	if len(cfg.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = cfg.SecurityGroupIDs
	}
	if cfg.KeyName != "" {
		input.KeyName = aws.String(cfg.KeyName)
	}
	if cfg.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(cfg.UserData)))
	}
	if len(cfg.Tags) > 0 {
		input.TagSpecifications = []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         ec2Tags(cfg.Tags),
		}}
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", "", err
	}
	// Instances boot asynchronously; the engine polls until running.
	return aws.ToString(resp.Instances[0].InstanceId), provider.StatusProvisioning, nil
}

func (p *Provider) deleteInstance(ctx context.Context, handle string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{handle},
	})
	return err
}

func (p *Provider) instanceStatus(ctx context.Context, handle string) (provider.RemoteStatus, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{handle},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return provider.StatusGone, nil
	}
	switch resp.Reservations[0].Instances[0].State.Name {
	case types.InstanceStateNameRunning:
		return provider.StatusReady, nil
	case types.InstanceStateNameTerminated, types.InstanceStateNameShuttingDown:
		return provider.StatusGone, nil
	case types.InstanceStateNamePending:
		return provider.StatusProvisioning, nil
	default:
		// stopped or stopping, which a fresh launch never reaches on its own
		return provider.StatusFailed, nil
	}
}
