// Package aws adapts the provisioning API to EC2 for the resource kinds a
// VPC deployment needs: VPCs, subnets, security groups, NAT gateways and
// instances.
package aws

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/provider"
)

type Provider struct {
	ec2Client *ec2.Client
}

// New builds an EC2-backed provider for the given region using the default
// credential chain.
func New(region string) (*Provider, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &Provider{ec2Client: ec2.NewFromConfig(cfg)}, nil
}

func (p *Provider) Create(ctx context.Context, typ ir.Kind, props map[string]any) (string, provider.RemoteStatus, error) {
	var (
		handle string
		status provider.RemoteStatus
		err    error
	)
	switch typ {
	case ir.KindVPC:
		handle, status, err = p.createVPC(ctx, props)
	case ir.KindSubnet:
		handle, status, err = p.createSubnet(ctx, props)
	case ir.KindSecurityGroup:
		handle, status, err = p.createSecurityGroup(ctx, props)
	case ir.KindNATGateway:
		handle, status, err = p.createNATGateway(ctx, props)
	case ir.KindInstance:
		handle, status, err = p.createInstance(ctx, props)
	default:
		return "", "", errs.NewProviderError("", "create", false,
			fmt.Errorf("resource type %q is not supported by the aws provider", typ))
	}
	if err != nil {
		return "", "", classify("create", err)
	}
	return handle, status, nil
}

func (p *Provider) Update(ctx context.Context, handle string, typ ir.Kind, props map[string]any) (provider.RemoteStatus, error) {
	var err error
	switch typ {
	case ir.KindVPC, ir.KindSubnet, ir.KindNATGateway, ir.KindInstance:
		err = p.syncTags(ctx, handle, props)
	case ir.KindSecurityGroup:
		err = p.updateSecurityGroup(ctx, handle, props)
	default:
		return "", errs.NewProviderError(handle, "update", false,
			fmt.Errorf("resource type %q is not supported by the aws provider", typ))
	}
	if err != nil {
		return "", classify("update", err)
	}
	return provider.StatusProvisioning, nil
}

func (p *Provider) Delete(ctx context.Context, handle string, typ ir.Kind) (provider.RemoteStatus, error) {
	var err error
	switch typ {
	case ir.KindVPC:
		err = p.deleteVPC(ctx, handle)
	case ir.KindSubnet:
		err = p.deleteSubnet(ctx, handle)
	case ir.KindSecurityGroup:
		err = p.deleteSecurityGroup(ctx, handle)
	case ir.KindNATGateway:
		err = p.deleteNATGateway(ctx, handle)
	case ir.KindInstance:
		err = p.deleteInstance(ctx, handle)
	default:
		return "", errs.NewProviderError(handle, "delete", false,
			fmt.Errorf("resource type %q is not supported by the aws provider", typ))
	}
	if err != nil {
		if isNotFound(err) {
			return provider.StatusGone, nil
		}
		return "", classify("delete", err)
	}
	return provider.StatusProvisioning, nil
}

func (p *Provider) GetStatus(ctx context.Context, handle string, typ ir.Kind) (provider.RemoteStatus, error) {
	var (
		status provider.RemoteStatus
		err    error
	)
	switch typ {
	case ir.KindVPC:
		status, err = p.vpcStatus(ctx, handle)
	case ir.KindSubnet:
		status, err = p.subnetStatus(ctx, handle)
	case ir.KindSecurityGroup:
		status, err = p.securityGroupStatus(ctx, handle)
	case ir.KindNATGateway:
		status, err = p.natGatewayStatus(ctx, handle)
	case ir.KindInstance:
		status, err = p.instanceStatus(ctx, handle)
	default:
		return "", errs.NewProviderError(handle, "status", false,
			fmt.Errorf("resource type %q is not supported by the aws provider", typ))
	}
	if err != nil {
		if isNotFound(err) {
			return provider.StatusGone, nil
		}
		return "", classify("status", err)
	}
	return status, nil
}

// classify wraps an EC2 API error, marking throttling and connectivity
// failures transient so the engine retries them.
func classify(op string, err error) error {
	return errs.NewProviderError("", op, isTransient(err), err)
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"i/o timeout",
	"temporary failure",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var notFoundPatterns = []string{
	"notfound",
	".malformed",
	"does not exist",
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range notFoundPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
