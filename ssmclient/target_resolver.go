package ssmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTargetFormat is returned when the target doesn't match the
	// format expected by a resolver.
	ErrInvalidTargetFormat = errors.New("invalid target format")
	// ErrNoInstanceFound is returned when no resolver could map the target
	// to an EC2 instance.
	ErrNoInstanceFound = errors.New("no instances returned from lookup")

	instanceIDRegexp = regexp.MustCompile(`^i-[[:xdigit:]]{8,}$`)
	ipv4Regexp       = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// TargetResolver knows how to map a target spec to an EC2 instance ID.
type TargetResolver interface {
	Resolve(context.Context, string) (string, error)
}

// ResolveTarget finds the instance ID for target using the default
// resolution order: literal instance ID, EC2 tag lookup, private IPv4
// lookup, then DNS TXT record.
func ResolveTarget(ctx context.Context, target string, cfg aws.Config) (string, error) {
	return ResolveTargetChain(ctx, target, NewTagResolver(cfg), NewIPResolver(cfg), NewDNSResolver())
}

// ResolveTargetChain finds the instance ID for target using the provided
// resolvers in order.  A target already in instance ID format is returned
// as-is.  A resolver error moves resolution on to the next resolver; if
// all fail, ErrNoInstanceFound is returned.
func ResolveTargetChain(ctx context.Context, target string, resolvers ...TargetResolver) (string, error) {
	if instanceIDRegexp.MatchString(target) {
		return target, nil
	}

	for _, res := range resolvers {
		id, err := res.Resolve(ctx, target)
		if err != nil {
			continue
		}
		return id, nil
	}
	return "", ErrNoInstanceFound
}

// NewTagResolver returns a TargetResolver which finds an EC2 instance by
// tag, using a tag_key:tag_value target spec (ex. hostname:web0).
func NewTagResolver(cfg aws.Config) TargetResolver {
	return &tagResolver{ec2Resolver{cfg: cfg}}
}

// NewIPResolver returns a TargetResolver which finds an EC2 instance by
// its private IPv4 address.
func NewIPResolver(cfg aws.Config) TargetResolver {
	return &ipResolver{ec2Resolver{cfg: cfg}}
}

// NewDNSResolver returns a TargetResolver which finds an EC2 instance via
// a DNS TXT record whose value is the instance ID.
func NewDNSResolver() TargetResolver {
	return new(dnsResolver)
}

type dnsResolver bool

func (r *dnsResolver) Resolve(ctx context.Context, target string) (string, error) {
	rr, err := net.DefaultResolver.LookupTXT(ctx, strings.TrimSpace(target))
	if err != nil {
		return "", err
	}

	for _, rec := range rr {
		if instanceIDRegexp.MatchString(rec) {
			return rec, nil
		}
	}

	return "", ErrNoInstanceFound
}

type tagResolver struct {
	ec2Resolver
}

func (r *tagResolver) Resolve(ctx context.Context, target string) (string, error) {
	spec := strings.SplitN(strings.TrimSpace(target), `:`, 2)
	if len(spec) < 2 {
		return "", ErrInvalidTargetFormat
	}

	return r.lookup(ctx, types.Filter{
		Name:   aws.String(fmt.Sprintf("tag:%s", spec[0])),
		Values: []string{spec[1]},
	})
}

type ipResolver struct {
	ec2Resolver
}

func (r *ipResolver) Resolve(ctx context.Context, target string) (string, error) {
	trimmed := strings.TrimSpace(target)
	if !ipv4Regexp.MatchString(trimmed) {
		return "", ErrInvalidTargetFormat
	}

	return r.lookup(ctx, types.Filter{
		Name:   aws.String("private-ip-address"),
		Values: []string{trimmed},
	})
}

// ec2Resolver calls the EC2 DescribeInstances API with a filter.  If more
// than one instance matches, the first instance ID in the list is used;
// the EC2 API does not guarantee ordering.
type ec2Resolver struct {
	cfg aws.Config
}

func (r *ec2Resolver) lookup(ctx context.Context, filter types.Filter) (string, error) {
	out, err := ec2.NewFromConfig(r.cfg).DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{filter},
	})
	if err != nil {
		return "", err
	}

	for _, res := range out.Reservations {
		if len(res.Instances) > 0 {
			if len(res.Instances) > 1 {
				zap.S().Warn("more than 1 instance found, using 1st value")
			}

			return aws.ToString(res.Instances[0].InstanceId), nil
		}
	}

	return "", ErrNoInstanceFound
}
