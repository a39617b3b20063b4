// Package config loads AWS client configuration for the tool, layering
// named profiles, region overrides and optional role assumption on top of
// the SDK's default credential chain.
package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

// Options are the user-supplied knobs for building the AWS configuration.
type Options struct {
	Profile string
	Region  string
	RoleARN string
}

// Load builds the AWS configuration from the default chain plus the given
// options.  A named profile is validated against the shared config files
// first so a typo produces a list of valid names instead of an opaque SDK
// error.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error

	if opts.Profile != "" {
		if err := validateProfile(opts.Profile); err != nil {
			return aws.Config{}, err
		}
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("no AWS region configured, set --region, AWS_REGION, or a profile region")
	}

	if opts.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleARN)
		cfg.Credentials = aws.NewCredentialsCache(provider)
		zap.S().Debugf("assuming role %s", opts.RoleARN)
	}

	return cfg, nil
}

// VerifyCredentials resolves the configured credentials with STS so that
// authentication problems surface before a session is attempted.  Returns
// the caller ARN.
func VerifyCredentials(ctx context.Context, cfg aws.Config) (string, error) {
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("unable to verify AWS credentials: %w", err)
	}

	return aws.ToString(out.Arn), nil
}

// ListProfiles returns the sorted profile names found in the AWS shared
// config and credentials files.
func ListProfiles() ([]string, error) {
	names := make(map[string]struct{})

	if err := readProfiles(awsconfig.DefaultSharedConfigFilename(), true, names); err != nil {
		return nil, err
	}
	if err := readProfiles(awsconfig.DefaultSharedCredentialsFilename(), false, names); err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(names))
	for name := range names {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)

	return profiles, nil
}

// readProfiles collects profile names from one ini file.  Sections in the
// shared config file are named "profile <name>" (except default); the
// credentials file uses bare names.
func readProfiles(path string, isConfig bool, names map[string]struct{}) error {
	f, err := ini.Load(path)
	if err != nil {
		// a missing file just contributes no profiles
		return nil
	}

	for _, section := range f.SectionStrings() {
		switch {
		case section == ini.DefaultSection:
			continue
		case section == "default":
			names["default"] = struct{}{}
		case isConfig && strings.HasPrefix(section, "profile "):
			names[strings.TrimPrefix(section, "profile ")] = struct{}{}
		case !isConfig:
			names[section] = struct{}{}
		}
	}

	return nil
}

func validateProfile(profile string) error {
	profiles, err := ListProfiles()
	if err != nil || len(profiles) == 0 {
		// nothing to validate against, let the SDK decide
		return nil
	}

	for _, p := range profiles {
		if p == profile {
			return nil
		}
	}

	return fmt.Errorf("profile %q not found in AWS config, available profiles: %s",
		profile, strings.Join(profiles, ", "))
}
