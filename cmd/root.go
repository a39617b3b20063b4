package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ssm-tunnel/config"
	"ssm-tunnel/logging"
)

var rootCmd = &cobra.Command{
	Use:   "ssm-tunnel",
	Short: "Port forwarding, shell and SSH sessions over AWS SSM",
	Long: `ssm-tunnel establishes sessions with EC2 instances through AWS Systems
Manager, without requiring inbound network access to the instance.

Targets can be an EC2 instance ID, a tag_key:tag_value pair uniquely
identifying an instance, the instance's private IPv4 address, or a DNS
name whose TXT record contains the instance ID.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(viper.GetBool("verbose"), viper.GetString("log-file"))
	},
}

// Execute runs the root command and exits non-zero on error.  When the
// error came from a delegated child process its exit status is passed
// through unchanged.  The first SIGINT or SIGTERM cancels the command
// context so sessions run their teardown, the second one kills us.
func Execute() {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ssm-tunnel: error: %v\n", err)

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, used
// as the root command context so every session type sees the signal.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("profile", "", "name of the AWS configuration profile to use")
	pf.String("region", "", "AWS region of the target instance")
	pf.String("role-arn", "", "IAM role to assume before starting the session")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.String("log-file", "", "also write a debug log to this file")

	_ = viper.BindPFlags(pf)

	viper.SetEnvPrefix("SSM_TUNNEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".ssm-tunnel")
		viper.SetConfigType("yaml")
		_ = viper.ReadInConfig()
	}
}

// loadAWSConfig builds the AWS configuration from the global flags and
// verifies the resolved credentials are usable.
func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := config.Load(ctx, config.Options{
		Profile: viper.GetString("profile"),
		Region:  viper.GetString("region"),
		RoleARN: viper.GetString("role-arn"),
	})
	if err != nil {
		return aws.Config{}, err
	}

	arn, err := config.VerifyCredentials(ctx, cfg)
	if err != nil {
		return aws.Config{}, err
	}
	zap.S().Debugf("authenticated as %s", arn)

	return cfg, nil
}
