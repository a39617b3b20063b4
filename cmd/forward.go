package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ssm-tunnel/awscli"
	"ssm-tunnel/ssmclient"
)

type forwardOptions struct {
	target       string
	host         string
	port         int
	localPort    int
	reason       string
	native       bool
	plugin       bool
	mux          bool
	pingInterval time.Duration
}

var forwardOpts forwardOptions

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Forward a local port to a remote host/port through an instance",
	Long: `Forward a local TCP port to a port on the target instance, or to a
remote host reachable from the instance's network when --host is set.

By default the session is delegated to the AWS CLI and its Session
Manager plugin, which must both be installed.  With --native the session
protocol is spoken in process and no external binaries are needed;
--native --mux serves multiple concurrent local connections.`,
	Example: `  ssm-tunnel forward --target i-0123456789abcdef0 --port 5432
  ssm-tunnel forward --target hostname:web0 --host db.internal --port 3306 --local-port 13306
  ssm-tunnel forward --target 10.1.2.3 --port 8080 --native --mux`,
	RunE: runForward,
}

func init() {
	f := forwardCmd.Flags()
	f.StringVarP(&forwardOpts.target, "target", "t", "", "target instance (ID, tag_key:tag_value, private IP, or DNS name)")
	f.StringVarP(&forwardOpts.host, "host", "H", "", "remote host to forward to, reachable from the instance (default: the instance itself)")
	f.IntVarP(&forwardOpts.port, "port", "p", 0, "remote port to forward to")
	f.IntVarP(&forwardOpts.localPort, "local-port", "l", 0, "local port to listen on (default: same as --port)")
	f.StringVar(&forwardOpts.reason, "reason", "", "reason recorded in the session history")
	f.BoolVar(&forwardOpts.native, "native", false, "speak the session protocol in process instead of running the AWS CLI")
	f.BoolVar(&forwardOpts.plugin, "plugin", false, "delegate to the embedded session-manager-plugin library")
	f.BoolVar(&forwardOpts.mux, "mux", false, "multiplex several local connections over one session (requires --native)")
	f.DurationVar(&forwardOpts.pingInterval, "ping-interval", 0, "dial the local port on this interval to keep an idle session alive (CLI mode only)")

	_ = forwardCmd.MarkFlagRequired("target")
	_ = forwardCmd.MarkFlagRequired("port")
	forwardCmd.MarkFlagsMutuallyExclusive("native", "plugin")

	rootCmd.AddCommand(forwardCmd)
}

func (o *forwardOptions) validate() error {
	if o.port < 1 || o.port > 65535 {
		return fmt.Errorf("invalid remote port %d", o.port)
	}

	if o.localPort == 0 && !o.native {
		// the CLI and plugin bind the local side themselves, give them a
		// concrete port
		o.localPort = o.port
	}
	if o.localPort < 0 || o.localPort > 65535 {
		return fmt.Errorf("invalid local port %d", o.localPort)
	}

	if o.mux && !o.native {
		return fmt.Errorf("--mux requires --native")
	}

	return nil
}

func runForward(cmd *cobra.Command, args []string) error {
	if err := forwardOpts.validate(); err != nil {
		return err
	}

	if !forwardOpts.native && !forwardOpts.plugin {
		if err := awscli.CheckPrerequisites(); err != nil {
			return err
		}
	}

	ctx := cmd.Context()

	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return err
	}

	target, err := ssmclient.ResolveTarget(ctx, forwardOpts.target, cfg)
	if err != nil {
		return fmt.Errorf("unable to resolve target %q: %w", forwardOpts.target, err)
	}

	if forwardOpts.host != "" {
		zap.S().Infof("forwarding localhost:%d to %s:%d via instance %s",
			forwardOpts.localPort, forwardOpts.host, forwardOpts.port, target)
	} else {
		zap.S().Infof("forwarding localhost:%d to port %d on instance %s",
			forwardOpts.localPort, forwardOpts.port, target)
	}

	in := &ssmclient.PortForwardingInput{
		Target:     target,
		RemoteHost: forwardOpts.host,
		RemotePort: forwardOpts.port,
		LocalPort:  forwardOpts.localPort,
		Reason:     forwardOpts.reason,
	}

	switch {
	case forwardOpts.native && forwardOpts.mux:
		return ssmclient.MuxPortForwardingSession(ctx, cfg, in)
	case forwardOpts.native:
		return ssmclient.PortForwardingSession(ctx, cfg, in)
	case forwardOpts.plugin:
		return ssmclient.PortPluginSession(ctx, cfg, in)
	default:
		return awscli.StartSession(ctx, &awscli.SessionSpec{
			Target:       target,
			RemoteHost:   forwardOpts.host,
			RemotePort:   forwardOpts.port,
			LocalPort:    forwardOpts.localPort,
			Region:       viper.GetString("region"),
			Profile:      viper.GetString("profile"),
			Reason:       forwardOpts.reason,
			PingInterval: forwardOpts.pingInterval,
		})
	}
}
