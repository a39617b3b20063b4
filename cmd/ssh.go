package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2instanceconnect"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"ssm-tunnel/ssmclient"
)

var (
	sshUseEC2IC     bool
	sshIdentityFile string
)

var sshCmd = &cobra.Command{
	Use:   "ssh <[user@]target[:port]>",
	Short: "Proxy an SSH connection through an instance session",
	Long: `Pump an SSH connection over an SSM session, reading from stdin and
writing to stdout.  Meant to be used as a ProxyCommand in ssh_config:

  Host i-*
    ProxyCommand ssm-tunnel ssh %r@%h:%p

With --ec2ic the SSH public key is provisioned on the instance through
EC2 Instance Connect before the session starts, so no key needs to be
pre-installed in the instance's authorized_keys.`,
	Args: cobra.ExactArgs(1),
	RunE: runSSH,
}

func init() {
	f := sshCmd.Flags()
	f.BoolVar(&sshUseEC2IC, "ec2ic", false, "send the SSH public key to the instance using EC2 Instance Connect")
	f.StringVarP(&sshIdentityFile, "identity-file", "i", "", "SSH private key whose public half is sent with --ec2ic")

	rootCmd.AddCommand(sshCmd)
}

func runSSH(cmd *cobra.Command, args []string) error {
	user, host, port := parseSSHTarget(args[0])

	ctx := cmd.Context()
	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return err
	}

	target, err := ssmclient.ResolveTarget(ctx, host, cfg)
	if err != nil {
		return fmt.Errorf("unable to resolve target %q: %w", host, err)
	}

	if sshUseEC2IC {
		if err = sendPublicKey(ctx, cfg, target, user); err != nil {
			return err
		}
	}

	return ssmclient.SSHSession(ctx, cfg, &ssmclient.PortForwardingInput{
		Target:     target,
		RemotePort: port,
	})
}

// parseSSHTarget splits a [user@]target[:port] spec.  The target part may
// itself contain colons (tag_key:tag_value), so only a trailing numeric
// element is treated as a port.
func parseSSHTarget(spec string) (user, host string, port int) {
	user = "ec2-user"
	port = 22

	if at := strings.LastIndex(spec, "@"); at >= 0 {
		if at > 0 {
			user = spec[:at]
		}
		spec = spec[at+1:]
	}

	parts := strings.Split(spec, ":")
	if len(parts) > 1 {
		if p, err := strconv.Atoi(parts[len(parts)-1]); err == nil && p > 0 && p <= 65535 {
			return user, strings.Join(parts[:len(parts)-1], ":"), p
		}
	}

	return user, spec, port
}

// sendPublicKey pushes the local SSH public key to the instance with EC2
// Instance Connect, valid for 60 seconds.
func sendPublicKey(ctx context.Context, cfg aws.Config, target, user string) error {
	pubKey, err := publicKey()
	if err != nil {
		return err
	}

	_, err = ec2instanceconnect.NewFromConfig(cfg).SendSSHPublicKey(ctx, &ec2instanceconnect.SendSSHPublicKeyInput{
		InstanceId:     aws.String(target),
		InstanceOSUser: aws.String(user),
		SSHPublicKey:   aws.String(pubKey),
	})
	if err != nil {
		return fmt.Errorf("unable to provision SSH public key: %w", err)
	}

	zap.S().Debugf("provisioned SSH public key for %s on %s", user, target)
	return nil
}

// publicKey derives the authorized_keys form of the public key from the
// identity file, or from the default key files when none was given.
func publicKey() (string, error) {
	candidates := []string{sshIdentityFile}
	if sshIdentityFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				// encrypted keys in the newer openssh format still carry
				// the public half in the clear
				if missing.PublicKey != nil {
					return string(ssh.MarshalAuthorizedKey(missing.PublicKey)), nil
				}
				// can't prompt here, try the next candidate
				continue
			}
			return "", err
		}

		return string(ssh.MarshalAuthorizedKey(signer.PublicKey())), nil
	}

	return "", errors.New("no usable SSH private key found, set --identity-file")
}
