package ssmclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/session-manager-plugin/src/datachannel"
	"github.com/aws/session-manager-plugin/src/log"
	"github.com/aws/session-manager-plugin/src/sessionmanagerplugin/session"
	_ "github.com/aws/session-manager-plugin/src/sessionmanagerplugin/session/portsession"
	_ "github.com/aws/session-manager-plugin/src/sessionmanagerplugin/session/shellsession"
	"github.com/google/uuid"
)

// PluginSession hands the session over to the AWS-managed session manager
// plugin library, bypassing this module's own websocket and protocol code.
func PluginSession(ctx context.Context, cfg aws.Config, input *ssm.StartSessionInput) error {
	out, err := ssm.NewFromConfig(cfg).StartSession(ctx, input)
	if err != nil {
		return wrapStartSessionError(err)
	}

	ep, err := ssm.NewDefaultEndpointResolver().ResolveEndpoint(cfg.Region, ssm.EndpointResolverOptions{})
	if err != nil {
		return err
	}

	ssmSession := new(session.Session)
	ssmSession.SessionId = aws.ToString(out.SessionId)
	ssmSession.StreamUrl = aws.ToString(out.StreamUrl)
	ssmSession.TokenValue = aws.ToString(out.TokenValue)
	ssmSession.Endpoint = ep.URL
	ssmSession.ClientId = uuid.NewString()
	ssmSession.TargetId = aws.ToString(input.Target)
	ssmSession.DataChannel = &datachannel.DataChannel{}

	return ssmSession.Execute(log.Logger(false, ssmSession.ClientId))
}

// ShellPluginSession starts a shell session on the target, delegated to
// the plugin library.
func ShellPluginSession(ctx context.Context, cfg aws.Config, target string) error {
	return PluginSession(ctx, cfg, &ssm.StartSessionInput{Target: aws.String(target)})
}

// PortPluginSession starts a port forwarding session, delegated to the
// plugin library (which also binds the local listener).
func PortPluginSession(ctx context.Context, cfg aws.Config, opts *PortForwardingInput) error {
	return PluginSession(ctx, cfg, opts.StartSessionInput())
}
