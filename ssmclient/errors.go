package ssmclient

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// wrapStartSessionError translates the common SSM StartSession API
// failures into messages that name the actual fix.
func wrapStartSessionError(err error) error {
	var tnc *types.TargetNotConnected
	if errors.As(err, &tnc) {
		return fmt.Errorf("target is not connected to SSM (check that the instance is running, "+
			"has the SSM agent installed, and its instance profile allows ssmmessages): %w", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException":
			return fmt.Errorf("not authorized to start the session (check the ssm:StartSession "+
				"policy for this document and target): %w", err)
		case "InvalidDocument":
			return fmt.Errorf("session document not available in this region: %w", err)
		}
	}

	return err
}
