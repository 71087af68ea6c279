package binfish

import (
	"fmt"
)

// Application global variables
var (
	srvStats               Stats
	errorResponseHandler   ResponseHandler
	successResponseHandler ResponseHandler
)

// Output of the error hook command. By default it is only logged when the command fails.
var (
	OutputHookStdout bool
	OutputHookStderr bool
)

// InitErrorResponseHandler initialize error response handler.
func InitErrorResponseHandler(erh ResponseHandler) error {
	if erh != nil {
		errorResponseHandler = erh
		return nil
	}
	return fmt.Errorf("Invalid response handler: %v", erh)
}

// InitSuccessResponseHandler initialize success response handler.
func InitSuccessResponseHandler(sh ResponseHandler) error {
	if sh != nil {
		successResponseHandler = sh
		return nil
	}
	return fmt.Errorf("Invalid response handler: %v", sh)
}
