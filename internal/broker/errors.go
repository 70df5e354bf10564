package broker

import "github.com/yenjordan/terminus/internal/apperror"

// toFrame translates an apperror at the broker boundary into the wire-level
// error frame. Interior packages never construct Frames themselves.
func toFrame(err error) Frame {
	code := apperror.CodeOf(err)
	return errorFrame(string(code), err.Error())
}

// toCloseCode translates a fatal apperror into its WebSocket close code.
func toCloseCode(err error) int {
	return apperror.CodeOf(err).CloseCode()
}
