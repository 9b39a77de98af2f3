package vkforge

import (
	"fmt"
	"runtime"

	vk "github.com/vulkan-go/vulkan"
)

// ContractError marks a fatal contract violation: recording against a
// completed command list, an invalid (wrong-generation) resource id, a
// push constant outside [0,128] bytes or not a multiple of 4, a missing
// required queue family, or no viable surface format.
type ContractError struct {
	Op    string
	Cause error
}

func (e *ContractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vkforge: contract violation in %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("vkforge: contract violation in %s", e.Op)
}

func (e *ContractError) Unwrap() error { return e.Cause }

func newContractError(op string, cause error) *ContractError {
	return &ContractError{Op: op, Cause: cause}
}

// ResultError marks a recoverable failure: shader file not found, a shader
// compilation diagnostic, or a push-constant size exceeding a pipeline's
// configured cap. Message is human readable; no structured error code is
// required by spec.
type ResultError struct {
	Op      string
	Message string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("vkforge: %s: %s", e.Op, e.Message)
}

func newResultError(op, format string, args ...interface{}) *ResultError {
	return &ResultError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// isError reports whether ret is anything but vk.Success.
func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newVkError wraps a non-success vk.Result with the caller's frame, the
// way teacher errors.go did, minus the undefined newStackFrame helper it
// never actually compiled against.
func newVkError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return fmt.Errorf("vulkan error: %d at %s", ret, callerFrame(2))
}

// orPanic panics with err if non-nil.
func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// checkErr recovers a panic raised by orPanic (or any other panic) into
// *err, preserving a *ContractError type if that's what was panicked with.
func checkErr(err *error) {
	if v := recover(); v != nil {
		switch e := v.(type) {
		case *ContractError:
			*err = e
		case error:
			*err = newContractError(callerFrame(3), e)
		default:
			*err = newContractError(callerFrame(3), fmt.Errorf("%+v", v))
		}
	}
}

// callerFrame formats "func (file:line)" for the frame `skip` levels up
// from its own caller.
func callerFrame(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", name, file, line)
}
