package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	field := "test_field"
	value := "test_value"
	reason := "invalid format"

	err := NewValidationError(field, value, reason)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), field)
	assert.Contains(t, err.Error(), value)
	assert.Contains(t, err.Error(), reason)
	assert.Contains(t, err.Error(), "validation error")
}

func TestNetworkError(t *testing.T) {
	operation := "connect"
	address := "localhost:8000"
	cause := errors.New("connection refused")

	err := NewNetworkError(operation, address, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), address)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "network error")
}

func TestFileSystemError(t *testing.T) {
	operation := "read"
	path := "/test/file.txt"
	cause := errors.New("file not found")

	err := NewFileSystemError(operation, path, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "file system error")
}

func TestProtocolError(t *testing.T) {
	operation := "command_read"
	message := "invalid command"
	cause := errors.New("unknown command byte")

	err := NewProtocolError(operation, message, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), message)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "protocol error")
}

func TestCompressionError(t *testing.T) {
	operation := "compress"
	cause := errors.New("compression failed")

	err := NewCompressionError(operation, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "compression error")
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("validate_flags", "recursive requires a directory source")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validate_flags")
	assert.Contains(t, err.Error(), "recursive requires a directory source")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConnectError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewConnectError("open_data_channel", "10.0.0.5:9009", cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "open_data_channel")
	assert.Contains(t, err.Error(), "10.0.0.5:9009")
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, cause)
}

func TestAuthError(t *testing.T) {
	err := NewAuthError("open_receiver", "10.0.0.5:51342")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nonce mismatch")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestIoError(t *testing.T) {
	cause := errors.New("no space left on device")
	err := NewIoError("write_chunk", "/data/out.bin", cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write_chunk")
	assert.Contains(t, err.Error(), "/data/out.bin")
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, cause)
}

func TestVerifyError(t *testing.T) {
	err := NewVerifyError("/data/out.bin", "abc123", "def456")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "abc123")
	assert.Contains(t, err.Error(), "def456")
	assert.ErrorIs(t, err, ErrVerify)
}
