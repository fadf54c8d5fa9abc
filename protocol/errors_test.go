package protocol

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestTransportErrorMessage(t *testing.T) {
	err := ConnectionClosedError("connection lost", io.EOF, map[string]interface{}{
		"port":    1776,
		"address": "db:1776",
	})
	assert.Equal(t, "[1005] connection lost (address=db:1776, port=1776)", err.Error())
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, err.Temporary())

	assert.Equal(t, "[2001] empty command", FramingError("empty command", nil).Error())
}

func TestTransportErrorTemporary(t *testing.T) {
	assert.True(t, TimeoutError("i/o timeout", nil, nil).Temporary())
	assert.True(t, ConnectionError("refused", nil, nil).Temporary())
	assert.False(t, FramingError("bad", nil).Temporary())
}

func TestDecodeCommandFramingErrors(t *testing.T) {
	for _, data := range [][]byte{[]byte("SELECT 1"), {EOT}} {
		_, _, err := DecodeCommand(data)
		var te *TransportError
		if assert.True(t, errors.As(err, &te), "%q", data) {
			assert.Equal(t, ErrorCodeFraming, te.Code)
		}
	}
}
