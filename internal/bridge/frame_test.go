package bridge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"outcome":"ok","token":"t1"}`)
	require.NoError(t, WriteFrame(&buf, FrameInvokeTest, payload))

	typ, got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameInvokeTest, typ)
	assert.Equal(t, payload, got)
}

func TestWriteReadFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameShutdown, nil))

	typ, got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameShutdown, typ)
	assert.Empty(t, got)
}

func TestDecodeResult_ValidPayload(t *testing.T) {
	rf, err := DecodeResult([]byte(`{"outcome":"ok","token":"t1","stdout":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", rf.Outcome)
	assert.Equal(t, "t1", rf.Token)
	assert.Equal(t, "hi", rf.Stdout)
}

func TestDecodeResult_RaisedWithTraceback(t *testing.T) {
	rf, err := DecodeResult([]byte(`{
		"outcome": "raised",
		"exception_type": "AssertionError",
		"message": "assert 1 == 2",
		"traceback": [{"file": "test_a.py", "line": 3, "name": "test_one"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "raised", rf.Outcome)
	require.Len(t, rf.Traceback, 1)
	assert.Equal(t, "test_a.py", rf.Traceback[0].File)
}

func TestDecodeResult_MissingRequiredField_Errors(t *testing.T) {
	_, err := DecodeResult([]byte(`{"token":"t1"}`))
	assert.Error(t, err)
}

func TestDecodeResult_InvalidEnumValue_Errors(t *testing.T) {
	_, err := DecodeResult([]byte(`{"outcome":"maybe"}`))
	assert.Error(t, err)
}

func TestDecodeResult_NotJSON_Errors(t *testing.T) {
	_, err := DecodeResult([]byte(`not json`))
	assert.Error(t, err)
}
