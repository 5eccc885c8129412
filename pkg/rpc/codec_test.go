package rpc

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	first, err := NewEnvelope("r1", MessageTypeWorkerInit, WorkerInitRequest{
		HostVersion:     "4.0",
		ProtocolVersion: "1",
	})
	require.NoError(t, err)
	second, err := NewEnvelope("r2", MessageTypeInvocationRequest, InvocationRequest{
		InvocationID: "inv-1",
		FunctionID:   "f1",
		InputData:    []ParameterBinding{{Name: "req", Data: StringValue("ping")}},
	})
	require.NoError(t, err)

	require.NoError(t, enc.Encode(first))
	require.NoError(t, enc.Encode(second))

	// One JSON document per line.
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	dec := NewDecoder(&buf)

	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, MessageTypeWorkerInit, got.Type)

	got, err = dec.Decode()
	require.NoError(t, err)
	var inv InvocationRequest
	require.NoError(t, ParseContent(got.Content, &inv))
	assert.Equal(t, "inv-1", inv.InvocationID)
	assert.Equal(t, "ping", inv.InputData[0].Data.String)

	_, err = dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n"))
	_, err := dec.Decode()
	assert.Error(t, err)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"requestId":"r1"}` + "\n"))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no message type")
}

func TestDecodeToleratesUnknownType(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"requestId":"r1","type":"SOME_FUTURE_THING"}` + "\n"))
	env, err := dec.Decode()
	require.NoError(t, err)
	assert.False(t, env.Type.Known())
}

func TestDecoderFrameSizeCap(t *testing.T) {
	big := `{"requestId":"r1","type":"RPC_LOG","content":{"message":"` +
		strings.Repeat("x", 2048) + `"}}` + "\n"

	dec := NewDecoderSize(strings.NewReader(big), 256)
	_, err := dec.Decode()
	assert.Error(t, err)

	dec = NewDecoderSize(strings.NewReader(big), 1<<20)
	_, err = dec.Decode()
	assert.NoError(t, err)
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	enc := NewEncoder(io.Discard)
	err := enc.Encode(Envelope{RequestID: "r1"})
	assert.Error(t, err)
}
