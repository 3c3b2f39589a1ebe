package p2p

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/bridge"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgDecode(t *testing.T) {
	originMsg := Message[any]{
		MessageType: MessageTypeHeartbeat,
		RequestId:   "test",
		DataType:    dataTypeHeartbeat,
		Data: HeartbeatMessage{
			PeerID:    "100",
			Message:   "test",
			Timestamp: time.Now().Unix(),
		},
	}

	data, err := json.Marshal(originMsg)
	require.NoError(t, err)

	rawMsg := Message[json.RawMessage]{}
	require.NoError(t, json.Unmarshal(data, &rawMsg))

	decoded, err := convertMsgData(rawMsg)
	require.NoError(t, err)
	msg := Message[any]{
		MessageType: rawMsg.MessageType,
		RequestId:   rawMsg.RequestId,
		DataType:    rawMsg.DataType,
		Data:        decoded,
	}
	assert.Equal(t, originMsg, msg)
}

func TestConvertMsgData(t *testing.T) {
	tests := []struct {
		name     string
		dataType string
		data     any
	}{
		{"request", dataTypeSignRequest, bridge.SignRequest{
			RequestID: "req-1",
			Lock:      types.ChainBond,
			Target:    types.ChainAevum,
			Tx:        []byte{1, 2, 3},
		}},
		{"response", dataTypeSignResponse, bridge.SignResponse{
			RequestID: "req-1",
			Signer:    2,
			Signature: []byte{4, 5, 6},
		}},
		{"refusal", dataTypeSignResponse, bridge.SignResponse{
			RequestID: "req-2",
			Signer:    1,
			Error:     "INVALID_ARGUMENT: lock has 1 of 6 confirmations",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Message[any]{MessageType: MessageTypeSigReq, RequestId: "x", DataType: tt.dataType, Data: tt.data})
			require.NoError(t, err)

			var raw Message[json.RawMessage]
			require.NoError(t, json.Unmarshal(data, &raw))
			decoded, err := convertMsgData(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.data, decoded)
		})
	}

	_, err := convertMsgData(Message[json.RawMessage]{DataType: dataTypeSignRequest})
	assert.Error(t, err)
}
