package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/goatnetwork/bond-aevum/internal/bridge"
)

type Message[T any] struct {
	MessageType MessageType `json:"msg_type"`
	RequestId   string      `json:"request_id"`
	DataType    string      `json:"data_type"`
	Data        T           `json:"data"`
}

type HeartbeatMessage struct {
	PeerID    string `json:"peer_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"ts"`
}

type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeSigReq
	MessageTypeSigResp
	MessageTypeHeartbeat
)

const (
	dataTypeSignRequest  = "SignRequest"
	dataTypeSignResponse = "SignResponse"
	dataTypeHeartbeat    = "Heartbeat"
)

func unmarshal[T any](data json.RawMessage) (T, error) {
	var obj T
	if data == nil {
		return obj, fmt.Errorf("empty message data")
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return obj, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}

// convertMsgData decodes the payload of msg by its data type.
func convertMsgData(msg Message[json.RawMessage]) (any, error) {
	switch msg.DataType {
	case dataTypeSignRequest:
		return unmarshal[bridge.SignRequest](msg.Data)
	case dataTypeSignResponse:
		return unmarshal[bridge.SignResponse](msg.Data)
	case dataTypeHeartbeat:
		return unmarshal[HeartbeatMessage](msg.Data)
	}
	return unmarshal[any](msg.Data)
}
