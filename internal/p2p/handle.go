package p2p

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/bridge"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	log "github.com/sirupsen/logrus"
)

func handleHandshake(s network.Stream, node host.Host) {
	buf := make([]byte, 1024)
	n, err := s.Read(buf)
	if err != nil {
		log.Errorf("Error reading handshake message: %v", err)
		return
	}

	if !bytes.Equal(buf[:n], []byte(expectedHandshake)) {
		log.Warn("Invalid handshake message received, closing connection")
		_ = s.Reset()
		_ = node.Network().ClosePeer(s.Conn().RemotePeer())
		return
	}

	log.Debugf("Handshake with %s successful", s.Conn().RemotePeer())
}

func (n *Network) handlePubSubMessages(sub *pubsub.Subscription) {
	defer sub.Cancel()

	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				n.logger.Errorf("Error receiving pubsub message: %v", err)
				continue
			}
		}

		if msg.GetFrom() == n.host.ID() {
			continue
		}
		if err := n.checkWhitelisted(msg.GetFrom()); err != nil {
			n.logger.Errorf("Whitelisted check failed: %v", err)
			continue
		}

		var receivedMsg Message[json.RawMessage]
		if err := json.Unmarshal(msg.Data, &receivedMsg); err != nil {
			n.logger.Errorf("Error unmarshaling pubsub message: %v", err)
			continue
		}
		n.logger.Debugf("Received message via pubsub: type=%d, RequestId=%s", receivedMsg.MessageType, receivedMsg.RequestId)

		if err := n.dispatch(receivedMsg); err != nil {
			n.logger.Warnf("Dropping message %s from %s: %v", receivedMsg.RequestId, msg.GetFrom(), err)
		}
	}
}

func (n *Network) dispatch(msg Message[json.RawMessage]) error {
	data, err := convertMsgData(msg)
	if err != nil {
		return err
	}

	switch msg.MessageType {
	case MessageTypeSigReq:
		req, ok := data.(bridge.SignRequest)
		if !ok {
			return fmt.Errorf("sign request carries %s", msg.DataType)
		}
		if n.handler == nil {
			return nil
		}
		go n.respond(&req)
	case MessageTypeSigResp:
		resp, ok := data.(bridge.SignResponse)
		if !ok {
			return fmt.Errorf("sign response carries %s", msg.DataType)
		}
		n.deliver(&resp)
	case MessageTypeHeartbeat:
		if hb, ok := data.(HeartbeatMessage); ok {
			n.logger.Debugf("Received heartbeat from %s: %s", hb.PeerID, hb.Message)
		}
	default:
		return fmt.Errorf("unknown message type %d", msg.MessageType)
	}
	return nil
}

// respond signs a remote request with the local validator and publishes the answer.
func (n *Network) respond(req *bridge.SignRequest) {
	resp := n.handler.Sign(req)
	msg := Message[any]{
		MessageType: MessageTypeSigResp,
		RequestId:   req.RequestID,
		DataType:    dataTypeSignResponse,
		Data:        resp,
	}
	if err := n.BroadcastMessage(msg); err != nil {
		n.logger.Errorf("Failed to publish response to %s: %v", req.RequestID, err)
	}
}

// startHeartbeat logs connectivity and reconnects to boot nodes when isolated.
func (n *Network) startHeartbeat() {
	interval := n.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers := n.GetPeers()
			n.logger.Infof("Heartbeat: Currently connected to %d peers, %d topic peers", len(peers), len(n.TopicPeers()))

			if len(peers) == 0 {
				n.logger.Warnf("No peers connected, attempting to reconnect to bootstrap peers...")
				if err := n.connectToBootstrapPeers(n.ctx); err != nil {
					n.logger.Errorf("Failed to reconnect to bootstrap peers: %v", err)
				}
				continue
			}

			msg := Message[any]{
				RequestId:   fmt.Sprintf("hb-%d", time.Now().UnixNano()),
				MessageType: MessageTypeHeartbeat,
				DataType:    dataTypeHeartbeat,
				Data: HeartbeatMessage{
					PeerID:    n.host.ID().String(),
					Message:   "heartbeat",
					Timestamp: time.Now().Unix(),
				},
			}
			if err := n.BroadcastMessage(msg); err != nil {
				n.logger.Errorf("Failed to publish heartbeat: %v", err)
			}
		}
	}
}
