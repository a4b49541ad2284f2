// Package signaling is a minimal client for exchanging WebRTC offer/answer/
// ICE-candidate messages over a websocket, bootstrapping one
// internal/transport WebRTC stream. Spec.md §1 places the ICE
// configuration/signaling service itself out of scope ("Transport... ICE
// configuration service" is listed as an external collaborator); only the
// client edge that carries the handshake is ours.
//
// Grounded on the n0remac-robot-webrtc SFU's websocket signaling message
// (other_examples: Offer/Answer/Candidate carried as a single tagged JSON
// struct over *websocket.Conn), adapted to the simpler two-peer exchange
// Tango needs instead of an SFU's multi-publisher signaling.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// Message is the single tagged envelope every signaling exchange sends,
// mirroring the SFU example's Offer/Answer/Candidate struct.
type Message struct {
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Client is a thin wrapper over a websocket connection used only to
// exchange the handful of signaling messages needed to open one data
// channel; it is not a general-purpose signaling server client.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a signaling server at url (typically ws:// or wss://).
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the underlying websocket connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendOffer writes an offer message.
func (c *Client) SendOffer(offer webrtc.SessionDescription) error {
	return c.send(Message{Offer: &offer})
}

// SendAnswer writes an answer message.
func (c *Client) SendAnswer(answer webrtc.SessionDescription) error {
	return c.send(Message{Answer: &answer})
}

// SendCandidate writes a trickled ICE candidate.
func (c *Client) SendCandidate(cand webrtc.ICECandidateInit) error {
	return c.send(Message{Candidate: &cand})
}

func (c *Client) send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signaling: marshal message: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("signaling: write message: %w", err)
	}

	return nil
}

// Recv blocks for the next signaling message.
func (c *Client) Recv() (Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("signaling: read message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("signaling: unmarshal message: %w", err)
	}

	return msg, nil
}

// Negotiate runs the full offerer-side exchange over an already-open
// PeerConnection with a local data channel created: send our offer, await
// the answer, set it as the remote description. Trickled candidates
// received meanwhile are applied as they arrive.
func (c *Client) Negotiate(pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("signaling: create offer: %w", err)
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("signaling: set local description: %w", err)
	}

	if err := c.SendOffer(offer); err != nil {
		return err
	}

	for {
		msg, err := c.Recv()
		if err != nil {
			return err
		}

		switch {
		case msg.Answer != nil:
			return pc.SetRemoteDescription(*msg.Answer)
		case msg.Candidate != nil:
			if err := pc.AddICECandidate(*msg.Candidate); err != nil {
				return fmt.Errorf("signaling: add ICE candidate: %w", err)
			}
		}
	}
}

// AwaitOffer runs the answerer side: blocks for an offer, sets it as the
// remote description, creates and sends an answer.
func (c *Client) AwaitOffer(pc *webrtc.PeerConnection) error {
	for {
		msg, err := c.Recv()
		if err != nil {
			return err
		}

		if msg.Candidate != nil {
			if err := pc.AddICECandidate(*msg.Candidate); err != nil {
				return fmt.Errorf("signaling: add ICE candidate: %w", err)
			}
			continue
		}

		if msg.Offer == nil {
			continue
		}

		if err := pc.SetRemoteDescription(*msg.Offer); err != nil {
			return fmt.Errorf("signaling: set remote description: %w", err)
		}

		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("signaling: create answer: %w", err)
		}

		if err := pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("signaling: set local description: %w", err)
		}

		return c.SendAnswer(answer)
	}
}
