package handlers

import (
	"context"
	"time"

	"github.com/sage-x-project/compute-node/envelope"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
	"github.com/sage-x-project/compute-node/p2p"
)

// PingHandler answers liveness pings with a signed pong carrying the
// node's address and locally supported models.
type PingHandler struct{}

// ListenTopic is the topic pings arrive on.
func (PingHandler) ListenTopic() string { return envelope.TopicPing }

// OnRequest handles an inbound ping envelope. A past-deadline ping is
// ignored; otherwise a signed pong is published and the verdict is Accept.
func (PingHandler) OnRequest(ctx context.Context, c Context, msg envelope.Message) (p2p.Acceptance, error) {
	ping, err := envelope.ParsePayload[PingPayload](msg, true)
	if err != nil {
		return p2p.Ignore, nodeerr.New(nodeerr.Codec, "parse ping request", err)
	}

	if uint64(time.Now().UnixNano()) >= ping.Deadline {
		return p2p.Ignore, nil
	}

	models := make([]string, 0, len(c.Models()))
	for _, m := range c.Models() {
		models = append(models, m.Name)
	}

	pong := PongPayload{
		UUID:    ping.UUID,
		Address: c.AddressHex(),
		Models:  models,
		Version: c.Protocol(),
	}
	body, err := marshalJSON(pong)
	if err != nil {
		return p2p.Ignore, err
	}

	if err := publish(ctx, c, envelope.TopicPong, body); err != nil {
		return p2p.Ignore, err
	}

	return p2p.Accept, nil
}
