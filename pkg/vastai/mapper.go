package vastai

import (
	"encoding/json"

	"github.com/vastai-client/vastai-go/internal/metrics"
)

// The map* helpers sit between the gateway and the decoders so every
// schema rejection is counted once.

func (c *Client) mapOffers(raw json.RawMessage) ([]Offer, error) {
	offers, err := decodeOffers(raw)
	if err != nil {
		metrics.RecordSchemaFailure("offer")
		return nil, err
	}
	return offers, nil
}

func (c *Client) mapInstances(raw json.RawMessage) ([]Instance, error) {
	instances, err := decodeInstances(raw)
	if err != nil {
		metrics.RecordSchemaFailure("instance")
		return nil, err
	}
	return instances, nil
}

func (c *Client) mapInstance(raw json.RawMessage) (*Instance, error) {
	inst, err := decodeInstance(raw)
	if err != nil {
		metrics.RecordSchemaFailure("instance")
		return nil, err
	}
	return &inst, nil
}
