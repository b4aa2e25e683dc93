package feed

import (
	"encoding/json"

	v1 "pulse/contracts/feed/v1"
)

func envelopeJSON(env v1.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (v1.Envelope, error) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}
