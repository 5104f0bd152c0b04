package validation

// StartRequest is the payload for POST /v1/checkout/start
type StartRequest struct {
	UserID     string `json:"userId" validate:"required,notblank,max=128"`
	ProductKey string `json:"productKey" validate:"required,notblank,max=256"`
}

// TurnRequest is the payload for POST /v1/checkout/turn
type TurnRequest struct {
	UserID    string `json:"userId" validate:"required,notblank,max=128"`
	Utterance string `json:"utterance" validate:"required,notblank,max=4000"`
}

// UserRequest is the payload for POST /v1/checkout/complete and /cancel
type UserRequest struct {
	UserID string `json:"userId" validate:"required,notblank,max=128"`
}

// ChatMessage is one inbound websocket frame. The user comes from the
// connection, not the frame.
type ChatMessage struct {
	Type       string `json:"type" validate:"required,oneof=start turn complete cancel ping"`
	ProductKey string `json:"productKey,omitempty" validate:"max=256"`
	Utterance  string `json:"utterance,omitempty" validate:"max=4000"`
}
