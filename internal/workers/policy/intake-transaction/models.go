package intaketransaction

import "encoding/json"

type Input struct {
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	ExternalID string          `json:"externalId"`
	Payload    json.RawMessage `json:"payload"`
}

type Output struct {
	TransactionID string `json:"transactionId"`
	Created       bool   `json:"created"`
	Status        string `json:"status"`
	Stage         string `json:"stage"`
	ReceivedAt    string `json:"receivedAt"` // ISO 8601
}
