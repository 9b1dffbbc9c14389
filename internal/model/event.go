package model

import "time"

// DomainEvent is the normalized, persisted form of one decoded contract log.
type DomainEvent struct {
	ID              string                 `json:"id"`
	ContractAddress string                 `json:"contract_address"`
	ContractName    string                 `json:"contract_name"`
	EventName       string                 `json:"event_name"`
	BlockNumber     uint64                 `json:"block_number"`
	TxHash          string                 `json:"tx_hash"`
	LogIndex        uint64                 `json:"log_index"`
	Timestamp       time.Time              `json:"timestamp"`
	CoarseTimestamp bool                   `json:"coarse_timestamp"`
	Raw             RawLog                 `json:"raw"`
	Decoded         map[string]interface{} `json:"decoded,omitempty"`
	DecodeError     string                 `json:"decode_error,omitempty"`
	Importance      Level                  `json:"importance"`
	Processed       bool                   `json:"processed"`
}
