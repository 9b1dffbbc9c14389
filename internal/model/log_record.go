package model

// RawLog is a contract log as delivered by a subscription filter or a historical query.
type RawLog struct {
	ContractAddress string   `json:"contract_address"`
	EventName       string   `json:"event_name,omitempty"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TxHash          string   `json:"tx_hash"`
	LogIndex        uint64   `json:"log_index"`
	Removed         bool     `json:"removed"`
}
