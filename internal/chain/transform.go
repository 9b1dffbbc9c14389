package chain

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"pingme/internal/model"
)

// ToRawLog converts a go-ethereum log delivered for the named event.
func ToRawLog(log types.Log, eventName string) model.RawLog {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.RawLog{
		ContractAddress: log.Address.Hex(),
		EventName:       eventName,
		Topics:          topics,
		Data:            hexutil.Encode(log.Data),
		BlockNumber:     log.BlockNumber,
		BlockHash:       log.BlockHash.Hex(),
		TxHash:          log.TxHash.Hex(),
		LogIndex:        uint64(log.Index),
		Removed:         log.Removed,
	}
}
