package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"pingme/internal/model"
)

// Filter is one (contract address, event topic) subscription target.
type Filter struct {
	Address      common.Address
	ContractName string
	EventName    string
	Topic0       common.Hash
}

// FiltersFor expands watches into one filter per watched event.
func FiltersFor(watches []model.ContractWatch) []Filter {
	filters := make([]Filter, 0)
	for _, watch := range watches {
		for _, name := range watch.Events {
			event, ok := watch.ABI.Events[name]
			if !ok {
				continue
			}
			filters = append(filters, Filter{
				Address:      watch.Address,
				ContractName: watch.Name,
				EventName:    name,
				Topic0:       event.ID,
			})
		}
	}
	return filters
}

// Query builds the filter query. Nil bounds leave the range open, as for live
// subscriptions.
func (f Filter) Query(fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{f.Address},
		Topics:    [][]common.Hash{{f.Topic0}},
	}
}

// Key identifies the filter in logs and status output.
func (f Filter) Key() string {
	return model.AddressKey(f.Address.Hex()) + ":" + f.EventName
}

// RangeQuery builds a bounded historical query.
func (f Filter) RangeQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	return f.Query(new(big.Int).SetUint64(fromBlock), new(big.Int).SetUint64(toBlock))
}
