package chain

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pingme/internal/model"
)

const pairABI = `[
{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"owner","type":"address"},{"indexed":true,"name":"spender","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Approval","type":"event"}
]`

func TestFiltersFor(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	watches := []model.ContractWatch{
		{Address: common.HexToAddress("0x01"), Name: "A", Events: []string{"Transfer", "Approval"}, ABI: parsed},
		{Address: common.HexToAddress("0x02"), Name: "B", Events: []string{"Transfer"}, ABI: parsed},
	}

	filters := FiltersFor(watches)
	if len(filters) != 3 {
		t.Fatalf("expected 3 filters, got %d", len(filters))
	}
	if filters[0].Topic0 != parsed.Events["Transfer"].ID {
		t.Fatalf("unexpected topic0: %s", filters[0].Topic0.Hex())
	}
	if filters[1].EventName != "Approval" || filters[1].ContractName != "A" {
		t.Fatalf("unexpected filter: %+v", filters[1])
	}

	query := filters[2].RangeQuery(10, 20)
	if query.FromBlock.Uint64() != 10 || query.ToBlock.Uint64() != 20 {
		t.Fatalf("unexpected range: %v-%v", query.FromBlock, query.ToBlock)
	}
	if len(query.Addresses) != 1 || query.Addresses[0] != common.HexToAddress("0x02") {
		t.Fatalf("unexpected addresses: %v", query.Addresses)
	}
	if live := filters[0].Query(nil, nil); live.FromBlock != nil || live.ToBlock != nil {
		t.Fatalf("live query should be unbounded")
	}
}

func TestToRawLog(t *testing.T) {
	log := types.Log{
		Address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:      []common.Hash{common.HexToHash("0xaa")},
		Data:        []byte{0xde, 0xad},
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xbeef"),
		Index:       3,
	}

	raw := ToRawLog(log, "Transfer")
	if raw.EventName != "Transfer" || raw.BlockNumber != 42 || raw.LogIndex != 3 {
		t.Fatalf("unexpected raw log: %+v", raw)
	}
	if raw.Data != "0xdead" {
		t.Fatalf("unexpected data: %s", raw.Data)
	}
	if len(raw.Topics) != 1 || raw.Topics[0] != common.HexToHash("0xaa").Hex() {
		t.Fatalf("unexpected topics: %v", raw.Topics)
	}
}
