package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractWatch is a monitored contract with the events and ABI used to decode them.
type ContractWatch struct {
	Address common.Address
	Name    string
	Events  []string
	ABI     abi.ABI
}

// Key returns the lowercase hex address used for lookups.
func (w ContractWatch) Key() string {
	return AddressKey(w.Address.Hex())
}

// AddressKey normalizes an address string for case-insensitive comparison.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
