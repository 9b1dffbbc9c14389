package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"pingme/internal/model"
)

type watchlistFile struct {
	Contracts []watchEntry `yaml:"contracts"`
}

type watchEntry struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	Events  []string `yaml:"events"`
	ABI     string   `yaml:"abi"`
	ABIFile string   `yaml:"abi_file"`
}

// LoadWatchlist reads the contract watchlist. Relative abi_file paths resolve against
// the watchlist's directory.
func LoadWatchlist(path string) ([]model.ContractWatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	return ParseWatchlist(data, filepath.Dir(path))
}

// ParseWatchlist decodes watchlist YAML.
func ParseWatchlist(data []byte, baseDir string) ([]model.ContractWatch, error) {
	var file watchlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse watchlist: %w", err)
	}
	if len(file.Contracts) == 0 {
		return nil, fmt.Errorf("watchlist has no contracts")
	}

	seen := make(map[string]struct{}, len(file.Contracts))
	watches := make([]model.ContractWatch, 0, len(file.Contracts))
	for i, entry := range file.Contracts {
		watch, err := buildWatch(entry, baseDir)
		if err != nil {
			return nil, fmt.Errorf("contract %d: %w", i, err)
		}
		if _, ok := seen[watch.Key()]; ok {
			return nil, fmt.Errorf("contract %d: duplicate address %s", i, watch.Address.Hex())
		}
		seen[watch.Key()] = struct{}{}
		watches = append(watches, watch)
	}
	return watches, nil
}

func buildWatch(entry watchEntry, baseDir string) (model.ContractWatch, error) {
	address := strings.TrimSpace(entry.Address)
	if !common.IsHexAddress(address) {
		return model.ContractWatch{}, fmt.Errorf("invalid address: %s", entry.Address)
	}

	abiJSON := entry.ABI
	if strings.TrimSpace(abiJSON) == "" {
		if entry.ABIFile == "" {
			return model.ContractWatch{}, fmt.Errorf("abi or abi_file is required")
		}
		abiPath := entry.ABIFile
		if !filepath.IsAbs(abiPath) {
			abiPath = filepath.Join(baseDir, abiPath)
		}
		raw, err := os.ReadFile(abiPath)
		if err != nil {
			return model.ContractWatch{}, fmt.Errorf("read abi: %w", err)
		}
		abiJSON = string(raw)
	}

	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return model.ContractWatch{}, fmt.Errorf("parse abi: %w", err)
	}

	events := cleanStrings(entry.Events)
	if len(events) == 0 {
		return model.ContractWatch{}, fmt.Errorf("no events listed")
	}
	for _, name := range events {
		if _, ok := parsed.Events[name]; !ok {
			return model.ContractWatch{}, fmt.Errorf("event %s not found in abi", name)
		}
	}

	name := strings.TrimSpace(entry.Name)
	if name == "" {
		name = common.HexToAddress(address).Hex()
	}

	return model.ContractWatch{
		Address: common.HexToAddress(address),
		Name:    name,
		Events:  events,
		ABI:     parsed,
	}, nil
}
