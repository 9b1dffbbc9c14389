package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"pingme/internal/metrics"
	"pingme/internal/model"
)

// BlockTimer resolves block timestamps.
type BlockTimer interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Decoder turns raw logs of watched contracts into domain events.
type Decoder struct {
	watches    map[string]model.ContractWatch
	times      BlockTimer
	importance Importance
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewDecoder builds a Decoder. times may be nil, in which case every event gets a
// coarse wall-clock timestamp.
func NewDecoder(watches []model.ContractWatch, times BlockTimer, importance Importance, logger *zap.Logger, m *metrics.Metrics) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	byAddress := make(map[string]model.ContractWatch, len(watches))
	for _, watch := range watches {
		byAddress[watch.Key()] = watch
	}
	return &Decoder{
		watches:    byAddress,
		times:      times,
		importance: importance,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// EventID derives the event identity from the transaction hash and log index.
func EventID(txHash string, logIndex uint64) string {
	var index [8]byte
	binary.BigEndian.PutUint64(index[:], logIndex)
	return crypto.Keccak256Hash(common.HexToHash(txHash).Bytes(), index[:]).Hex()
}

// Decode builds the event for raw. Decoding problems are recorded on the event
// rather than returned.
func (d *Decoder) Decode(ctx context.Context, raw model.RawLog) model.DomainEvent {
	event := model.DomainEvent{
		ID:              EventID(raw.TxHash, raw.LogIndex),
		ContractAddress: common.HexToAddress(raw.ContractAddress).Hex(),
		ContractName:    raw.ContractAddress,
		EventName:       raw.EventName,
		BlockNumber:     raw.BlockNumber,
		TxHash:          raw.TxHash,
		LogIndex:        raw.LogIndex,
		Raw:             raw,
	}

	event.Timestamp, event.CoarseTimestamp = d.timestamp(ctx, raw.BlockNumber)
	if event.CoarseTimestamp {
		d.metrics.CoarseTimestamp()
	}

	watch, ok := d.watches[model.AddressKey(raw.ContractAddress)]
	if !ok {
		event.DecodeError = fmt.Sprintf("unknown contract: %s", raw.ContractAddress)
		event.Importance = d.importance.Of(event.EventName)
		return event
	}
	event.ContractName = watch.Name

	abiEvent, err := resolveEvent(watch.ABI, raw)
	if err != nil {
		event.DecodeError = err.Error()
		event.Importance = d.importance.Of(event.EventName)
		return event
	}
	event.EventName = abiEvent.Name
	event.Importance = d.importance.Of(abiEvent.Name)

	decoded, err := decodeFields(abiEvent, raw)
	if err != nil {
		event.DecodeError = err.Error()
		d.logger.Warn("decode failed",
			zap.String("event_id", event.ID),
			zap.String("contract", watch.Name),
			zap.String("event", abiEvent.Name),
			zap.Error(err),
		)
		return event
	}
	event.Decoded = decoded
	return event
}

func (d *Decoder) timestamp(ctx context.Context, blockNumber uint64) (time.Time, bool) {
	if d.times != nil {
		ts, err := d.times.BlockTimestamp(ctx, blockNumber)
		if err == nil {
			return time.Unix(int64(ts), 0).UTC(), false
		}
		d.logger.Warn("block timestamp lookup failed, using wall clock", zap.Uint64("block_number", blockNumber), zap.Error(err))
	}
	return d.now().UTC(), true
}

func resolveEvent(contractABI abi.ABI, raw model.RawLog) (abi.Event, error) {
	if raw.EventName != "" {
		if event, ok := contractABI.Events[raw.EventName]; ok {
			return event, nil
		}
	}
	if len(raw.Topics) == 0 {
		return abi.Event{}, fmt.Errorf("missing topics")
	}
	topic0, err := parseTopicHashes(raw.Topics[:1])
	if err != nil {
		return abi.Event{}, err
	}
	event, err := contractABI.EventByID(topic0[0])
	if err != nil {
		return abi.Event{}, fmt.Errorf("unsupported topic0: %s", raw.Topics[0])
	}
	return *event, nil
}

func decodeFields(event abi.Event, raw model.RawLog) (map[string]interface{}, error) {
	indexedTopics, err := parseIndexedTopics(event, raw.Topics)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(fields, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return nil, fmt.Errorf("parse topics %s: %w", event.Name, err)
	}

	data, err := hexutil.Decode(nonEmptyHex(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
	}

	for key, value := range fields {
		fields[key] = normalize(value)
	}
	return fields, nil
}

func nonEmptyHex(data string) string {
	if data == "" || data == "0x" {
		return "0x"
	}
	return data
}
