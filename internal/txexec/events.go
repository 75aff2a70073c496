package txexec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
)

// ErrEventNotFound reports that a confirmed receipt does not contain the
// expected event: the transaction succeeded on-chain but the required state
// change did not happen. Distinct from a revert.
var ErrEventNotFound = errors.New("expected event not found in receipt")

// EventKind names one decodable event schema. The set is closed: unknown
// logs are skipped, never guessed at.
type EventKind string

const (
	EventBeaconCreated            EventKind = "BeaconCreated"
	EventDichotomousBeaconCreated EventKind = "DichotomousBeaconCreated"
	EventDataUpdated              EventKind = "DataUpdated"
	EventIndexUpdated             EventKind = "IndexUpdated"
	EventPerpCreated              EventKind = "PerpCreated"
	EventPositionOpened           EventKind = "PositionOpened"
)

// Event is one decoded domain event.
type Event interface {
	Kind() EventKind
}

// BeaconCreated is emitted by the beacon factory.
type BeaconCreated struct {
	Beacon common.Address
}

func (BeaconCreated) Kind() EventKind { return EventBeaconCreated }

// DichotomousBeaconCreated is emitted by the dichotomous beacon factory.
type DichotomousBeaconCreated struct {
	Beacon   common.Address
	Verifier common.Address
}

func (DichotomousBeaconCreated) Kind() EventKind { return EventDichotomousBeaconCreated }

// DataUpdated is emitted by a beacon on a successful proof-carrying update.
type DataUpdated struct {
	Data *big.Int
}

func (DataUpdated) Kind() EventKind { return EventDataUpdated }

// IndexUpdated is emitted by an ECDSA beacon.
type IndexUpdated struct {
	Index *big.Int
}

func (IndexUpdated) Kind() EventKind { return EventIndexUpdated }

// PerpCreated is emitted by the perp manager.
type PerpCreated struct {
	PerpID        [32]byte
	Beacon        common.Address
	SqrtPriceX96  *big.Int
	IndexPriceX96 *big.Int
}

func (PerpCreated) Kind() EventKind { return EventPerpCreated }

// PositionOpened is emitted by the perp manager when liquidity is deposited.
type PositionOpened struct {
	PerpID         [32]byte
	SqrtPriceX96   *big.Int
	LongOI         *big.Int
	ShortOI        *big.Int
	PosID          *big.Int
	IsMaker        bool
	EntryPerpDelta *big.Int
}

func (PositionOpened) Kind() EventKind { return EventPositionOpened }

// eventSchema binds a kind to its ABI event definition.
type eventSchema struct {
	abiEvent abi.Event
	decode   func(values []interface{}) (Event, error)
}

var eventSchemas = map[EventKind]eventSchema{
	EventBeaconCreated: {
		abiEvent: chain.BeaconFactoryABI.Events["BeaconCreated"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 1 {
				return nil, fmt.Errorf("BeaconCreated: want 1 field, got %d", len(values))
			}
			return BeaconCreated{Beacon: values[0].(common.Address)}, nil
		},
	},
	EventDichotomousBeaconCreated: {
		abiEvent: chain.DichotomousFactoryABI.Events["BeaconCreated"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 2 {
				return nil, fmt.Errorf("DichotomousBeaconCreated: want 2 fields, got %d", len(values))
			}
			return DichotomousBeaconCreated{
				Beacon:   values[0].(common.Address),
				Verifier: values[1].(common.Address),
			}, nil
		},
	},
	EventDataUpdated: {
		abiEvent: chain.BeaconABI.Events["DataUpdated"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 1 {
				return nil, fmt.Errorf("DataUpdated: want 1 field, got %d", len(values))
			}
			return DataUpdated{Data: values[0].(*big.Int)}, nil
		},
	},
	EventIndexUpdated: {
		abiEvent: chain.EcdsaBeaconABI.Events["IndexUpdated"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 1 {
				return nil, fmt.Errorf("IndexUpdated: want 1 field, got %d", len(values))
			}
			return IndexUpdated{Index: values[0].(*big.Int)}, nil
		},
	},
	EventPerpCreated: {
		abiEvent: chain.PerpManagerABI.Events["PerpCreated"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 4 {
				return nil, fmt.Errorf("PerpCreated: want 4 fields, got %d", len(values))
			}
			return PerpCreated{
				PerpID:        values[0].([32]byte),
				Beacon:        values[1].(common.Address),
				SqrtPriceX96:  values[2].(*big.Int),
				IndexPriceX96: values[3].(*big.Int),
			}, nil
		},
	},
	EventPositionOpened: {
		abiEvent: chain.PerpManagerABI.Events["PositionOpened"],
		decode: func(values []interface{}) (Event, error) {
			if len(values) != 7 {
				return nil, fmt.Errorf("PositionOpened: want 7 fields, got %d", len(values))
			}
			return PositionOpened{
				PerpID:         values[0].([32]byte),
				SqrtPriceX96:   values[1].(*big.Int),
				LongOI:         values[2].(*big.Int),
				ShortOI:        values[3].(*big.Int),
				PosID:          values[4].(*big.Int),
				IsMaker:        values[5].(bool),
				EntryPerpDelta: values[6].(*big.Int),
			}, nil
		},
	},
}

// DecodeEvent finds and decodes the expected event in a receipt's logs,
// matching by emitter address and event signature. A zero emitter matches
// any address. Absence yields ErrEventNotFound.
func DecodeEvent(kind EventKind, emitter common.Address, logs []*types.Log) (Event, error) {
	cursor := NewLogCursor(logs)
	return cursor.Next(kind, emitter)
}

// LogCursor consumes a receipt's logs in order, so that multicall demuxing
// can attribute one event per sub-call without rematching earlier logs.
type LogCursor struct {
	logs []*types.Log
	pos  int
}

// NewLogCursor creates a cursor over a receipt's logs.
func NewLogCursor(logs []*types.Log) *LogCursor {
	return &LogCursor{logs: logs}
}

// Next scans forward for the next log matching kind and emitter, decodes it,
// and advances past it. Non-matching logs are skipped but not consumed for
// later calls with a different kind.
func (c *LogCursor) Next(kind EventKind, emitter common.Address) (Event, error) {
	schema, ok := eventSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	for i := c.pos; i < len(c.logs); i++ {
		log := c.logs[i]
		if len(log.Topics) == 0 || log.Topics[0] != schema.abiEvent.ID {
			continue
		}
		if emitter != (common.Address{}) && log.Address != emitter {
			continue
		}
		values, err := schema.abiEvent.Inputs.Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s log: %w", kind, err)
		}
		event, err := schema.decode(values)
		if err != nil {
			return nil, err
		}
		c.pos = i + 1
		return event, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, kind)
}
