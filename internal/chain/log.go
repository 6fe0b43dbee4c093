package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Log is one committed event. Seq is the position in the chain-wide log
// and is dense: the first log has Seq 1.
type Log struct {
	Seq         uint64
	Address     common.Address
	BlockNumber uint64
	BlockTime   uint64
	TxHash      common.Hash
	Index       uint32
	Event       domain.Event
}

// Name returns the event name.
func (l Log) Name() string {
	return l.Event.EventName()
}

// Record converts the log into its transport form.
func (l Log) Record() (domain.EventRecord, error) {
	data, err := json.Marshal(l.Event)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("chain: encode %s: %w", l.Name(), err)
	}
	return domain.EventRecord{
		Seq:         l.Seq,
		BlockNumber: l.BlockNumber,
		BlockTime:   time.Unix(int64(l.BlockTime), 0).UTC(),
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Address:     l.Address,
		Name:        l.Name(),
		Data:        data,
	}, nil
}

// Block is the header of a committed block.
type Block struct {
	Number     uint64
	Time       uint64
	PrevRandao common.Hash
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	BlockTime   uint64
	From        common.Address
	To          common.Address
	Value       *big.Int
	Logs        []Log
}

// Find returns the first log in the receipt carrying an event named name.
func (r Receipt) Find(name string) (Log, bool) {
	for _, l := range r.Logs {
		if l.Name() == name {
			return l, true
		}
	}
	return Log{}, false
}
