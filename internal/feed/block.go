package feed

import (
	"bytes"
	"fmt"

	"github.com/oerlikon/prep/internal/model"
	"github.com/oerlikon/prep/internal/tradelog"
)

const sentinel = "=="

// Block is the records of one symbol within a message.
type Block struct {
	Symbol string
	Trades []model.Trade
}

// Batch is one published change to the trade state. Seq increases strictly
// across batches from one source.
type Batch struct {
	Seq    uint64
	Blocks []Block
}

// Len returns the total number of records in the batch.
func (b Batch) Len() int {
	n := 0
	for _, blk := range b.Blocks {
		n += len(blk.Trades)
	}
	return n
}

// Encode renders blocks as one message. It returns nil for no blocks.
func Encode(blocks []Block) []byte {
	if len(blocks) == 0 {
		return nil
	}
	size := 0
	for _, blk := range blocks {
		size += len(blk.Symbol) + len(sentinel) + 2 + 64*len(blk.Trades)
	}
	buf := make([]byte, 0, size)
	for _, blk := range blocks {
		buf = append(buf, blk.Symbol...)
		buf = append(buf, '\n')
		for _, t := range blk.Trades {
			buf = tradelog.AppendLine(buf, t)
		}
		buf = append(buf, sentinel...)
		buf = append(buf, '\n')
	}
	return buf
}

// Decode parses a message produced by Encode. Blank lines are ignored.
func Decode(msg []byte) ([]Block, error) {
	var (
		blocks []Block
		cur    *Block
	)
	for i, line := range bytes.Split(msg, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		switch {
		case len(line) == 0:
			continue
		case cur == nil:
			blocks = append(blocks, Block{Symbol: string(line)})
			cur = &blocks[len(blocks)-1]
		case string(line) == sentinel:
			cur = nil
		default:
			t, err := tradelog.DecodeLine(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			cur.Trades = append(cur.Trades, t)
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("block %q: missing %q terminator", cur.Symbol, sentinel)
	}
	return blocks, nil
}
