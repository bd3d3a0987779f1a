package pebble

import (
	"encoding/binary"

	"github.com/erain9/darkpool/pkg/core"
)

// Key schema:
//
//	r/<address>                       record envelope
//	t/<market>/<trade id, big endian> trade index for per-market scans
var (
	prefixRecord     = []byte("r/")
	prefixTradeIndex = []byte("t/")
)

func recordKey(addr core.Address) []byte {
	key := make([]byte, 0, len(prefixRecord)+len(addr))
	key = append(key, prefixRecord...)
	return append(key, addr[:]...)
}

func tradeIndexPrefix(market core.Identity) []byte {
	key := make([]byte, 0, len(prefixTradeIndex)+len(market)+1)
	key = append(key, prefixTradeIndex...)
	key = append(key, market[:]...)
	return append(key, '/')
}

func tradeIndexKey(market core.Identity, tradeID uint64) []byte {
	return binary.BigEndian.AppendUint64(tradeIndexPrefix(market), tradeID)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
