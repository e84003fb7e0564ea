package shm

import (
	"encoding/binary"

	"github.com/rbx/FairMQ/internal/constants"
)

// RegionBlock describes one released byte-range within a Region: the
// offset from the region base, its length, and an opaque hint carried
// back to the owner. It crosses process boundaries byte-identically —
// three native-endian uint64 fields, no padding, 24 bytes total (see
// spec §3, §6).
type RegionBlock struct {
	Handle uint64 // byte offset from region base
	Size   uint64 // length in bytes
	Hint   uint64 // opaque value, round-tripped to the owner's callback
}

// encodeBlocks packs blocks into a fixed-layout wire buffer, native
// endianness, grounded on the teacher's internal/uapi/marshal.go manual
// field-by-field Put pattern.
func encodeBlocks(blocks []RegionBlock) []byte {
	buf := make([]byte, len(blocks)*constants.RegionBlockSize)
	for i, b := range blocks {
		off := i * constants.RegionBlockSize
		binary.NativeEndian.PutUint64(buf[off:off+8], b.Handle)
		binary.NativeEndian.PutUint64(buf[off+8:off+16], b.Size)
		binary.NativeEndian.PutUint64(buf[off+16:off+24], b.Hint)
	}
	return buf
}

// decodeBlocks unpacks a received ack-queue message into RegionBlocks. It
// returns an error if the byte length is not a multiple of
// constants.RegionBlockSize — the "malformed ack batch" / ProtocolDesync
// condition from spec §4.3/§7.
func decodeBlocks(buf []byte) ([]RegionBlock, error) {
	if len(buf)%constants.RegionBlockSize != 0 {
		return nil, newError("decodeBlocks", 0, -1, CodeProtocolDesync,
			"ack batch length not a multiple of RegionBlock size")
	}
	n := len(buf) / constants.RegionBlockSize
	blocks := make([]RegionBlock, n)
	for i := range blocks {
		off := i * constants.RegionBlockSize
		blocks[i] = RegionBlock{
			Handle: binary.NativeEndian.Uint64(buf[off : off+8]),
			Size:   binary.NativeEndian.Uint64(buf[off+8 : off+16]),
			Hint:   binary.NativeEndian.Uint64(buf[off+16 : off+24]),
		}
	}
	return blocks, nil
}
