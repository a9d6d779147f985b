// Package bloom implements the per-table bloom filter. Hash functions follow
// the BIP37 scheme: the i-th hash is murmur3 seeded with i*0xFBA4C795+tweak,
// taken modulo the number of bits.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/spaolacci/murmur3"

	"snapdb/pkg/dberrors"
)

const (
	seedMultiplier = 0xFBA4C795
	headerSize     = 8
	maxHashFuncs   = 50
)

// Filter is a bit array probed by k seeded hashes. False positives are
// possible, false negatives are not.
type Filter struct {
	bits  []byte
	k     uint32
	tweak uint32
}

// New sizes a filter for n keys at the given false positive rate:
//
//	m = -n * ln(p) / (ln2)^2
//	k = (m/n) * ln2
func New(n int, fpRate float64, tweak uint32) *Filter {
	if n < 1 {
		n = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	k := uint32(math.Round(m / float64(n) * math.Ln2))
	k = max(1, min(k, maxHashFuncs))
	return &Filter{
		bits:  make([]byte, (int(m)+7)/8),
		k:     k,
		tweak: tweak,
	}
}

func position(i, tweak uint32, key []byte, nbits uint32) uint32 {
	return murmur3.Sum32WithSeed(key, i*seedMultiplier+tweak) % nbits
}

// Contains probes a raw bit array with k hashes.
func Contains(bits []byte, k, tweak uint32, key string) bool {
	if len(bits) == 0 {
		return false
	}
	nbits := uint32(len(bits)) * 8
	data := []byte(key)
	for i := uint32(0); i < k; i++ {
		pos := position(i, tweak, data, nbits)
		if bits[pos>>3]&(1<<(pos&7)) == 0 {
			return false
		}
	}
	return true
}

// Add inserts key.
func (f *Filter) Add(key string) {
	nbits := uint32(len(f.bits)) * 8
	data := []byte(key)
	for i := uint32(0); i < f.k; i++ {
		pos := position(i, f.tweak, data, nbits)
		f.bits[pos>>3] |= 1 << (pos & 7)
	}
}

// MayContain reports whether key may have been added.
func (f *Filter) MayContain(key string) bool {
	return Contains(f.bits, f.k, f.tweak, key)
}

// HashFuncs returns k.
func (f *Filter) HashFuncs() uint32 { return f.k }

// MarshalBinary encodes the filter as [u32 k][u32 tweak][bits...], little
// endian.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.bits))
	binary.LittleEndian.PutUint32(buf[0:4], f.k)
	binary.LittleEndian.PutUint32(buf[4:8], f.tweak)
	copy(buf[headerSize:], f.bits)
	return buf, nil
}

// UnmarshalBinary decodes the MarshalBinary layout.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) <= headerSize {
		return fmt.Errorf("bloom filter of %d bytes: %w", len(data), dberrors.ErrCorrupted)
	}
	f.k = binary.LittleEndian.Uint32(data[0:4])
	f.tweak = binary.LittleEndian.Uint32(data[4:8])
	if f.k == 0 || f.k > maxHashFuncs {
		return fmt.Errorf("bloom filter with %d hash functions: %w", f.k, dberrors.ErrCorrupted)
	}
	f.bits = make([]byte, len(data)-headerSize)
	copy(f.bits, data[headerSize:])
	return nil
}

// ReadFile loads a filter written by WriteFile.
func ReadFile(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bloom filter: %w", err)
	}
	f := new(Filter)
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// WriteFile stores the filter at path.
func (f *Filter) WriteFile(path string) error {
	data, _ := f.MarshalBinary()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write bloom filter: %w", err)
	}
	return nil
}
