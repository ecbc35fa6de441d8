// Package descriptor builds the external and change output descriptors for
// a sortedmulti wallet and computes their checksums per Bitcoin Core's
// descriptor-checksum algorithm. No library in this module's dependency
// graph implements that checksum, so it is reproduced here directly against
// the standard library the same way the reference module hand-rolls
// SLIP-0132 extended key prefixes against crypto/sha256 rather than pulling
// in a base58check library.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

// externalChain and changeChain are the BIP32 chain indices a sortedmulti
// descriptor walks for receiving and change addresses respectively.
const (
	externalChain = 0
	changeChain   = 1
)

// Pair is the external/change descriptor pair a wallet registers with the
// node, each including its trailing checksum.
type Pair struct {
	External string
	Change   string
}

// Build produces the external and change sortedmulti descriptors for a
// threshold-of-N wallet over xpubs, in the order given. threshold must be
// in [1, len(xpubs)].
func Build(threshold int, xpubs []string) (*Pair, error) {
	if len(xpubs) == 0 {
		return nil, &ferrors.Parse{Reason: "descriptor requires at least one xpub"}
	}
	if threshold < 1 || threshold > len(xpubs) {
		return nil, &ferrors.Parse{Reason: fmt.Sprintf("threshold %d out of range [1,%d]", threshold, len(xpubs))}
	}

	external, err := withChecksum(body(threshold, xpubs, externalChain))
	if err != nil {
		return nil, err
	}
	change, err := withChecksum(body(threshold, xpubs, changeChain))
	if err != nil {
		return nil, err
	}
	return &Pair{External: external, Change: change}, nil
}

func body(threshold int, xpubs []string, chain int) string {
	keys := make([]string, len(xpubs))
	for i, xpub := range xpubs {
		keys[i] = fmt.Sprintf("%s/%d/*", xpub, chain)
	}
	return fmt.Sprintf("wsh(sortedmulti(%d,%s))", threshold, strings.Join(keys, ","))
}

func withChecksum(descriptor string) (string, error) {
	checksum, err := Checksum(descriptor)
	if err != nil {
		return "", err
	}
	return descriptor + "#" + checksum, nil
}

// inputCharset is the full set of characters a descriptor string (without
// its checksum) may contain, indexed by their checksum-algorithm position.
const inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
	"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
	"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

const checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// polyMod is the BCH-style checksum polynomial step used by Bitcoin Core's
// descriptor checksum.
func polyMod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// Checksum computes the 8-character descriptor checksum for a descriptor
// string that does not already carry a "#checksum" suffix.
func Checksum(descriptor string) (string, error) {
	var c uint64 = 1
	cls := 0
	j := 0

	for _, ch := range descriptor {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", &ferrors.Parse{Reason: fmt.Sprintf("descriptor contains unsupported character %q", ch)}
		}
		c = polyMod(c, pos&31)
		cls = cls*3 + (pos >> 5)
		j++
		if j == 3 {
			c = polyMod(c, cls)
			cls = 0
			j = 0
		}
	}
	if j > 0 {
		c = polyMod(c, cls)
	}
	for i := 0; i < 8; i++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = checksumCharset[(c>>(5*(7-i)))&31]
	}
	return string(out), nil
}
