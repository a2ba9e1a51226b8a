// Package idgen generates the short hash ids used across the hub: instance
// ids for agent-created nodes, pending-change ids, and test-run ids. Ids are
// sha256 hashes truncated and base36-encoded for density, with a process-wide
// nonce so two ids minted in the same nanosecond still differ.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var nonce atomic.Uint64

// EncodeBase36 converts a byte slice to a base36 string of the given length,
// left-padded with zeros and truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// hashID builds "<prefix>-<base36(sha256(content)[:bytes])>".
func hashID(prefix, content string, numBytes, length int) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(sum[:numBytes], length))
}

// NewInstanceID mints an id for an agent-created scene-graph instance.
// Editor-created instances keep the ids the plugin assigned; this only runs
// for server-side creates.
func NewInstanceID(ts time.Time) string {
	content := fmt.Sprintf("inst|%d|%d", ts.UnixNano(), nonce.Add(1))
	return hashID("uxi", content, 6, 10)
}

// NewChangeID mints an id for a pending-change buffer entry.
func NewChangeID(seq uint64, ts time.Time) string {
	content := fmt.Sprintf("chg|%d|%d", seq, ts.UnixNano())
	return hashID("chg", content, 5, 8)
}

// NewRunID mints a test-run id. Run ids appear in artifact directory names,
// so the alphabet stays within [a-z0-9-].
func NewRunID(ts time.Time) string {
	content := fmt.Sprintf("run|%d|%d", ts.UnixNano(), nonce.Add(1))
	return hashID("run", content, 6, 10)
}

// NewOwnerID mints a per-request lock owner token for callers that did not
// supply one.
func NewOwnerID(ts time.Time) string {
	content := fmt.Sprintf("own|%d|%d", ts.UnixNano(), nonce.Add(1))
	return hashID("own", content, 4, 7)
}
