package auction

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// SecretSize is the byte length of a reveal secret.
const SecretSize = 32

// Secret blinds a commitment until the reveal phase.
type Secret [SecretSize]byte

// SecretFromHex parses a 0x-prefixed, 32-byte hex secret.
func SecretFromHex(s string) (Secret, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Secret{}, fmt.Errorf("parsing secret: %v", err)
	}
	if len(b) != SecretSize {
		return Secret{}, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(b))
	}
	var sec Secret
	copy(sec[:], b)
	return sec, nil
}

// ComputeCommitment returns the hash binding a bid amount to a secret: the
// Keccak-256 digest of the amount encoded as 32 little-endian bytes,
// followed by the 32-byte secret. Amounts must fit in 256 bits.
func ComputeCommitment(amount *big.Int, secret Secret) (common.Hash, error) {
	if amount == nil || amount.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("amount must be a non-negative integer")
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return common.Hash{}, fmt.Errorf("amount exceeds 256 bits")
	}
	be := v.Bytes32()
	var preimage [2 * SecretSize]byte
	for i := 0; i < SecretSize; i++ {
		preimage[i] = be[SecretSize-1-i]
	}
	copy(preimage[SecretSize:], secret[:])
	return crypto.Keccak256Hash(preimage[:]), nil
}
