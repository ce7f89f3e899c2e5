package auction

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPhaseAt(t *testing.T) {
	t.Parallel()

	start := time.Now()
	a := Auction{
		BiddingDeadline: start.Add(time.Hour),
		RevealDeadline:  start.Add(2 * time.Hour),
	}

	t.Run("before bidding deadline", func(t *testing.T) {
		require.Equal(t, PhaseBidding, a.PhaseAt(start))
		require.Equal(t, PhaseBidding, a.PhaseAt(start.Add(time.Hour-time.Nanosecond)))
	})

	t.Run("at bidding deadline", func(t *testing.T) {
		require.Equal(t, PhaseReveal, a.PhaseAt(start.Add(time.Hour)))
	})

	t.Run("before reveal deadline", func(t *testing.T) {
		require.Equal(t, PhaseReveal, a.PhaseAt(start.Add(2*time.Hour-time.Nanosecond)))
	})

	t.Run("at reveal deadline", func(t *testing.T) {
		require.Equal(t, PhaseEnded, a.PhaseAt(start.Add(2*time.Hour)))
		require.True(t, a.HasEnded(start.Add(2*time.Hour)))
	})

	t.Run("finalized is terminal", func(t *testing.T) {
		f := a
		f.Finalized = true
		require.Equal(t, PhaseEnded, f.PhaseAt(start))
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		c := a
		c.Cancelled = true
		require.Equal(t, PhaseEnded, c.PhaseAt(start))
	})
}

func TestHasBids(t *testing.T) {
	t.Parallel()

	var a Auction
	require.False(t, a.HasBids())

	a.HighestBidder = common.HexToAddress("0x1111111111111111111111111111111111111111")
	a.HighestBid = big.NewInt(100)
	require.True(t, a.HasBids())
}

func TestComputeCommitment(t *testing.T) {
	t.Parallel()

	var saltA, saltB Secret
	saltA[0] = 0x01
	saltB[0] = 0x02

	t.Run("deterministic", func(t *testing.T) {
		h1, err := ComputeCommitment(big.NewInt(100), saltA)
		require.NoError(t, err)
		h2, err := ComputeCommitment(big.NewInt(100), saltA)
		require.NoError(t, err)
		require.Equal(t, h1, h2)
		require.NotEqual(t, common.Hash{}, h1)
	})

	t.Run("amount binds", func(t *testing.T) {
		h1, err := ComputeCommitment(big.NewInt(100), saltA)
		require.NoError(t, err)
		h2, err := ComputeCommitment(big.NewInt(150), saltA)
		require.NoError(t, err)
		require.NotEqual(t, h1, h2)
	})

	t.Run("secret binds", func(t *testing.T) {
		h1, err := ComputeCommitment(big.NewInt(100), saltA)
		require.NoError(t, err)
		h2, err := ComputeCommitment(big.NewInt(100), saltB)
		require.NoError(t, err)
		require.NotEqual(t, h1, h2)
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		_, err := ComputeCommitment(big.NewInt(-1), saltA)
		require.Error(t, err)
	})

	t.Run("rejects amount over 256 bits", func(t *testing.T) {
		big257 := new(big.Int).Lsh(big.NewInt(1), 256)
		_, err := ComputeCommitment(big257, saltA)
		require.Error(t, err)
	})
}

func TestSecretFromHex(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		s, err := SecretFromHex("0x0102030000000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		require.Equal(t, byte(0x01), s[0])
		require.Equal(t, byte(0x03), s[2])
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := SecretFromHex("0x0102")
		require.Error(t, err)
	})

	t.Run("missing prefix", func(t *testing.T) {
		_, err := SecretFromHex("0102030000000000000000000000000000000000000000000000000000000000")
		require.Error(t, err)
	})
}

func TestWrongPhaseError(t *testing.T) {
	t.Parallel()

	err := &WrongPhaseError{Expected: PhaseBidding, Actual: PhaseEnded}
	require.ErrorIs(t, err, ErrWrongPhase)
	require.Contains(t, err.Error(), "bidding")
	require.Contains(t, err.Error(), "ended")
}

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusActive, StatusFinalized, StatusCancelled} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseStatus("bogus")
	require.Error(t, err)
}
