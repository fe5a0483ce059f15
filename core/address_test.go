package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressForms(t *testing.T) {
	raw := "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
	addr, err := ParseAddress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, addr.Raw())

	for _, bounce := range []bool{true, false} {
		for _, test := range []bool{true, false} {
			friendly := addr.UserFriendly(bounce, test)
			assert.Len(t, friendly, 48)

			parsed, err := ParseAddress(friendly)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(addr))
		}
	}
}

func TestParseAddressMasterchain(t *testing.T) {
	addr, err := ParseAddress("-1:3333333333333333333333333333333333333333333333333333333333333333")
	require.NoError(t, err)
	assert.Equal(t, int32(-1), addr.Workchain)

	parsed, err := ParseAddress(addr.UserFriendly(true, false))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), parsed.Workchain)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	addr, err := ParseAddress("0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8")
	require.NoError(t, err)
	friendly := []byte(addr.UserFriendly(true, false))
	if friendly[10] == 'A' {
		friendly[10] = 'B'
	} else {
		friendly[10] = 'A'
	}

	for _, s := range []string{"", "x:00", "0:abc", string(friendly), "0:zz" + string(make([]byte, 62))} {
		_, err := ParseAddress(s)
		assert.True(t, errors.Is(err, ErrInvalidAddress), "input %q", s)
	}
}

func TestSessionFilterMatch(t *testing.T) {
	s := Session{ID: "s1", Domain: "example.com", WalletID: "w1", TransportKind: TransportInjected}

	assert.True(t, SessionFilter{}.Match(s))
	assert.True(t, SessionFilter{WalletID: "w1"}.Match(s))
	assert.True(t, SessionFilter{Domain: "example.com", TransportKind: TransportInjected}.Match(s))
	assert.False(t, SessionFilter{WalletID: "w2"}.Match(s))
	assert.False(t, SessionFilter{TransportKind: TransportRemote}.Match(s))
}

func TestNetworkChainIDs(t *testing.T) {
	for _, n := range []Network{NetworkMainnet, NetworkTestnet} {
		got, err := NetworkFromChainID(n.ChainID())
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	_, err := NetworkFromChainID("1")
	assert.Error(t, err)
}
