// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddressIPv4Passthrough(t *testing.T) {
	n, err := NormalizeAddress("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, Normalized{Protocol: "IPv4", Address: "127.0.0.1"}, n)
}

func TestNormalizeAddressIPv4Mapped(t *testing.T) {
	n, err := NormalizeAddress("::ffff:192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, Normalized{Protocol: "IPv4", Address: "192.0.2.1"}, n)
}

func TestNormalizeAddressIPv6Expansion(t *testing.T) {
	n, err := NormalizeAddress("::1")
	require.NoError(t, err)
	assert.Equal(t, "0:0:0:0:0:0:0:1", n.Address)
}

func TestNormalizeAddressFixedPoint(t *testing.T) {
	inputs := []string{"127.0.0.1", "::1", "10.0.0.5", "fd00::1", "2001:db8::1"}
	for _, in := range inputs {
		n1, err := NormalizeAddress(in)
		require.NoError(t, err)
		n2, err := NormalizeAddress(n1.Address)
		require.NoError(t, err)
		assert.Equal(t, n1, n2, "not a fixed point for %q", in)
	}
}

func TestClassifyNetwork(t *testing.T) {
	cases := []struct {
		addr string
		want Network
	}{
		{"127.0.0.1", NetworkLocal},
		{"0.0.0.0", NetworkLocal},
		{"::1", NetworkLocal},
		{"10.1.2.3", NetworkPrivate},
		{"172.16.0.1", NetworkPrivate},
		{"172.32.0.1", NetworkIPv4},
		{"8.8.8.8", NetworkIPv4},
		{"fd00::1", NetworkPrivate},
		{"fc00::1", NetworkPrivate},
		{"2001:db8::1", NetworkIPv6},
		{"not-an-address", NetworkOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyNetwork(c.addr), "address %q", c.addr)
	}
}

func TestBucketIDDeterministic(t *testing.T) {
	id1, err := BucketID(42, "8.8.8.8", KindNew, 64)
	require.NoError(t, err)
	id2, err := BucketID(42, "8.8.8.8", KindNew, 64)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.GreaterOrEqual(t, id1, 0)
	assert.Less(t, id1, 64)
}

func TestBucketIDVariesWithSecret(t *testing.T) {
	id1, err := BucketID(1, "8.8.8.8", KindNew, 4096)
	require.NoError(t, err)
	id2, err := BucketID(2, "8.8.8.8", KindNew, 4096)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2, "different secrets should (almost always) bucket differently")
}

func TestBucketIDLocalAndPrivateCollapse(t *testing.T) {
	id1, err := BucketID(7, "127.0.0.1", KindNew, 64)
	require.NoError(t, err)
	id2, err := BucketID(7, "127.1.1.1", KindNew, 64)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "all LOCAL addresses must collapse to one bucket per secret+kind")
}

func TestBucketIDUnsupportedAddress(t *testing.T) {
	_, err := BucketID(1, "not-an-address", KindNew, 64)
	require.ErrorIs(t, err, ErrUnsupportedAddress)
}

func TestPeerID(t *testing.T) {
	id, err := PeerID("127.0.0.1", 5000)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", id)

	id, err = PeerID("::1", 5000)
	require.NoError(t, err)
	assert.Equal(t, "[0:0:0:0:0:0:0:1]:5000", id)
}
