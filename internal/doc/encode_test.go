package doc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Index scans compare keys byte-wise, so encoded order must agree with
// Compare for every value pair.
func TestEncodeKey_OrderMatchesCompare(t *testing.T) {
	values := []any{
		nil,
		false,
		true,
		int64(-1 << 40),
		-2.5,
		int64(-1),
		int64(0),
		0.5,
		int64(1),
		int64(300),
		1e100,
		"",
		"a",
		"a\x00b",
		"a!",
		"ab",
		"b",
		[]any{"a"},
		[]any{"a", int64(1)},
		[]any{"b"},
		map[string]any{"k": int64(1)},
		map[string]any{"k": int64(2)},
	}

	for i, a := range values {
		for j, b := range values {
			got := bytes.Compare(EncodeKey(a), EncodeKey(b))
			want := Compare(a, b)
			assert.Equal(t, sign(want), sign(got),
				"key order disagrees with value order for %v vs %v (i=%d j=%d)", a, b, i, j)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// A value's encoding must never be a prefix of a different value's
// encoding; otherwise a prefix scan for one value would leak matches of
// another.
func TestEncodeKey_PrefixFree(t *testing.T) {
	values := []any{"a", "ab", "a\x00", int64(1), 1.5, nil, true, []any{"a"}, []any{"a", "b"}}
	for i, a := range values {
		for j, b := range values {
			if i == j {
				continue
			}
			ka, kb := EncodeKey(a), EncodeKey(b)
			assert.False(t, bytes.HasPrefix(kb, ka),
				"encoding of %v is a prefix of %v", a, b)
		}
	}
}

func TestEncodeKey_CompositeOrder(t *testing.T) {
	// ("a", 2) sorts before ("ab", 1): the first field decides.
	k1 := EncodeKey("a", int64(2))
	k2 := EncodeKey("ab", int64(1))
	assert.Negative(t, bytes.Compare(k1, k2))

	// Equal first field falls through to the second.
	k3 := EncodeKey("a", int64(1))
	assert.Negative(t, bytes.Compare(k3, k1))
}

func TestPrefixSuccessor(t *testing.T) {
	p := EncodeKey("user")
	succ := PrefixSuccessor(p)
	require.NotNil(t, succ)

	// Everything starting with the prefix sorts below the successor.
	assert.Negative(t, bytes.Compare(p, succ))
	ext := EncodeKey("user", int64(999))
	assert.Negative(t, bytes.Compare(ext, succ))

	// The successor of all-0xFF does not exist.
	assert.Nil(t, PrefixSuccessor([]byte{0xFF, 0xFF}))
	assert.Nil(t, PrefixSuccessor(nil))
}

func TestEncodeKey_CrossRepresentationNumbers(t *testing.T) {
	assert.Equal(t, EncodeKey(int64(3)), EncodeKey(3.0),
		"integral floats and ints must share an encoding")
}
