package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMSISDN(t *testing.T) {
	cases := map[string]string{
		"0712345678":     "254712345678",
		"0112345678":     "254112345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		" 0712 345 678 ": "254712345678",
	}
	for in, want := range cases {
		got, err := NormalizeMSISDN(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "0812345678", "071234567", "07123456789", "phone", "+1 555 0100"} {
		_, err := NormalizeMSISDN(bad)
		require.ErrorIs(t, err, ErrInvalidMSISDN, bad)
	}
}

func TestParseID(t *testing.T) {
	id, ok := ParseID("17")
	require.True(t, ok)
	require.Equal(t, uint64(17), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, ok := ParseID(bad)
		require.False(t, ok, bad)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "abc", Truncate("abcdef", 3))

	// "é" is two bytes; cutting at 2 would split it
	require.Equal(t, "a", Truncate("aé", 2))
	require.Equal(t, "aé", Truncate("aéb", 3))

	long := strings.Repeat("ü", 200)
	got := Truncate(long, 255)
	require.True(t, utf8.ValidString(got))
	require.Len(t, got, 254)
}
