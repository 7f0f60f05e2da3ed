package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}

	label := codec.Encode(42, "buy_50")
	require.True(t, strings.HasPrefix(label, "lunapay1_user_42_pkg_buy_50_"))

	tok, ok := codec.Decode(label)
	require.True(t, ok)
	assert.Equal(t, int64(42), tok.UserID)
	assert.Equal(t, "buy_50", tok.PackageKey)
	assert.Len(t, tok.Nonce, 8)
}

func TestEncodeUniqueNonce(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}
	a := codec.Encode(7, "buy_10")
	b := codec.Encode(7, "buy_10")
	assert.NotEqual(t, a, b)
}

func TestDecodeTruncated(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}

	// Cut right after the user id: user still recoverable.
	tok, ok := codec.Decode("lunapay1_user_42")
	require.True(t, ok)
	assert.Equal(t, int64(42), tok.UserID)
	assert.Empty(t, tok.PackageKey)

	// Cut mid package key: user and partial package recoverable.
	tok, ok = codec.Decode("lunapay1_user_42_pkg_buy")
	require.True(t, ok)
	assert.Equal(t, int64(42), tok.UserID)
	assert.Equal(t, "buy", tok.PackageKey)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}

	for _, label := range []string{
		"",
		"otherapp1_user_42_pkg_x_deadbeef",
		"lunapay1_user_",
		"lunapay1_user_notanumber",
		"lunapay1_user_-5",
		"lunapay1_nothing_here",
	} {
		_, ok := codec.Decode(label)
		assert.False(t, ok, "label %q should not decode", label)
	}
}

func TestMatches(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}
	full := codec.Encode(42, "buy_50")

	assert.True(t, codec.Matches(full, full))
	assert.True(t, codec.Matches("lunapay1_user_42", full))
	assert.True(t, codec.Matches(full[:len(full)-3], full))

	otherUser := codec.Encode(43, "buy_50")
	assert.False(t, codec.Matches(otherUser, full))
	assert.False(t, codec.Matches("", full))
	assert.False(t, codec.Matches(full, ""))
	// An echo that is not a prefix never matches, same package or not.
	assert.False(t, codec.Matches(codec.Encode(42, "buy_50"), full))
}

func TestFindInFreeText(t *testing.T) {
	codec := Codec{Prefix: "lunapay"}
	label := codec.Encode(42, "buy_10")

	blob := "Перевод от пользователя\nНазначение: " + label + "\nСпасибо"
	assert.Equal(t, label, codec.Find(blob))

	assert.Empty(t, codec.Find("no label here"))
	assert.Empty(t, codec.Find("lunapay1_user_garbage trailing"))
}
