package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatAndParseHave(t *testing.T) {
	h := Have{Product: "raw_logs", PriceUSDC: 2.5, Description: "1000 rows of telemetry"}
	line := FormatHave(h)
	require.Equal(t, KindHave, KindOf(line))

	parsed, ok := ParseHave(line)
	require.True(t, ok)
	require.Equal(t, h.Product, parsed.Product)
	require.InDelta(t, h.PriceUSDC, parsed.PriceUSDC, 0.001)
	require.Equal(t, h.Description, parsed.Description)
}

func TestFormatAndParseNeed(t *testing.T) {
	n := Need{Product: "skill_profile", BudgetUSDC: 0.5, ContactHint: "ping buyer-7"}
	line := FormatNeed(n)
	require.Equal(t, KindNeed, KindOf(line))

	parsed, ok := ParseNeed(line)
	require.True(t, ok)
	require.Equal(t, n.Product, parsed.Product)
	require.InDelta(t, n.BudgetUSDC, parsed.BudgetUSDC, 0.001)
	require.Equal(t, n.ContactHint, parsed.ContactHint)
}

func TestFormatAndParseDeal(t *testing.T) {
	d := Deal{Buyer: "buyer-1", Seller: "seller-2", Product: "voice_profile", PriceUSDC: 1.25}
	line := FormatDeal(d)
	require.Equal(t, KindDeal, KindOf(line))

	parsed, ok := ParseDeal(line)
	require.True(t, ok)
	require.Equal(t, d.Buyer, parsed.Buyer)
	require.Equal(t, d.Seller, parsed.Seller)
	require.Equal(t, d.Product, parsed.Product)
	require.InDelta(t, d.PriceUSDC, parsed.PriceUSDC, 0.001)
}

func TestKindOf_Unrecognized(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf("random chatter"))
}

func TestParseLine_MalformedIsTolerated(t *testing.T) {
	l := parseLine("not a wire line at all\n")
	require.Equal(t, "not a wire line at all", l.Text)
	require.Empty(t, l.Channel)
}
