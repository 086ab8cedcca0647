package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFromMidtrans(t *testing.T) {
	tests := []struct {
		tx, fraud string
		want      Status
	}{
		{"capture", "accept", StatusApproved},
		{"capture", "challenge", StatusPending},
		{"settlement", "", StatusApproved},
		{"SETTLEMENT", "", StatusApproved},
		{"pending", "", StatusPending},
		{"deny", "deny", StatusRejected},
		{"cancel", "", StatusCancelled},
		{"expire", "", StatusExpired},
		{"refund", "", StatusRefunded},
		{"something-new", "", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.tx+"/"+tt.fraud, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromMidtrans(tt.tx, tt.fraud))
		})
	}
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, int64(150000), parseAmount("150000.00", 0))
	assert.Equal(t, int64(42), parseAmount("", 42))
	assert.Equal(t, int64(7), parseAmount("n/a", 7))
}

func TestChargesOfOneOrderGetDistinctReferences(t *testing.T) {
	const orderID = "3f1c9a52-7d2e-4b8a-9c61-0e5d2f7a8b90"

	pix := pixChargeReq(PixRequest{OrderID: orderID, Amount: 100})
	alt := pixChargeReq(PixRequest{OrderID: orderID, Amount: 100})
	card := cardChargeReq(CardRequest{OrderID: orderID, Amount: 100, TokenID: "tok"})

	refs := []string{pix.TransactionDetails.OrderID, alt.TransactionDetails.OrderID, card.TransactionDetails.OrderID}
	seen := map[string]bool{}
	for _, ref := range refs {
		require.True(t, strings.HasPrefix(ref, orderID+"-"), ref)
		assert.LessOrEqual(t, len(ref), 50, "midtrans order_id limit")
		assert.False(t, seen[ref], "reference %s reused", ref)
		seen[ref] = true
	}
	assert.Equal(t, int64(100), card.TransactionDetails.GrossAmt)
	assert.Equal(t, "tok", card.CreditCard.TokenID)
}
