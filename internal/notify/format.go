package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// Format renders rec as a title and a short plain-text body.
func Format(rec domain.EventRecord) (title, message string, err error) {
	ev, err := domain.DecodeEvent(rec.Name, rec.Data)
	if err != nil {
		return "", "", err
	}

	var lines []string
	if rec.ListingID != "" {
		lines = append(lines, "Listing: "+rec.ListingID)
	}
	switch e := ev.(type) {
	case *domain.WinnerSelected:
		title = "Raffle winner selected"
		lines = append(lines,
			"Winner: "+e.Winner.Hex(),
			fmt.Sprintf("Winning ticket: %d", e.Pick),
		)
	case *domain.AuctionClosedEvent:
		if e.Success {
			title = "Auction sold"
			lines = append(lines, "Winner: "+e.Winner.Hex(), "Winning bid: "+e.WinningBid.String())
		} else {
			title = "Auction closed without a sale"
		}
	case *domain.RaffleClosed:
		title = "Raffle closed"
		if !e.Success {
			title = "Raffle failed, entrants refunded"
		}
		lines = append(lines, fmt.Sprintf("Tickets: %d", e.TotalTickets), "Raised: "+e.Raised.String())
	case *domain.EscrowReleasedEvent:
		title = "Escrow released"
		lines = append(lines, "Seller amount: "+e.SellerAmount.String(), "Fee: "+e.Fee.String())
	case *domain.EscrowRefundedEvent:
		title = "Escrow refunded"
		lines = append(lines, "Buyer: "+e.Buyer.Hex(), "Amount: "+e.Amount.String())
	case *domain.RefundIssued:
		title = "Refund issued"
		lines = append(lines, "By: "+e.By.Hex())
	case *domain.ListingPurchased:
		title = "Listing purchased"
		lines = append(lines, "Buyer: "+e.Buyer.Hex(), "Amount: "+e.Amount.String())
	default:
		title = rec.Name
		lines = append(lines, string(rec.Data))
	}
	lines = append(lines, fmt.Sprintf("Block %d, tx %s", rec.BlockNumber, rec.TxHash.Hex()))
	return title, strings.Join(lines, "\n"), nil
}
