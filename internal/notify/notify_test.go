package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func record(t *testing.T, ev domain.Event) domain.EventRecord {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return domain.EventRecord{Seq: 1, BlockNumber: 3, Name: ev.EventName(), Data: data, ListingID: "0xabc"}
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"WinnerSelected", " AuctionClosed "}, discard())
	ctx := context.Background()

	winner := record(t, domain.WinnerSelected{Winner: common.HexToAddress("0x01"), Pick: 4})
	bid := record(t, domain.BidPlaced{Amount: big.NewInt(5)})
	closed := record(t, domain.AuctionClosedEvent{WinningBid: big.NewInt(0)})

	for _, rec := range []domain.EventRecord{winner, bid, closed} {
		if err := n.HandleEvent(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if len(s.titles) != 2 || s.titles[0] != "Raffle winner selected" || s.titles[1] != "Auction closed without a sale" {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifierKeepsGoingAfterSenderFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, []string{"RefundIssued"}, discard())

	err := n.HandleEvent(context.Background(), record(t, domain.RefundIssued{}))
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("second sender was skipped")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		ev    domain.Event
		title string
		body  string
	}{
		{"sold", domain.AuctionClosedEvent{Success: true, Winner: common.HexToAddress("0x02"), WinningBid: big.NewInt(42)}, "Auction sold", "Winning bid: 42"},
		{"released", domain.EscrowReleasedEvent{SellerAmount: big.NewInt(98), Fee: big.NewInt(2)}, "Escrow released", "Fee: 2"},
		{"raffle failed", domain.RaffleClosed{Raised: big.NewInt(10)}, "Raffle failed, entrants refunded", "Raised: 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body, err := Format(record(t, tt.ev))
			if err != nil {
				t.Fatal(err)
			}
			if title != tt.title || !strings.Contains(body, tt.body) || !strings.Contains(body, "Listing: 0xabc") {
				t.Fatalf("title %q body %q", title, body)
			}
		})
	}
}

func TestSendersPostJSON(t *testing.T) {
	var got []map[string]string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		got = append(got, m)
		paths = append(paths, r.URL.Path)
		if strings.Contains(r.URL.Path, "fail") {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ctx := context.Background()

	tg := NewTelegramSender("T0K", "42").WithBaseURL(srv.URL + "/")
	if err := tg.Send(ctx, "Title", "body"); err != nil {
		t.Fatal(err)
	}
	if paths[0] != "/botT0K/sendMessage" || got[0]["chat_id"] != "42" || got[0]["text"] != "*Title*\nbody" {
		t.Fatalf("telegram request %s %v", paths[0], got[0])
	}

	dc := NewDiscordSender(srv.URL + "/hook")
	if err := dc.Send(ctx, "Title", "body"); err != nil {
		t.Fatal(err)
	}
	if got[1]["content"] != "**Title**\nbody" {
		t.Fatalf("discord payload %v", got[1])
	}

	if err := NewDiscordSender(srv.URL+"/fail").Send(ctx, "t", "m"); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}
