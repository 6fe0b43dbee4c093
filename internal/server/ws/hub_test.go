package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

type fakeBus struct {
	mu      sync.Mutex
	entries []domain.StreamMessage
	since   string
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, since string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.since = since
	return b.entries, nil
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *websocket.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{
		Mode:    "Node",
		ChainID: 31337,
		Head:    func() (uint64, uint64) { return 12, 1_700_000_000 },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame type = %d", kind)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, msg clientMsg) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
}

func record(seq uint64, listing common.Hash) domain.EventRecord {
	return domain.EventRecord{
		Seq:       seq,
		Name:      "BidPlaced",
		Data:      json.RawMessage(`{}`),
		ListingID: listing.Hex(),
	}
}

func TestStatusOnConnect(t *testing.T) {
	_, conn := startHub(t, nil)
	env := read(t, conn)
	if env.Type != TypeStatus {
		t.Fatalf("first frame = %+v", env)
	}
	var status map[string]any
	if err := json.Unmarshal(env.Payload, &status); err != nil {
		t.Fatal(err)
	}
	if status["mode"] != "node" || status["head_block"] != float64(12) || status["replay"] != false {
		t.Fatalf("status = %v", status)
	}
}

func TestPublishRoutesByListing(t *testing.T) {
	hub, conn := startHub(t, nil)
	read(t, conn)

	watched := common.HexToHash("0xaa")
	send(t, conn, clientMsg{Action: "unsubscribe", Channels: []string{domain.ChannelEvents}})
	if env := read(t, conn); env.Type != TypeSubscribed || len(env.Channels) != 0 {
		t.Fatalf("unsubscribe ack = %+v", env)
	}
	send(t, conn, clientMsg{Action: "subscribe", Channels: []string{domain.ListingChannel(watched.Hex())}})
	read(t, conn)

	hub.Publish(record(1, common.HexToHash("0xbb")))
	hub.Publish(record(2, watched))

	env := read(t, conn)
	if env.Type != TypeEvent {
		t.Fatalf("frame = %+v", env)
	}
	var got domain.EventRecord
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Seq != 2 {
		t.Fatalf("delivered seq %d, want only the watched listing", got.Seq)
	}
}

func TestReplay(t *testing.T) {
	global := record(2, common.Hash{})
	global.ListingID = ""
	var entries []domain.StreamMessage
	for id, rec := range map[string]domain.EventRecord{"1-0": record(1, common.HexToHash("0xaa")), "2-0": global} {
		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, domain.StreamMessage{ID: id, Payload: data})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	bus := &fakeBus{entries: entries}
	_, conn := startHub(t, bus)
	read(t, conn)

	send(t, conn, clientMsg{Action: "replay", Since: "0-0"})
	for _, want := range []string{"1-0", "2-0"} {
		env := read(t, conn)
		if env.Type != TypeReplay || env.ID != want {
			t.Fatalf("replay frame = %+v, want id %s", env, want)
		}
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.since != "0-0" {
		t.Fatalf("read from %q", bus.since)
	}
}

func TestReplayWithoutBus(t *testing.T) {
	_, conn := startHub(t, nil)
	read(t, conn)
	send(t, conn, clientMsg{Action: "replay"})
	if env := read(t, conn); env.Type != TypeError {
		t.Fatalf("frame = %+v", env)
	}
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:listing:*": true}}
	if !c.isSubscribed(domain.ChannelEvents, "ch:listing:0xab") {
		t.Fatal("wildcard did not match")
	}
	if c.isSubscribed(domain.ChannelEvents) {
		t.Fatal("matched an unsubscribed channel")
	}
}
