package bybit

import (
	"encoding/json"
	"testing"

	"tickflow/event"
	"tickflow/instrument"
	"tickflow/stream"
	"tickflow/subscription"
)

func TestMarketAndTopics(t *testing.T) {
	c := New(Config{})
	sub := subscription.New(subscription.Bybit, "btc", "usdt", instrument.Future, subscription.OrderBooksL2)

	market, err := c.Market(sub)
	if err != nil {
		t.Fatalf("Market failed: %v", err)
	}
	if market != "BTCUSDT" {
		t.Errorf("unexpected market: %s", market)
	}

	topic, err := c.topic(sub)
	if err != nil {
		t.Fatalf("topic failed: %v", err)
	}
	if topic != "orderbook.50.BTCUSDT" {
		t.Errorf("unexpected topic: %s", topic)
	}
}

func TestSubscribeRequestCarriesRequestID(t *testing.T) {
	c := New(Config{})
	subs := []subscription.Subscription{
		subscription.New(subscription.Bybit, "btc", "usdt", instrument.Future, subscription.PublicTrades),
		subscription.New(subscription.Bybit, "eth", "usdt", instrument.Future, subscription.OrderBooksL2),
	}

	requests, err := c.SubscribeRequests(subs)
	if err != nil {
		t.Fatalf("SubscribeRequests failed: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected one batched request, got %d", len(requests))
	}

	var req struct {
		ReqID string   `json:"req_id"`
		Op    string   `json:"op"`
		Args  []string `json:"args"`
	}
	if err := json.Unmarshal(requests[0].Data, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Op != "subscribe" || req.ReqID == "" {
		t.Errorf("unexpected request: %+v", req)
	}
	if len(req.Args) != 2 || req.Args[0] != "publicTrade.BTCUSDT" || req.Args[1] != "orderbook.50.ETHUSDT" {
		t.Errorf("unexpected args: %v", req.Args)
	}

	// one success frame for the whole batch
	if got := c.ExpectedAcks(subs); got != 1 {
		t.Errorf("ExpectedAcks = %d, want 1", got)
	}
}

func TestValidator(t *testing.T) {
	v := New(Config{}).Validator()

	if ack := v.Validate([]byte(`{"success":true,"ret_msg":"","conn_id":"x","req_id":"y","op":"subscribe"}`)); ack.Outcome != stream.OutcomeConfirmed {
		t.Errorf("success frame: got outcome %v", ack.Outcome)
	}
	if ack := v.Validate([]byte(`{"success":false,"ret_msg":"Invalid symbol","op":"subscribe"}`)); ack.Outcome != stream.OutcomeRejected {
		t.Errorf("failure frame: got outcome %v", ack.Outcome)
	}
	if ack := v.Validate([]byte(`{"topic":"publicTrade.BTCUSDT","data":[]}`)); ack.Outcome != stream.OutcomeData {
		t.Errorf("data frame: got outcome %v", ack.Outcome)
	}
	if ack := v.Validate([]byte(`{"success":true,"ret_msg":"pong","op":"pong"}`)); ack.Outcome != stream.OutcomeData {
		t.Errorf("pong frame: got outcome %v", ack.Outcome)
	}
}

func TestSplitTopic(t *testing.T) {
	channel, market, ok := splitTopic("orderbook.50.BTCUSDT")
	if !ok || channel != "orderbook.50" || market != "BTCUSDT" {
		t.Errorf("unexpected split: %q %q %v", channel, market, ok)
	}
	if _, _, ok := splitTopic("orderless"); ok {
		t.Error("malformed topic accepted")
	}
}

func TestDecodeTrades(t *testing.T) {
	raw := []byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1672304486868,"data":[{"T":1672304486865,"s":"BTCUSDT","S":"Buy","v":"0.001","p":"16578.50","i":"20f43950-d8dd-5b31-9112-a178eb6023af","BT":false}]}`)

	decoded, err := decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	d := decoded[0]
	if d.ID.Channel != "publicTrade" || d.ID.Market != "BTCUSDT" {
		t.Errorf("unexpected id: %+v", d.ID)
	}
	trade := d.Events[0].(event.Trade)
	if trade.Price != 16578.50 || trade.Amount != 0.001 || trade.Side != event.Buy {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if trade.Time.UnixMilli() != 1672304486865 {
		t.Errorf("unexpected time: %v", trade.Time)
	}
}

func TestDecodeBookSnapshotAndDelta(t *testing.T) {
	snapshot := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1672304484978,"data":{"s":"BTCUSDT","b":[["16493.50","0.006"]],"a":[["16611.00","0.029"]],"u":18521288,"seq":7961638724}}`)

	decoded, err := decode(snapshot)
	if err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	msg := decoded[0].Book
	if msg == nil || !msg.Snapshot {
		t.Fatalf("expected a snapshot book message: %+v", msg)
	}
	if msg.LastSeq != 18521288 {
		t.Errorf("unexpected update id: %d", msg.LastSeq)
	}
	if len(msg.Bids) != 1 || msg.Bids[0].Price != 16493.50 {
		t.Errorf("unexpected bids: %+v", msg.Bids)
	}

	delta := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1672304484990,"data":{"s":"BTCUSDT","b":[["16493.50","0"]],"a":[],"u":18521289,"seq":7961638725}}`)

	decoded, err = decode(delta)
	if err != nil {
		t.Fatalf("decode delta failed: %v", err)
	}
	msg = decoded[0].Book
	if msg.Snapshot {
		t.Error("delta flagged as snapshot")
	}
	// update ids are consecutive, one delta covers exactly one id
	if msg.FirstSeq != 18521289 || msg.LastSeq != 18521289 {
		t.Errorf("unexpected sequence range: [%d, %d]", msg.FirstSeq, msg.LastSeq)
	}
}

func TestDecodeOpFrames(t *testing.T) {
	for _, raw := range []string{
		`{"success":true,"ret_msg":"","op":"subscribe"}`,
		`{"success":true,"ret_msg":"pong","op":"ping"}`,
	} {
		decoded, err := decode([]byte(raw))
		if err != nil {
			t.Fatalf("decode %q failed: %v", raw, err)
		}
		if len(decoded) != 0 {
			t.Errorf("op frame %q produced messages: %+v", raw, decoded)
		}
	}
}

func TestPingPayload(t *testing.T) {
	p := New(Config{}).PingInterval()
	if p == nil {
		t.Fatal("expected a custom ping policy")
	}

	var msg struct {
		ReqID string `json:"req_id"`
		Op    string `json:"op"`
	}
	if err := json.Unmarshal(p.Ping().Data, &msg); err != nil {
		t.Fatalf("unmarshal ping: %v", err)
	}
	if msg.Op != "ping" || msg.ReqID == "" {
		t.Errorf("unexpected ping payload: %+v", msg)
	}

	// payloads are generated per tick, so request ids differ
	var second struct {
		ReqID string `json:"req_id"`
	}
	if err := json.Unmarshal(p.Ping().Data, &second); err != nil {
		t.Fatalf("unmarshal second ping: %v", err)
	}
	if second.ReqID == msg.ReqID {
		t.Error("ping request id reused")
	}
}

func TestResyncResubscribes(t *testing.T) {
	c := New(Config{})
	sub := subscription.New(subscription.Bybit, "btc", "usdt", instrument.Future, subscription.OrderBooksL2)

	msgs, ok := c.resync(sub)
	if !ok {
		t.Fatal("resync unavailable")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected unsubscribe+subscribe, got %d messages", len(msgs))
	}

	var ops []string
	for _, m := range msgs {
		var req struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := json.Unmarshal(m.Data, &req); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(req.Args) != 1 || req.Args[0] != "orderbook.50.BTCUSDT" {
			t.Errorf("unexpected args: %v", req.Args)
		}
		ops = append(ops, req.Op)
	}
	if ops[0] != "unsubscribe" || ops[1] != "subscribe" {
		t.Errorf("unexpected ops: %v", ops)
	}
}
