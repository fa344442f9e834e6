package packet

import (
	"bytes"
	"testing"
)

func encodeDecode(t *testing.T, p Packet) Packet {
	t.Helper()
	buf := make([]byte, p.EncodedSize())
	n := p.Encode(buf)
	if n != len(buf) {
		t.Fatalf("Encode wrote %d bytes, want %d", n, len(buf))
	}

	r := NewReader(bytes.NewReader(buf), 1024)
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	return got
}

func TestPublishRoundTrip(t *testing.T) {
	want := &Publish{
		QoS:       QoS1,
		TopicName: "a/b/c",
		PacketID:  42,
		Payload:   []byte("hello"),
	}
	got, ok := encodeDecode(t, want).(*Publish)
	if !ok {
		t.Fatalf("got %T, want *Publish", got)
	}
	if got.TopicName != want.TopicName || got.PacketID != want.PacketID || !bytes.Equal(got.Payload, want.Payload) || got.QoS != want.QoS {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestPublishRoundTripQoS0NoPacketID(t *testing.T) {
	want := &Publish{TopicName: "t", Payload: []byte("x")}
	got, ok := encodeDecode(t, want).(*Publish)
	if !ok {
		t.Fatalf("got %T, want *Publish", got)
	}
	if got.PacketID != 0 {
		t.Errorf("QoS0 publish should not carry a packet id, got %d", got.PacketID)
	}
}

func TestConnectRoundTrip(t *testing.T) {
	want := &Connect{
		ProtocolName:    "MQTT",
		ProtocolVersion: Version311,
		CleanStart:      true,
		KeepAlive:       60,
		ClientID:        "client-1",
	}
	got, ok := encodeDecode(t, want).(*Connect)
	if !ok {
		t.Fatalf("got %T, want *Connect", got)
	}
	if got.ClientID != want.ClientID || got.KeepAlive != want.KeepAlive || got.CleanStart != want.CleanStart {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	want := &Subscribe{
		PacketID: 7,
		Subscriptions: []Subscription{
			{TopicFilter: "a/+", QoS: QoS1},
			{TopicFilter: "b/#", QoS: QoS2},
		},
	}
	got, ok := encodeDecode(t, want).(*Subscribe)
	if !ok {
		t.Fatalf("got %T, want *Subscribe", got)
	}
	if got.PacketID != want.PacketID || len(got.Subscriptions) != len(want.Subscriptions) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	for i := range want.Subscriptions {
		if got.Subscriptions[i] != want.Subscriptions[i] {
			t.Errorf("subscription %d mismatch: got %+v, want %+v", i, got.Subscriptions[i], want.Subscriptions[i])
		}
	}
}

func TestPubackRoundTrip(t *testing.T) {
	want := &Puback{PacketID: 99}
	got, ok := encodeDecode(t, want).(*Puback)
	if !ok {
		t.Fatalf("got %T, want *Puback", got)
	}
	if got.PacketID != want.PacketID {
		t.Errorf("got %d, want %d", got.PacketID, want.PacketID)
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 127, 128, 16383, 16384, 2097151, 2097152, MaxRemainingLength} {
		buf := make([]byte, 4)
		n := EncodeVarInt(buf, v)
		if n == 0 {
			t.Fatalf("EncodeVarInt(%d) failed", v)
		}
		got, consumed, ok := DecodeVarInt(buf[:n])
		if !ok || consumed != n || got != v {
			t.Errorf("DecodeVarInt round trip for %d: got=%d consumed=%d ok=%v", v, got, consumed, ok)
		}
	}
}
