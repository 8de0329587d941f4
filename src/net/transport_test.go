package net

import (
	"bytes"
	"testing"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
)

const (
	INMEM = iota
	UDP
	KCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport(addr)
		return it
	case UDP:
		ut, err := NewUDPTransport(addr, "", common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go ut.Listen()
		return ut
	case KCP:
		kt, err := NewKCPTransport(addr, "", common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go kt.Listen()
		return kt
	default:
		panic("Unknown transport type")
	}
}

func connect(ttype int, a, b Transport, t *testing.T) {
	if ttype == INMEM {
		LinkInmemTransports(a.(*InmemTransport), b.(*InmemTransport))
		return
	}
	if err := a.Connect(b.AdvertiseAddr(), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(a.AdvertiseAddr(), time.Second); err != nil {
		t.Fatal(err)
	}
}

func expectPacket(trans Transport, from string, data []byte, t *testing.T) {
	select {
	case p := <-trans.Consumer():
		if p.From != from {
			t.Fatalf("packet should come from %s, not %s", from, p.From)
		}
		if !bytes.Equal(p.Data, data) {
			t.Fatalf("packet data mismatch: %v, %v", p.Data, data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout")
	}
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_SendNotConnected(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)

		if trans.Connected("127.0.0.1:9") {
			t.Fatalf("transport %d should not be connected", ttype)
		}

		err := trans.Send("127.0.0.1:9", []byte("hello"))
		if !common.Is(err, common.NotConnected) {
			t.Fatalf("transport %d: Send should fail with NotConnected, got %v", ttype, err)
		}

		trans.Close()
	}
}

func TestTransport_Send(t *testing.T) {
	addrs := [][2]string{
		{"a", "b"},
		{"127.0.0.1:12340", "127.0.0.1:12341"},
		{"127.0.0.1:12342", "127.0.0.1:12343"},
	}

	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, addrs[ttype][0], t)
		defer trans1.Close()

		trans2 := NewTestTransport(ttype, addrs[ttype][1], t)
		defer trans2.Close()

		connect(ttype, trans1, trans2, t)

		if !trans1.Connected(trans2.AdvertiseAddr()) {
			t.Fatalf("transport %d should be connected", ttype)
		}

		msg := []byte{0x01, 0x02, 0x03}
		if err := trans1.Send(trans2.AdvertiseAddr(), msg); err != nil {
			t.Fatal(err)
		}
		expectPacket(trans2, trans1.AdvertiseAddr(), msg, t)

		reply := []byte("pong")
		if err := trans2.Send(trans1.AdvertiseAddr(), reply); err != nil {
			t.Fatal(err)
		}
		expectPacket(trans1, trans2.AdvertiseAddr(), reply, t)
	}
}

func TestInmemTransport_Disconnect(t *testing.T) {
	_, a := NewInmemTransport("")
	_, b := NewInmemTransport("")
	LinkInmemTransports(a, b)

	data := []byte("x")
	if err := a.Send(b.LocalAddr(), data); err != nil {
		t.Fatal(err)
	}

	// the sender may reuse its buffer
	data[0] = 'y'
	expectPacket(b, a.LocalAddr(), []byte("x"), t)

	a.Disconnect(b.LocalAddr())
	if err := a.Connect(b.LocalAddr(), time.Second); !common.Is(err, common.NotConnected) {
		t.Fatalf("Connect should fail with NotConnected, got %v", err)
	}

	b.Close()
	if err := b.Send(a.LocalAddr(), data); !common.Is(err, common.NotConnected) {
		t.Fatalf("a closed transport should have no routes, got %v", err)
	}
}
