package rcon

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestAssemblerToleratesEverySplit(t *testing.T) {
	data := Encode(77, TypeResponseValue, "Current time: Day 12, 08:45")

	whole, done, err := NewAssembler().Feed(data)
	if err != nil || !done {
		t.Fatalf("whole feed: done=%v err=%v", done, err)
	}

	for split := 1; split < len(data); split++ {
		asm := NewAssembler()
		if _, done, err := asm.Feed(data[:split]); err != nil || done {
			t.Fatalf("split %d: first chunk done=%v err=%v", split, done, err)
		}
		pkt, done, err := asm.Feed(data[split:])
		if err != nil || !done {
			t.Fatalf("split %d: second chunk done=%v err=%v", split, done, err)
		}
		if pkt != whole {
			t.Fatalf("split %d: got %+v, want %+v", split, pkt, whole)
		}
	}
}

func TestAssemblerByteAtATime(t *testing.T) {
	data := Encode(3, TypeResponseValue, "players: alice, bob")
	asm := NewAssembler()

	var (
		pkt  Packet
		done bool
		err  error
	)
	for i := range data {
		pkt, done, err = asm.Feed(data[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if done != (i == len(data)-1) {
			t.Fatalf("byte %d: done=%v", i, done)
		}
	}
	if pkt.ID != 3 || pkt.Body != "players: alice, bob" {
		t.Fatalf("unexpected packet %+v", pkt)
	}
}

func TestAssemblerDiscardsTrailingData(t *testing.T) {
	first := Encode(1, TypeResponseValue, "one")
	second := Encode(2, TypeResponseValue, "two")

	asm := NewAssembler()
	pkt, done, err := asm.Feed(append(append([]byte(nil), first...), second[:5]...))
	if err != nil || !done {
		t.Fatalf("feed: done=%v err=%v", done, err)
	}
	if pkt.Body != "one" {
		t.Fatalf("body = %q, want one", pkt.Body)
	}
	if asm.Discarded() != 5 {
		t.Fatalf("discarded = %d, want 5", asm.Discarded())
	}

	again, done, err := asm.Feed(second[5:])
	if err != nil || !done || again != pkt {
		t.Fatalf("feed after completion changed result: %+v done=%v err=%v", again, done, err)
	}
	if asm.Discarded() != len(second) {
		t.Fatalf("discarded = %d, want %d", asm.Discarded(), len(second))
	}
}

func TestAssemblerRejectsInvalidDeclaredSize(t *testing.T) {
	for _, size := range []int32{-1, 0, 9, MaxPacketSize + 1} {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(size))
		if _, _, err := NewAssembler().Feed(hdr[:]); !errors.Is(err, ErrParse) {
			t.Fatalf("size %d: expected parse error, got %v", size, err)
		}
	}
}

func TestReadResponseTimesOutAndClearsDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	start := time.Now()
	_, _, err := readResponse(client, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Phase != PhaseResponse {
		t.Fatalf("expected response-phase timeout, got %#v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long: %s", time.Since(start))
	}

	// A plain read after the timeout must block normally rather than fail
	// on a stale deadline.
	go func() {
		time.Sleep(100 * time.Millisecond)
		server.Write([]byte("late"))
	}()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read after timeout: %v", err)
	}
}

func TestReadResponseAssemblesFragments(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	data := Encode(9, TypeResponseValue, "fragmented body")
	go func() {
		for i := 0; i < len(data); i += 3 {
			end := i + 3
			if end > len(data) {
				end = len(data)
			}
			server.Write(data[i:end])
		}
	}()

	pkt, _, err := readResponse(client, time.Second)
	if err != nil {
		t.Fatalf("readResponse: %v", err)
	}
	if pkt.ID != 9 || pkt.Body != "fragmented body" {
		t.Fatalf("unexpected packet %+v", pkt)
	}
}

func TestReadResponseSurfacesClosedSocket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		server.Write(Encode(1, TypeResponseValue, "partial")[:6])
		server.Close()
	}()

	_, _, err := readResponse(client, time.Second)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF cause, got %v", err)
	}
}
