package network

import (
	"context"
	"testing"
)

func TestReuseAddrListenerRebinds(t *testing.T) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ln, err = lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("rebind %s: %v", addr, err)
	}
	ln.Close()
}
