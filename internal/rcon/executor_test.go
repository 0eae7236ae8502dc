package rcon_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/rcon/rcontest"
)

func TestExecutorConnectsLazily(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()

	exec := rcon.NewExecutor(srv.Config(), nil)
	defer exec.Close()

	if exec.Connected() || srv.AuthCount() != 0 {
		t.Fatalf("executor connected before first command")
	}

	res := exec.Execute(context.Background(), "/time")
	if !res.OK() || res.Message != "/time" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !exec.Connected() {
		t.Fatalf("executor not connected after command")
	}

	exec.Execute(context.Background(), "/players online")
	if srv.AuthCount() != 1 {
		t.Fatalf("connection not reused: %d auths", srv.AuthCount())
	}
}

func TestExecutorRetriesFailedAuthentication(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.RejectAuths(2)

	cfg := srv.Config()
	cfg.MaxRetries = 3
	exec := rcon.NewExecutor(cfg, nil)
	defer exec.Close()

	res := exec.Execute(context.Background(), "/time")
	if !res.OK() {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if srv.AuthCount() != 3 {
		t.Fatalf("auth count = %d, want 3", srv.AuthCount())
	}
}

func TestExecutorExhaustsRetries(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.RejectAuths(100)

	cfg := srv.Config()
	cfg.MaxRetries = 2
	exec := rcon.NewExecutor(cfg, nil)
	defer exec.Close()

	res := exec.Execute(context.Background(), "/time")
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if res.Kind != rcon.KindAuthentication || res.Message == "" || res.Details == "" {
		t.Fatalf("unexpected error result %+v", res)
	}
	if srv.AuthCount() != 3 {
		t.Fatalf("auth count = %d, want initial attempt plus 2 retries", srv.AuthCount())
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("command sent without authentication")
	}
}

func TestExecutorConnectionRefused(t *testing.T) {
	srv := rcontest.NewServer("pw")
	cfg := srv.Config()
	srv.Close()

	cfg.MaxRetries = 1
	exec := rcon.NewExecutor(cfg, nil)
	defer exec.Close()

	res := exec.Execute(context.Background(), "/time")
	if res.Kind != rcon.KindConnection {
		t.Fatalf("expected connection error, got %+v", res)
	}
}

func TestExecutorDoesNotResendAfterSendFailure(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.SetSilent(true)

	cfg := srv.Config()
	cfg.MaxRetries = 3
	cfg.ResponseTimeout = 100 * time.Millisecond
	exec := rcon.NewExecutor(cfg, nil)
	defer exec.Close()

	res := exec.Execute(context.Background(), "/server-save")
	if res.Kind != rcon.KindTimeout {
		t.Fatalf("expected timeout result, got %+v", res)
	}
	if n := len(srv.Commands()); n != 1 {
		t.Fatalf("command sent %d times, want exactly once", n)
	}
	if exec.Connected() {
		t.Fatalf("connection kept after response timeout")
	}

	srv.SetSilent(false)
	res = exec.Execute(context.Background(), "/time")
	if !res.OK() {
		t.Fatalf("expected recovery on next command, got %+v", res)
	}
	if srv.AuthCount() != 2 {
		t.Fatalf("expected a fresh connection, auth count = %d", srv.AuthCount())
	}
}

func TestExecutorDropsConnectionOnStaleReply(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.SetReplyIDOffset(-1)

	exec := rcon.NewExecutor(srv.Config(), nil)
	defer exec.Close()

	res := exec.Execute(context.Background(), "/time")
	if res.Kind != rcon.KindParse {
		t.Fatalf("expected parse error result, got %+v", res)
	}
	if exec.Connected() {
		t.Fatalf("connection kept after mismatched reply")
	}

	srv.SetReplyIDOffset(0)
	if res := exec.Execute(context.Background(), "/time"); !res.OK() {
		t.Fatalf("expected recovery on next command, got %+v", res)
	}
	if srv.AuthCount() != 2 {
		t.Fatalf("expected a fresh connection, auth count = %d", srv.AuthCount())
	}
}

func TestExecutorSerializesConcurrentCommands(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.SetHandler(func(cmd string) string { return "ack " + cmd })

	exec := rcon.NewExecutor(srv.Config(), nil)
	defer exec.Close()

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("/c cmd %d", i)
			res := exec.Execute(context.Background(), cmd)
			if !res.OK() || res.Message != "ack "+cmd {
				errs <- fmt.Sprintf("%s: %+v", cmd, res)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("mismatched response %s", e)
	}
	if srv.AuthCount() != 1 {
		t.Fatalf("auth count = %d, want a single shared connection", srv.AuthCount())
	}
}

func TestExecutorCancelledWhileQueued(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()
	srv.SetSilent(true)

	cfg := srv.Config()
	cfg.ResponseTimeout = time.Second
	exec := rcon.NewExecutor(cfg, nil)
	defer exec.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		exec.Execute(context.Background(), "/slow")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Commands()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first command never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := exec.Execute(ctx, "/queued")
	if res.Kind != rcon.KindCancelled {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	<-done

	if got := srv.Commands(); len(got) != 1 {
		t.Fatalf("queued command reached the server: %v", got)
	}
}

func TestExecutorReconnectAndClose(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()

	exec := rcon.NewExecutor(srv.Config(), nil)
	if err := exec.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !exec.Connected() {
		t.Fatalf("not connected after reconnect")
	}

	exec.Disconnect()
	if exec.Connected() {
		t.Fatalf("still connected after disconnect")
	}

	exec.Close()
	res := exec.Execute(context.Background(), "/time")
	if res.OK() {
		t.Fatalf("command succeeded on closed executor")
	}
	if err := exec.Reconnect(context.Background()); err == nil {
		t.Fatalf("reconnect succeeded on closed executor")
	}
}

func TestExecutorEmitsCommandEvents(t *testing.T) {
	srv := rcontest.NewServer("pw")
	defer srv.Close()

	bus := events.NewEventBus()
	got := make(chan events.CommandExecutedPayload, 1)
	bus.Subscribe(events.EventCommandExecuted, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.CommandExecutedPayload)
		return nil
	})

	exec := rcon.NewExecutor(srv.Config(), bus)
	defer exec.Close()
	exec.Execute(context.Background(), "/time")

	select {
	case p := <-got:
		if p.Command != "/time" || p.Status != string(rcon.StatusSuccess) {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no command event emitted")
	}
	bus.Stop()
}
