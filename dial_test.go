package relay

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDialAddress_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nc, err := dialAddress(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dialAddress: %v", err)
	}
	nc.Close()
	<-accepted
}

func TestDialAddress_InvalidAddr(t *testing.T) {
	_, err := dialAddress(context.Background(), "not-a-valid-addr")
	if !IsKind(err, KindFormat) {
		t.Errorf("err = %v, want KindFormat", err)
	}
}

func TestDialAddress_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = dialAddress(ctx, addr)
	if !IsKind(err, KindCouldNotConnect) {
		t.Errorf("err = %v, want KindCouldNotConnect", err)
	}
}
