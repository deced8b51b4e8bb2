package socket

import (
	"testing"
)

func TestListenAndAccept(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0) // ephemeral port
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if ln.FD() < 0 {
		t.Error("invalid listening fd")
	}
	// Nothing pending: Accept reports none available, not an error.
	fd, _, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if fd != -1 {
		t.Errorf("fd = %d, want -1 for none available", fd)
	}
}

func TestListenRejectsBadHost(t *testing.T) {
	if _, err := Listen("not-an-ip", 0); err == nil {
		t.Error("expected error for a non-IPv4 host")
	}
	if _, err := Listen("::1", 0); err == nil {
		t.Error("expected error for an IPv6 host")
	}
}
