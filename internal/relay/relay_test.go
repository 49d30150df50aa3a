// ABOUTME: Tests for the relay workers
// ABOUTME: Streams over loopback TCP and UDP and checks closure, overrun and cancellation
package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"github.com/Resonate-Protocol/lanrelay/pkg/ring"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStreamThousandSamplesAfterPriming(t *testing.T) {
	const total = 1000
	latency := ring.LatencySamples(150, 48000, 1)

	capP, capC := ring.New(2 * latency)
	for i := 0; i < total; i++ {
		capP.Push(float32(i)/total - 0.5)
	}

	playP, playC, err := ring.NewJitter(latency)
	if err != nil {
		t.Fatalf("NewJitter failed: %v", err)
	}

	client, server := tcpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sendStats := &Stats{}
	recvStats := &Stats{}
	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)
	go func() { sendDone <- Send(ctx, client, capC, Options{Stats: sendStats}) }()
	go func() { recvDone <- Receive(ctx, server, playP, Options{Stats: recvStats}) }()

	waitFor(t, "all samples to arrive", func() bool { return recvStats.Received.Load() == total })
	cancel()

	if err := <-sendDone; err != nil {
		t.Errorf("Send returned %v after cancel", err)
	}
	if err := <-recvDone; err != nil {
		t.Errorf("Receive returned %v after cancel", err)
	}

	if sendStats.Sent.Load() != total {
		t.Errorf("expected %d sent, got %d", total, sendStats.Sent.Load())
	}
	if recvStats.Overruns.Load() != 0 {
		t.Errorf("expected no overruns, got %d", recvStats.Overruns.Load())
	}

	for i := 0; i < latency; i++ {
		v, ok := playC.Pop()
		if !ok || v != 0 {
			t.Fatalf("priming sample %d = (%v, %v), want (0, true)", i, v, ok)
		}
	}
	for i := 0; i < total; i++ {
		v, ok := playC.Pop()
		if want := float32(i)/total - 0.5; !ok || v != want {
			t.Fatalf("sample %d = (%v, %v), want (%v, true)", i, v, ok, want)
		}
	}
	if _, ok := playC.Pop(); ok {
		t.Error("unexpected extra sample")
	}
}

func TestReceiveShortReadIsClosure(t *testing.T) {
	client, server := tcpPair(t)

	msg := protocol.AppendSample(nil, 0.5)
	msg = append(msg, 0x3f, 0x80)
	if _, err := client.Write(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	client.Close()

	playP, playC := ring.New(8)
	stats := &Stats{}
	err := Receive(context.Background(), server, playP, Options{Stats: stats})
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}

	if stats.Received.Load() != 1 {
		t.Errorf("expected 1 whole sample, got %d", stats.Received.Load())
	}
	if v, ok := playC.Pop(); !ok || v != 0.5 {
		t.Errorf("expected 0.5, got (%v, %v)", v, ok)
	}
	if _, ok := playC.Pop(); ok {
		t.Error("partial sample must not be decoded")
	}
}

func TestReceiveOverrunDropsNewest(t *testing.T) {
	client, server := tcpPair(t)

	var msg []byte
	for i := 1; i <= 10; i++ {
		msg = protocol.AppendSample(msg, float32(i))
	}
	client.Write(msg)
	client.Close()

	playP, playC := ring.New(4)
	stats := &Stats{}
	if err := Receive(context.Background(), server, playP, Options{Stats: stats}); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}

	if got := stats.Overruns.Load(); got != 6 {
		t.Errorf("expected 6 overruns, got %d", got)
	}
	for i := 1; i <= 4; i++ {
		if v, _ := playC.Pop(); v != float32(i) {
			t.Fatalf("slot %d = %v, want %d", i, v, i)
		}
	}
}

func TestReceiveCancelUnblocksRead(t *testing.T) {
	_, server := tcpPair(t)
	playP, _ := ring.New(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Receive(ctx, server, playP, Options{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

func TestDuplexStopsBothDirectionsOnPeerClose(t *testing.T) {
	client, server := tcpPair(t)

	_, capC := ring.New(16)
	playP, _ := ring.New(16)

	done := make(chan error, 1)
	go func() { done <- Duplex(context.Background(), server, capC, playP, Options{}) }()

	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrPeerClosed) {
			t.Errorf("expected ErrPeerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Duplex did not stop after the peer closed")
	}
}

func TestDatagramReceiveDropsMalformed(t *testing.T) {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot listen on loopback udp: %v", err)
	}
	defer pc.Close()

	client, err := net.DialUDP("udp", nil, pc.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial udp failed: %v", err)
	}
	defer client.Close()

	playP, playC := ring.New(16)
	stats := &Stats{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Receive(ctx, pc, playP, Options{Datagram: true, Stats: stats}) }()

	client.Write([]byte{1, 2, 3})
	client.Write(protocol.AppendSample(nil, 0.5))
	client.Write(protocol.AppendSample(protocol.AppendSample(nil, 1), 2))
	client.Write(protocol.AppendSample(nil, 0.25))

	waitFor(t, "datagrams", func() bool {
		return stats.Received.Load()+stats.Malformed.Load() == 4
	})
	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}

	if stats.Malformed.Load() != 2 {
		t.Errorf("expected 2 malformed datagrams, got %d", stats.Malformed.Load())
	}
	got := make([]float32, 4)
	if n := playC.PopSlice(got); n != 2 || got[0] != 0.5 || got[1] != 0.25 {
		t.Errorf("unexpected samples %v (n=%d)", got[:n], n)
	}
}

func TestDatagramSendOnePacketPerSample(t *testing.T) {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot listen on loopback udp: %v", err)
	}
	defer pc.Close()

	client, err := net.DialUDP("udp", nil, pc.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial udp failed: %v", err)
	}
	defer client.Close()

	capP, capC := ring.New(8)
	capP.PushSlice([]float32{0.1, 0.2, 0.3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Send(ctx, client, capC, Options{Datagram: true})

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for i, want := range []float32{0.1, 0.2, 0.3} {
		n, err := pc.Read(buf)
		if err != nil {
			t.Fatalf("datagram %d: %v", i, err)
		}
		if n != protocol.SampleSize {
			t.Fatalf("datagram %d has %d bytes", i, n)
		}
		if got := protocol.Sample(buf[:n]); got != want {
			t.Errorf("datagram %d = %v, want %v", i, got, want)
		}
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"send", RoleSend, false},
		{"Receive", RoleReceive, false},
		{"recv", RoleReceive, false},
		{" duplex ", RoleDuplex, false},
		{"echo", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseRole(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if !RoleDuplex.Sends() || !RoleDuplex.Receives() || RoleSend.Receives() || RoleReceive.Sends() {
		t.Error("role direction helpers disagree with role")
	}
}
