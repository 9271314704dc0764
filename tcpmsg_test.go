package tcpmsg_test

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corewire/tcpmsg"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestSendAndMessageDeliveryRoundTrip(t *testing.T) {
	addr := freeAddr(t)
	received := make(chan []byte, 1)

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Handlers: tcpmsg.Handlers{
			OnMessage: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) {
				received <- payload
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	require.NoError(t, cli.Send(&tcpmsg.Header{Status: tcpmsg.StatusNormal}, []byte("hello")))

	select {
	case payload := <-received:
		require.Equal(t, "hello", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendAndWaitSyncRoundTrip(t *testing.T) {
	addr := freeAddr(t)

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Handlers: tcpmsg.Handlers{
			OnSyncRequest: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) ([]byte, map[string]any, error) {
				return append([]byte("echo:"), payload...), nil, nil
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	_, payload, err := cli.SendAndWait(time.Second, []byte("ping"), nil)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(payload))
}

func TestSendAndWaitTimesOutWithoutAResponder(t *testing.T) {
	addr := freeAddr(t)
	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	time.Sleep(100 * time.Millisecond)

	_, _, err := cli.SendAndWait(50*time.Millisecond, []byte("ping"), nil)
	require.Error(t, err)
}

func TestOnConnectFiresBeforeOnMessageWithNoAuth(t *testing.T) {
	addr := freeAddr(t)
	var order []string
	var mu sync.Mutex
	received := make(chan struct{}, 1)

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Handlers: tcpmsg.Handlers{
			OnConnect: func(s *tcpmsg.Session) {
				mu.Lock()
				order = append(order, "connected")
				mu.Unlock()
			},
			OnMessage: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) {
				mu.Lock()
				order = append(order, "message")
				mu.Unlock()
				received <- struct{}{}
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	require.NoError(t, cli.Send(&tcpmsg.Header{Status: tcpmsg.StatusNormal}, []byte("hi")))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"connected", "message"}, order)
}

func TestOnConnectFiresBeforeOnAuthSucceeded(t *testing.T) {
	addr := freeAddr(t)
	const key = "top-secret"
	var order []string
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Session: tcpmsg.SessionConfig{PresharedKey: key},
		Handlers: tcpmsg.Handlers{
			OnConnect: func(s *tcpmsg.Session) {
				mu.Lock()
				order = append(order, "connected")
				mu.Unlock()
			},
			OnAuthSucceeded: func(s *tcpmsg.Session) {
				mu.Lock()
				order = append(order, "authenticated")
				mu.Unlock()
				done <- struct{}{}
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{Session: tcpmsg.SessionConfig{PresharedKey: key}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side auth success")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"connected", "authenticated"}, order)
}

func TestExpiredSyncRequestIsDroppedNotAnswered(t *testing.T) {
	addr := freeAddr(t)
	var handlerCalled int32

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Handlers: tcpmsg.Handlers{
			OnSyncRequest: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) ([]byte, map[string]any, error) {
				atomic.AddInt32(&handlerCalled, 1)
				return nil, nil, nil
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	// SendAndWait with an already-elapsed timeout mints a request whose
	// Expiration is in the past by the time the server reads it.
	_, _, err := cli.SendAndWait(1*time.Nanosecond, []byte("ping"), nil)
	require.Error(t, err)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&handlerCalled))
}

func TestPresharedKeyAuthSucceedsAndFails(t *testing.T) {
	addr := freeAddr(t)
	const key = "top-secret"

	var succeeded, failed int32
	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Session: tcpmsg.SessionConfig{PresharedKey: key},
		Handlers: tcpmsg.Handlers{
			OnAuthSucceeded: func(s *tcpmsg.Session) { atomic.AddInt32(&succeeded, 1) },
			OnAuthFailed:    func(s *tcpmsg.Session) { atomic.AddInt32(&failed, 1) },
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	good := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{Session: tcpmsg.SessionConfig{PresharedKey: key}})
	require.NoError(t, good.Connect(ctx))
	defer good.Disconnect(true)

	bad := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{Session: tcpmsg.SessionConfig{PresharedKey: "wrong"}})
	require.NoError(t, bad.Connect(ctx))
	defer bad.Disconnect(true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&succeeded) == 1 && atomic.LoadInt32(&failed) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestIdleTimeoutEvictsConnection(t *testing.T) {
	addr := freeAddr(t)
	var disconnected int32

	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Session:           tcpmsg.SessionConfig{IdleTimeout: 50 * time.Millisecond},
		IdleSweepInterval: 20 * time.Millisecond,
		Handlers: tcpmsg.Handlers{
			OnDisconnect: func(s *tcpmsg.Session, reason tcpmsg.DisconnectReason) {
				if reason == tcpmsg.ReasonTimeout {
					atomic.StoreInt32(&disconnected, 1)
				}
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&disconnected) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLargeStreamRoundTripPreservesChecksum(t *testing.T) {
	addr := freeAddr(t)

	payload := make([]byte, 4*1024*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	want := md5.Sum(payload)

	streamed := make(chan [16]byte, 1)
	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Session: tcpmsg.SessionConfig{MaxProxiedStreamSize: 1024},
		Handlers: tcpmsg.Handlers{
			OnStream: func(s *tcpmsg.Session, header *tcpmsg.Header, strm tcpmsg.StreamReader) {
				h := md5.New()
				_, copyErr := io.Copy(h, strm)
				require.NoError(t, copyErr)
				var sum [16]byte
				copy(sum[:], h.Sum(nil))
				streamed <- sum
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	require.NoError(t, cli.Send(&tcpmsg.Header{Status: tcpmsg.StatusNormal}, payload))

	select {
	case got := <-streamed:
		require.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the streamed payload")
	}
}

func TestConcurrentSendsDoNotInterleaveOnTheWire(t *testing.T) {
	addr := freeAddr(t)

	const messages = 200
	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	wg.Add(messages)
	srv := tcpmsg.NewServer(addr, tcpmsg.ServerConfig{
		Handlers: tcpmsg.Handlers{
			OnMessage: func(s *tcpmsg.Session, header *tcpmsg.Header, payload []byte) {
				mu.Lock()
				seen[string(payload)]++
				mu.Unlock()
				wg.Done()
			},
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cli := tcpmsg.NewClient(addr, tcpmsg.ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	defer cli.Disconnect(true)

	var senders sync.WaitGroup
	for i := 0; i < messages; i++ {
		senders.Add(1)
		go func(n int) {
			defer senders.Done()
			msg := []byte{byte(n), byte(n >> 8)}
			cli.SendAsync(&tcpmsg.Header{Status: tcpmsg.StatusNormal}, msg)
		}(i)
	}
	senders.Wait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for all concurrent sends to be delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, messages, "every distinct message body must have arrived intact and undamaged by interleaving")
}
