package ratelimit

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerContext(addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(context.Background(), &peer.Peer{Addr: tcp})
}

func TestUnaryServerInterceptor_UserBucket(t *testing.T) {
	t.Parallel()

	l := New(testConfig(0, 0, 1, 5))
	intercept := UnaryServerInterceptor(l, ScopeForMethods("/svc/Pull"))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Push"}
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	ctx := metadata.NewIncomingContext(peerContext("10.0.0.1:4000"), metadata.Pairs(UserIDMetadataKey, "U1"))
	if _, err := intercept(ctx, nil, info, handler); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	_, err := intercept(ctx, nil, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second call error = %v, want ResourceExhausted", err)
	}

	other := metadata.NewIncomingContext(peerContext("10.0.0.1:4000"), metadata.Pairs(UserIDMetadataKey, "U2"))
	if _, err := intercept(other, nil, info, handler); err != nil {
		t.Fatalf("other user error = %v", err)
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func (f *fakeServerStream) SetHeader(md metadata.MD) error {
	f.header = metadata.Join(f.header, md)
	return nil
}

func TestStreamServerInterceptor_PeerBucketAndScope(t *testing.T) {
	t.Parallel()

	l := New(testConfig(0, 1, 0, 2))
	intercept := StreamServerInterceptor(l, ScopeForMethods("/svc/Pull"))
	calls := 0
	handler := func(any, grpc.ServerStream) error {
		calls++
		return nil
	}

	stream := &fakeServerStream{ctx: peerContext("10.0.0.9:1234")}
	pull := &grpc.StreamServerInfo{FullMethod: "/svc/Pull"}
	if err := intercept(nil, stream, pull, handler); err != nil {
		t.Fatalf("first pull error = %v", err)
	}
	// A different source port is the same peer.
	stream.ctx = peerContext("10.0.0.9:9999")
	if err := intercept(nil, stream, pull, handler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second pull error = %v, want ResourceExhausted", err)
	}
	if len(stream.header.Get("retry-after")) != 1 {
		t.Fatalf("retry-after header = %v", stream.header)
	}

	push := &grpc.StreamServerInfo{FullMethod: "/svc/Push"}
	if err := intercept(nil, stream, push, handler); err != nil {
		t.Fatalf("push error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("handler calls = %d, want 2", calls)
	}
}
