package ratelimit

import (
	"context"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UserIDMetadataKey carries the caller's user id in request metadata.
const UserIDMetadataKey = "user-id"

// ScopeForMethods returns a classifier that puts the listed full method
// names in the pull scope and everything else in the push scope.
func ScopeForMethods(pullMethods ...string) func(string) Scope {
	return func(fullMethod string) Scope {
		if slices.Contains(pullMethods, fullMethod) {
			return ScopePull
		}
		return ScopePush
	}
}

// UnaryServerInterceptor rejects unary calls over the limit with
// ResourceExhausted.
func UnaryServerInterceptor(l *Limiter, scopeOf func(string) Scope) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		result := take(ctx, l, scopeOf(info.FullMethod))
		if !result.Allowed {
			_ = grpc.SetHeader(ctx, retryAfter(result))
			return nil, exhausted(result)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor rejects streams over the limit before the
// handler runs.
func StreamServerInterceptor(l *Limiter, scopeOf func(string) Scope) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		result := take(ss.Context(), l, scopeOf(info.FullMethod))
		if !result.Allowed {
			_ = ss.SetHeader(retryAfter(result))
			return exhausted(result)
		}
		return handler(srv, ss)
	}
}

func take(ctx context.Context, l *Limiter, scope Scope) Result {
	return l.Take(time.Now().UTC(), scope, callerBucket(ctx))
}

// callerBucket charges calls to the user id from metadata, falling back to
// the peer host.
func callerBucket(ctx context.Context) Bucket {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(UserIDMetadataKey) {
			if v = strings.TrimSpace(v); v != "" {
				return Bucket{User: v}
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if addr != "" {
			return Bucket{Peer: addr}
		}
	}
	return Bucket{Peer: "unknown"}
}

func retryAfter(result Result) metadata.MD {
	return metadata.Pairs("retry-after", strconv.FormatInt(result.RetryAfterSeconds(), 10))
}

func exhausted(result Result) error {
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %ds", result.RetryAfterSeconds())
}
