package grpcserver

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/DongNguyen06/lib-v2/internal/limiter"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if p := PrincipalFromCtx(ctx); p != nil {
			fields = append(fields, zap.String("user_id", p.UserID.String()))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

func lendingMethod(fullMethod string) (string, bool) {
	return strings.CutPrefix(fullMethod, "/"+ServiceName+"/")
}

// AuthUnary authenticates lending calls with a bearer JWT and stores the
// principal in context. Other services (health, reflection) pass through.
func AuthUnary(signKey []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := lendingMethod(info.FullMethod); !ok {
			return next(ctx, req)
		}
		p, err := principalFromCtx(ctx, signKey)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "Authentication required")
		}
		return next(WithPrincipal(ctx, p), req)
	}
}

// ThrottleUnary limits lending calls per user and method. It must run after
// AuthUnary. Limiter failures are logged and the call is let through.
func ThrottleUnary(lim limiter.Limiter, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		op, ok := lendingMethod(info.FullMethod)
		p := PrincipalFromCtx(ctx)
		if !ok || p == nil {
			return next(ctx, req)
		}
		allowed, retry, err := lim.Hit(ctx, p.UserID, op)
		if err != nil {
			log.Warn("throttle check failed", zap.String("method", op), zap.Error(err))
			return next(ctx, req)
		}
		if !allowed {
			return nil, status.Error(codes.ResourceExhausted,
				fmt.Sprintf("Too many requests, retry in %s", retry.Round(time.Second)))
		}
		return next(ctx, req)
	}
}
