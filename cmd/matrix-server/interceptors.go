package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
)

const eventIDMetadataKey = "x-request-id"

// eventIDUnaryServerInterceptor ensures an event_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-call logger annotated with the method.
func eventIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(eventIDMetadataKey); len(vals) > 0 {
				ctx = logging.ContextWithEventID(ctx, vals[0])
			}
		}
		ctx, _ = logging.WithEventLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		return handler(ctx, req)
	}
}
