package spectate

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ballarena/server/internal/logging"
	"ballarena/server/internal/world"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "ballarena.spectate.v1.Spectator"
	// StreamSnapshotsMethod is the full method path of the snapshot stream.
	StreamSnapshotsMethod = "/" + ServiceName + "/StreamSnapshots"
	// EncodingHeader carries the negotiated encoding in the response header.
	EncodingHeader = "x-arena-encoding"
)

// SnapshotSource exposes subscription semantics for snapshot fan-out.
type SnapshotSource interface {
	Subscribe() (<-chan world.Snapshot, func())
}

// SpectatorServer is the server API of the spectator service.
type SpectatorServer interface {
	StreamSnapshots(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// ServiceDesc describes the spectator service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpectatorServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSnapshots",
			Handler:       streamSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ballarena/spectate/v1/spectator.proto",
}

func streamSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SpectatorServer).StreamSnapshots(req, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// Register attaches the service to a gRPC server.
func Register(server grpc.ServiceRegistrar, service SpectatorServer) {
	server.RegisterService(&ServiceDesc, service)
}

// Option customises the behaviour of the spectator service.
type Option func(*Service)

// WithDefaultCompression sets the compression used when a request names only a codec.
func WithDefaultCompression(name string) Option {
	return func(s *Service) {
		s.defaultCompression = name
	}
}

// WithLogger attaches a logger to the service.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service streams arena snapshots to read-only spectators.
type Service struct {
	source             SnapshotSource
	defaultCompression string
	log                *logging.Logger
}

// NewService wires the spectator service to a snapshot source.
func NewService(source SnapshotSource, opts ...Option) *Service {
	service := &Service{source: source, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// StreamSnapshots relays every published snapshot in the requested encoding.
func (s *Service) StreamSnapshots(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "spectating unavailable")
	}
	encoding, err := ParseEncoding(req.GetValue(), s.defaultCompression)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx := stream.Context()
	snapshots, cancel := s.source.Subscribe()
	defer cancel()
	//1.- Announce the negotiated encoding once subscribed so the client sees every later publish.
	if err := stream.SendHeader(metadata.Pairs(EncodingHeader, encoding.Name())); err != nil {
		return err
	}
	log := s.log.With(logging.String("encoding", encoding.Name()))
	log.Debug("spectator subscribed")

	for {
		select {
		case <-ctx.Done():
			log.Debug("spectator left", logging.Error(ctx.Err()))
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case snapshot, ok := <-snapshots:
			if !ok {
				//2.- The hub closed for shutdown.
				return status.Error(codes.Unavailable, "arena shutting down")
			}
			payload, err := encoding.Encode(snapshot)
			if err != nil {
				return status.Errorf(codes.Internal, "encode snapshot: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(payload)); err != nil {
				return err
			}
		}
	}
}
