package spectate

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ballarena/server/internal/world"
)

// Subscription is a client-side snapshot stream.
type Subscription struct {
	stream   grpc.ClientStream
	encoding Encoding
}

// Subscribe opens a snapshot stream and decodes frames with the encoding the
// server echoes back.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, encoding string, opts ...grpc.CallOption) (*Subscription, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(encoding)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	header, err := stream.Header()
	if err != nil {
		return nil, err
	}
	values := header.Get(EncodingHeader)
	if len(values) == 0 {
		//1.- No header means the stream failed before negotiation; surface its status.
		if err := stream.RecvMsg(new(wrapperspb.BytesValue)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("missing %s header", EncodingHeader)
	}
	negotiated, err := ParseEncoding(values[0], "")
	if err != nil {
		return nil, err
	}
	return &Subscription{stream: stream, encoding: negotiated}, nil
}

// Encoding reports the negotiated encoding.
func (s *Subscription) Encoding() Encoding {
	return s.encoding
}

// Recv blocks for the next snapshot.
func (s *Subscription) Recv() (world.Snapshot, error) {
	frame := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(frame); err != nil {
		return world.Snapshot{}, err
	}
	return s.encoding.Decode(frame.GetValue())
}
