package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	BlobServiceName = "blob.BlobService"

	BlobPutMethod    = "/blob.BlobService/Put"
	BlobGetMethod    = "/blob.BlobService/Get"
	BlobRemoveMethod = "/blob.BlobService/Remove"
)

type (
	BlobPutServer = grpc.ClientStreamingServer[BlobPutRequest, BlobPutResponse]
	BlobGetServer = grpc.ServerStreamingServer[BlobGetResponse]

	BlobPutClient = grpc.ClientStreamingClient[BlobPutRequest, BlobPutResponse]
	BlobGetClient = grpc.ServerStreamingClient[BlobGetResponse]
)

// BlobServiceServer is implemented by the blob server.
type BlobServiceServer interface {
	Put(BlobPutServer) error
	Get(*BlobGetRequest, BlobGetServer) error
	Remove(context.Context, *BlobRemoveRequest) (*Empty, error)
}

func RegisterBlobServiceServer(s grpc.ServiceRegistrar, srv BlobServiceServer) {
	s.RegisterService(&BlobServiceDesc, srv)
}

var BlobServiceDesc = grpc.ServiceDesc{
	ServiceName: BlobServiceName,
	HandlerType: (*BlobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Remove", Handler: blobRemoveHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Put",
			Handler:       blobPutHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "Get",
			Handler:       blobGetHandler,
			ServerStreams: true,
		},
	},
	Metadata: "blob.proto",
}

func blobPutHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BlobServiceServer).Put(
		&grpc.GenericServerStream[BlobPutRequest, BlobPutResponse]{ServerStream: stream})
}

func blobGetHandler(srv any, stream grpc.ServerStream) error {
	req := new(BlobGetRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(BlobServiceServer).Get(req,
		&grpc.GenericServerStream[BlobGetRequest, BlobGetResponse]{ServerStream: stream})
}

func blobRemoveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BlobRemoveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlobServiceServer).Remove(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: BlobRemoveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlobServiceServer).Remove(ctx, req.(*BlobRemoveRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// BlobServiceClient calls BlobService over a client connection.
type BlobServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBlobServiceClient(cc grpc.ClientConnInterface) *BlobServiceClient {
	return &BlobServiceClient{cc: cc}
}

func (c *BlobServiceClient) Put(ctx context.Context, opts ...grpc.CallOption) (BlobPutClient, error) {
	stream, err := c.cc.NewStream(ctx, &BlobServiceDesc.Streams[0], BlobPutMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[BlobPutRequest, BlobPutResponse]{ClientStream: stream}, nil
}

func (c *BlobServiceClient) Get(ctx context.Context, req *BlobGetRequest, opts ...grpc.CallOption) (BlobGetClient, error) {
	stream, err := c.cc.NewStream(ctx, &BlobServiceDesc.Streams[1], BlobGetMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[BlobGetRequest, BlobGetResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *BlobServiceClient) Remove(ctx context.Context, req *BlobRemoveRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, BlobRemoveMethod, req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
