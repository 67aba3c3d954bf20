package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	BackupServiceName = "backup.BackupService"

	BackupCreateNewBackupMethod = "/backup.BackupService/CreateNewBackup"
	BackupSendLogMethod         = "/backup.BackupService/SendLog"
	BackupPullBackupMethod      = "/backup.BackupService/PullBackup"
	BackupAddAttachmentMethod   = "/backup.BackupService/AddAttachment"
	BackupAddAttachmentsMethod  = "/backup.BackupService/AddAttachments"
)

type (
	CreateNewBackupServer = grpc.BidiStreamingServer[CreateNewBackupRequest, CreateNewBackupResponse]
	SendLogServer         = grpc.ClientStreamingServer[SendLogRequest, SendLogResponse]
	PullBackupServer      = grpc.ServerStreamingServer[PullBackupResponse]
	AddAttachmentServer   = grpc.ClientStreamingServer[AddAttachmentRequest, Empty]

	CreateNewBackupClient = grpc.BidiStreamingClient[CreateNewBackupRequest, CreateNewBackupResponse]
	SendLogClient         = grpc.ClientStreamingClient[SendLogRequest, SendLogResponse]
	PullBackupClient      = grpc.ServerStreamingClient[PullBackupResponse]
	AddAttachmentClient   = grpc.ClientStreamingClient[AddAttachmentRequest, Empty]
)

// BackupServiceServer is implemented by the backup service.
type BackupServiceServer interface {
	CreateNewBackup(CreateNewBackupServer) error
	SendLog(SendLogServer) error
	PullBackup(*PullBackupRequest, PullBackupServer) error
	AddAttachment(AddAttachmentServer) error
	AddAttachments(context.Context, *AddAttachmentsRequest) (*Empty, error)
}

func RegisterBackupServiceServer(s grpc.ServiceRegistrar, srv BackupServiceServer) {
	s.RegisterService(&BackupServiceDesc, srv)
}

var BackupServiceDesc = grpc.ServiceDesc{
	ServiceName: BackupServiceName,
	HandlerType: (*BackupServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddAttachments", Handler: addAttachmentsHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CreateNewBackup",
			Handler:       createNewBackupHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "SendLog",
			Handler:       sendLogHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "PullBackup",
			Handler:       pullBackupHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "AddAttachment",
			Handler:       addAttachmentHandler,
			ClientStreams: true,
		},
	},
	Metadata: "backup.proto",
}

func createNewBackupHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BackupServiceServer).CreateNewBackup(
		&grpc.GenericServerStream[CreateNewBackupRequest, CreateNewBackupResponse]{ServerStream: stream})
}

func sendLogHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BackupServiceServer).SendLog(
		&grpc.GenericServerStream[SendLogRequest, SendLogResponse]{ServerStream: stream})
}

func pullBackupHandler(srv any, stream grpc.ServerStream) error {
	req := new(PullBackupRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(BackupServiceServer).PullBackup(req,
		&grpc.GenericServerStream[PullBackupRequest, PullBackupResponse]{ServerStream: stream})
}

func addAttachmentHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BackupServiceServer).AddAttachment(
		&grpc.GenericServerStream[AddAttachmentRequest, Empty]{ServerStream: stream})
}

func addAttachmentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(AddAttachmentsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BackupServiceServer).AddAttachments(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: BackupAddAttachmentsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BackupServiceServer).AddAttachments(ctx, req.(*AddAttachmentsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// BackupServiceClient calls BackupService over a client connection.
type BackupServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBackupServiceClient(cc grpc.ClientConnInterface) *BackupServiceClient {
	return &BackupServiceClient{cc: cc}
}

func (c *BackupServiceClient) CreateNewBackup(ctx context.Context, opts ...grpc.CallOption) (CreateNewBackupClient, error) {
	stream, err := c.cc.NewStream(ctx, &BackupServiceDesc.Streams[0], BackupCreateNewBackupMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[CreateNewBackupRequest, CreateNewBackupResponse]{ClientStream: stream}, nil
}

func (c *BackupServiceClient) SendLog(ctx context.Context, opts ...grpc.CallOption) (SendLogClient, error) {
	stream, err := c.cc.NewStream(ctx, &BackupServiceDesc.Streams[1], BackupSendLogMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[SendLogRequest, SendLogResponse]{ClientStream: stream}, nil
}

func (c *BackupServiceClient) PullBackup(ctx context.Context, req *PullBackupRequest, opts ...grpc.CallOption) (PullBackupClient, error) {
	stream, err := c.cc.NewStream(ctx, &BackupServiceDesc.Streams[2], BackupPullBackupMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[PullBackupRequest, PullBackupResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *BackupServiceClient) AddAttachment(ctx context.Context, opts ...grpc.CallOption) (AddAttachmentClient, error) {
	stream, err := c.cc.NewStream(ctx, &BackupServiceDesc.Streams[3], BackupAddAttachmentMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[AddAttachmentRequest, Empty]{ClientStream: stream}, nil
}

func (c *BackupServiceClient) AddAttachments(ctx context.Context, req *AddAttachmentsRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, BackupAddAttachmentsMethod, req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
