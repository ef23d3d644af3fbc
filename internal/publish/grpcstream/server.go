// Package grpcstream streams published messages to gRPC clients over a
// server-streaming Subscribe method.
package grpcstream

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	"github.com/banshee-data/cepton-bridge/internal/publish"
)

var logger = monitoring.Component("grpc")

// ServiceName is the fully qualified service name.
const ServiceName = "cepton.bridge.PointStream"

// Full frames can carry tens of thousands of points; the 4MB default is too small.
const maxMsgSize = 16 * 1024 * 1024

type pointStreamServer interface {
	subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*pointStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "cepton/bridge/point_stream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(pointStreamServer).subscribe(req, stream)
}

// Server is a publish.Sink that fans messages out to gRPC subscribers.
type Server struct {
	hub  *publish.Hub
	grpc *grpc.Server
}

// NewServer builds the server and registers the stream service.
func NewServer(m *monitoring.Metrics, opts ...grpc.ServerOption) *Server {
	hub := publish.NewHub(m)
	hub.Name = "grpc"
	s := &Server{hub: hub}
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Advertise implements publish.Sink.
func (s *Server) Advertise(topic string) error { return s.hub.Advertise(topic) }

// Publish implements publish.Sink.
func (s *Server) Publish(topic string, msg publish.Message) { s.hub.Publish(topic, msg) }

// Stats returns subscriber counters.
func (s *Server) Stats() publish.HubStats { return s.hub.Stats() }

// Serve accepts connections on lis until Close.
func (s *Server) Serve(lis net.Listener) error {
	logger.Printf("listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves in the background.
func (s *Server) ListenAndServe(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			logger.Warnf("serve: %v", err)
		}
	}()
	return lis.Addr(), nil
}

// Close ends every stream and stops the server.
func (s *Server) Close() error {
	s.hub.Close()
	s.grpc.GracefulStop()
	logger.Printf("stopped")
	return nil
}

func (s *Server) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	sub := s.hub.Subscribe(req.Topics...)
	defer s.hub.Unsubscribe(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&msg); err != nil {
				logger.Warnf("send to %s: %v", sub.ID, err)
				return err
			}
		}
	}
}

// Client subscribes to a remote stream.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target. Callers supply transport credentials.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Stream is an open subscription.
type Stream struct {
	cs grpc.ClientStream
}

// Subscribe opens a stream for the given topics.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Stream, error) {
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Subscribe",
		grpc.CallContentSubtype(CodecName), grpc.MaxCallRecvMsgSize(maxMsgSize))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&SubscribeRequest{Topics: topics}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Recv blocks for the next message.
func (s *Stream) Recv() (publish.Message, error) {
	var msg publish.Message
	err := s.cs.RecvMsg(&msg)
	return msg, err
}
