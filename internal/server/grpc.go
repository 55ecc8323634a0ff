package server

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

// ============================================================================
// Observatory service: epiflight.v1.Observatory
//
//   rpc GetStatus(google.protobuf.Empty) returns (google.protobuf.Struct);
//   rpc GetCountry(google.protobuf.StringValue) returns (google.protobuf.Struct);
//
// Messages are well-known types, so no generated code is needed; the Struct
// carries the same JSON shape as the HTTP API.
// ============================================================================

const (
	observatoryService = "epiflight.v1.Observatory"
	getStatusMethod    = "/" + observatoryService + "/GetStatus"
	getCountryMethod   = "/" + observatoryService + "/GetCountry"
)

// ObservatoryServer is the server side of the Observatory service.
type ObservatoryServer interface {
	GetStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	GetCountry(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterObservatory registers srv on s.
func RegisterObservatory(s grpc.ServiceRegistrar, srv ObservatoryServer) {
	s.RegisterService(&observatoryDesc, srv)
}

var observatoryDesc = grpc.ServiceDesc{
	ServiceName: observatoryService,
	HandlerType: (*ObservatoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "GetCountry", Handler: getCountryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "epiflight/v1/observatory.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObservatoryServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ObservatoryServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getCountryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObservatoryServer).GetCountry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCountryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ObservatoryServer).GetCountry(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Observatory implements ObservatoryServer over a StatusSource.
type Observatory struct {
	source StatusSource
}

// NewObservatory creates the service.
func NewObservatory(src StatusSource) *Observatory {
	return &Observatory{source: src}
}

// GetStatus returns the whole simulation view.
func (o *Observatory) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(o.source.Status())
}

// GetCountry returns one country or NotFound.
func (o *Observatory) GetCountry(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	code := in.GetValue()
	if code == "" {
		return nil, status.Error(codes.InvalidArgument, "country code is required")
	}
	cs, ok := o.source.CountryStatus(code)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown country %q", code)
	}
	return toStruct(cs)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ============================================================================
// Client
// ============================================================================

// Client is a typed Observatory client.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to an Observatory at addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Status fetches the whole simulation view.
func (c *Client) Status(ctx context.Context) (types.Status, error) {
	var st types.Status
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out); err != nil {
		return st, err
	}
	if err := fromStruct(out, &st); err != nil {
		return st, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}

// Country fetches one country.
func (c *Client) Country(ctx context.Context, code string) (types.CountryStatus, error) {
	var cs types.CountryStatus
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getCountryMethod, wrapperspb.String(code), out); err != nil {
		return cs, err
	}
	if err := fromStruct(out, &cs); err != nil {
		return cs, fmt.Errorf("failed to decode country: %w", err)
	}
	return cs, nil
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
