package grpcstore

import (
	"context"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// Server exposes a storage.Backend over the Store gRPC service.
type Server struct {
	UnimplementedStoreServer
	Backend storage.Backend
}

func (s *Server) ready() error {
	if s == nil || s.Backend == nil {
		return status.Error(codes.FailedPrecondition, "missing backend")
	}
	return nil
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	b := in.GetValue()
	// Enforce the CID contract on the server side too.
	expected, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	id, err := s.Backend.Put(ctx, b)
	if err != nil {
		return nil, mapErr(err)
	}
	if id != expected {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	b, err := s.Backend.Get(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	got, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	if got != id {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	return wrapperspb.Bool(s.Backend.Has(ctx, id)), nil
}

func (s *Server) ListAppend(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	e, err := entryFromStruct(in.GetFields()["entry"].GetStructValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Backend.ListAppend(ctx, str(in, "list"), e); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) ListFetch(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries, err := s.Backend.ListFetch(ctx, str(in, "list"))
	if err != nil {
		return nil, mapErr(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(entries))}
	for _, e := range entries {
		out.Values = append(out.Values, structpb.NewStructValue(entryToStruct(e)))
	}
	return out, nil
}

func (s *Server) TableGet(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	v, err := s.Backend.TableGet(ctx, str(in, "table"), str(in, "key"))
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(v), nil
}

func (s *Server) TableSet(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	v, err := tableValue(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "value is not base64")
	}
	if err := s.Backend.TableSet(ctx, str(in, "table"), str(in, "key"), v); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) TableKeys(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	keys, err := s.Backend.TableKeys(ctx, str(in, "table"))
	if err != nil {
		return nil, mapErr(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(keys))}
	for _, k := range keys {
		out.Values = append(out.Values, structpb.NewStringValue(k))
	}
	return out, nil
}
