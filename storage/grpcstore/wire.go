package grpcstore

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/e-e-e/dweb-transport/storage"
)

func entryToStruct(e storage.ListEntry) *structpb.Struct {
	urls := make([]*structpb.Value, 0, len(e.URLs))
	for _, u := range e.URLs {
		urls = append(urls, structpb.NewStringValue(u))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"date":      structpb.NewStringValue(e.Date),
		"urls":      structpb.NewListValue(&structpb.ListValue{Values: urls}),
		"signature": structpb.NewStringValue(e.Signature),
		"signedby":  structpb.NewStringValue(e.SignedBy),
	}}
}

func entryFromStruct(s *structpb.Struct) (storage.ListEntry, error) {
	if s == nil {
		return storage.ListEntry{}, fmt.Errorf("grpcstore: missing list entry")
	}
	f := s.GetFields()
	e := storage.ListEntry{
		Date:      f["date"].GetStringValue(),
		Signature: f["signature"].GetStringValue(),
		SignedBy:  f["signedby"].GetStringValue(),
	}
	for _, v := range f["urls"].GetListValue().GetValues() {
		e.URLs = append(e.URLs, v.GetStringValue())
	}
	return e, nil
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func tableRequest(table, key string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"table": structpb.NewStringValue(table),
		"key":   structpb.NewStringValue(key),
	}}
}

func tableSetRequest(table, key string, value []byte) *structpb.Struct {
	req := tableRequest(table, key)
	req.Fields["value"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(value))
	return req
}

func tableValue(s *structpb.Struct) ([]byte, error) {
	return base64.StdEncoding.DecodeString(str(s, "value"))
}

func request(field, value string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{field: structpb.NewStringValue(value)}}
}

func appendRequest(list string, e storage.ListEntry) *structpb.Struct {
	req := request("list", list)
	req.Fields["entry"] = structpb.NewStructValue(entryToStruct(e))
	return req
}
