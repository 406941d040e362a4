// Package rpc defines the worker protocol service shared by the gRPC server
// and the worker client.
//
// Messages are the plain structs in pkg/types. They travel as JSON through a
// registered gRPC codec, so the service descriptor is written by hand instead
// of being generated from .proto files.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
