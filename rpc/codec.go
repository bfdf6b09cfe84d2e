package rpc

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype negotiated by both ends.
const codecName = "json"

// jsonCodec carries Request and Response over gRPC as JSON, which keeps the
// service free of generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
