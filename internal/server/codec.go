package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec carries gRPC messages as JSON so the service can use plain Go
// structs. Clients select it with grpc.CallContentSubtype("json").
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(Codec{})
}
