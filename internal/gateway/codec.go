// Package gateway exposes the runtime over gRPC: the agent service
// (turn execution, config introspection, tool validation, approval
// submission) and the sandbox service (lifecycle, file upload, streaming
// code execution).
//
// The wire schema is JSON rather than protobuf: messages are the
// JSON-tagged structs in pkg/wire and pkg/models, service descriptors are
// hand-written, and a codec registered under the "json" content-subtype
// does the encoding. Clients dial with
// grpc.CallContentSubtype(gateway.CodecName).
package gateway

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the gateway speaks
// (application/grpc+json on the wire).
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc/encoding.Codec over encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }
