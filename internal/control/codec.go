package control

import (
	"encoding/json"
	"fmt"
)

// jsonCodec is a minimal grpc/encoding.Codec that marshals request and
// response messages as JSON instead of protobuf. Deviation from the
// teacher, recorded in DESIGN.md: the teacher's gRPC services are
// generated from a protos/im tree this pack does not retrieve, and
// hand-authoring a second, fabricated "generated" pb.go would violate
// the no-fabrication rule. grpc.ForceServerCodec is a real, supported
// extension point (google.golang.org/grpc/encoding) — this keeps the
// dependency genuinely exercised rather than faked.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("control: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("control: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "json" }
