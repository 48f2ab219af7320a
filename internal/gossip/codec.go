package gossip

import (
	"github.com/vmihailenco/msgpack/v5"
)

// CodecName is the gRPC content-subtype of the gossip wire format.
const CodecName = "msgpack"

// Codec is a gRPC codec that encodes messages with msgpack. The gossip
// service has no protobuf definitions; both ends force this codec.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (Codec) Name() string                       { return CodecName }
