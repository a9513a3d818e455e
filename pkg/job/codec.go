package job

import "encoding/json"

// Codec is the symmetric encode/decode contract between a typed job
// payload and the opaque bytes carried by a Record. decode(encode(x))
// must equal x for every well-formed x.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is the default self-describing textual codec. It never
// embeds a Go run-time type name, so a non-Go producer can interoperate
// as long as it agrees on the JSON shape.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, CodecError(err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return CodecError(err)
	}
	return nil
}
