package types

import (
	"github.com/hashicorp/go-msgpack/codec"
	"go.dedis.ch/kyber/v3/group/edwards25519"
)

// Suite is the kyber suite used for authority keys and content digests.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// Encode encodes the data into msgpack bytes.
// Data can be of any type.
func Encode(data interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode decodes msgpack bytes into the data.
// Data should be passed in the format of a pointer to a type.
func Decode(s []byte, data interface{}) error {
	dec := codec.NewDecoderBytes(s, &codec.MsgpackHandle{})
	return dec.Decode(data)
}

func genMsgHashSum(data []byte) (Digest, error) {
	var d Digest
	msgHash := Suite.Hash()
	if _, err := msgHash.Write(data); err != nil {
		return d, err
	}
	copy(d[:], msgHash.Sum(nil))
	return d, nil
}
