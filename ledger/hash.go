package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"go.dedis.ch/kyber/v4/suites"
)

var suite suites.Suite = suites.MustFind("Ed25519")

// HashBytes returns the hex encoded digest of data.
func HashBytes(data []byte) string {
	h := suite.Hash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex encoded digest of the canonical encoding of block.
// The canonical encoding is the block's JSON with object keys sorted at
// every level, so the digest depends only on the block content.
func Hash(block Block) string {
	data, err := canonicalJSON(block)
	if err != nil {
		// Block only holds JSON-safe values; this cannot happen for a well-formed block.
		panic(err)
	}
	return HashBytes(data)
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// maps are marshaled with sorted keys
	return json.Marshal(generic)
}
