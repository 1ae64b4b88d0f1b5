package storage

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ArtifactEncoding defines the encoding formats for artifacts.
type ArtifactEncoding int

const (
	// ArtifactEncodingCBOR is the CBOR encoding format.
	ArtifactEncodingCBOR ArtifactEncoding = iota
	// ArtifactEncodingJSON is the JSON encoding format, used for exports.
	ArtifactEncodingJSON
)

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: invalid cbor options: %v", err))
	}
	return em
}()

// EncodeArtifact encodes an artifact into the given format, CBOR by default.
func EncodeArtifact(a any, encoding ...ArtifactEncoding) ([]byte, error) {
	if len(encoding) == 0 {
		return cborEncMode.Marshal(a)
	}
	switch encoding[0] {
	case ArtifactEncodingCBOR:
		return cborEncMode.Marshal(a)
	case ArtifactEncodingJSON:
		return json.MarshalIndent(a, "", "  ")
	default:
		return nil, fmt.Errorf("unknown artifact encoding: %d", encoding[0])
	}
}

// DecodeArtifact decodes an artifact from the given format, CBOR by default.
func DecodeArtifact(data []byte, out any, encoding ...ArtifactEncoding) error {
	if len(encoding) == 0 {
		return cbor.Unmarshal(data, out)
	}
	switch encoding[0] {
	case ArtifactEncodingCBOR:
		return cbor.Unmarshal(data, out)
	case ArtifactEncodingJSON:
		return json.Unmarshal(data, out)
	default:
		return fmt.Errorf("unknown artifact encoding: %d", encoding[0])
	}
}
