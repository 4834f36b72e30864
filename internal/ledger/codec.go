package ledger

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same record state always
// produces identical bytes, which is what makes the
// unchanged-on-failure guarantee checkable at the byte level.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored for
// forward compatibility of stored records.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Address implements encoding.TextMarshaler; serialize it as a
	// CBOR text string rather than an empty map.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Timestamps as RFC 3339 text: deterministic and lossless, unlike
	// the integer-seconds default.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalRecord encodes v with Core Deterministic Encoding. Used both
// for record persistence and as the canonical byte form signed by
// instruction submitters.
func MarshalRecord(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// UnmarshalRecord decodes CBOR data into v.
func UnmarshalRecord(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
