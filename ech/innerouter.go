// Copyright 2026 The ECH Kit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ech

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ECHOutersMax bounds how many extension types may be named in a single
// outer_extensions extension.
const ECHOutersMax = 10

// CompressionPolicy controls which extension types the client is willing
// to compress into outer_extensions when building an
// EncodedClientHelloInner. Both tables are pure, static, per-extension-type
// policy: compression is driven entirely by type membership, never by a
// runtime comparison of the inner and outer extension bytes.
type CompressionPolicy struct {
	// CompressInOuter lists extension types eligible for compression --
	// ones whose value is expected to be identical between inner and
	// outer.
	CompressInOuter map[uint16]bool

	// IndependentValue lists extension types whose outer value is known
	// to differ from the inner value even though the type itself is
	// otherwise eligible for compression. A type present in both tables
	// is never compressed: it keeps its own inline value in the inner
	// ClientHello.
	IndependentValue map[uint16]bool
}

// DefaultCompressionPolicy compresses the extensions that are, in
// practice, always byte-identical between a client's inner and outer
// ClientHellos: supported_groups, signature_algorithms,
// supported_versions, and psk_key_exchange_modes. key_share is excluded
// because its value is independent between inner and outer (distinct
// ephemeral shares).
func DefaultCompressionPolicy() CompressionPolicy {
	return CompressionPolicy{
		CompressInOuter: map[uint16]bool{
			10: true, // supported_groups
			13: true, // signature_algorithms
			43: true, // supported_versions
			45: true, // psk_key_exchange_modes
		},
		IndependentValue: map[uint16]bool{
			51: true, // key_share
		},
	}
}

// compressible reports whether t should be named in outer_extensions
// rather than carried inline, purely from the two static policy tables.
func (p CompressionPolicy) compressible(t uint16) bool {
	return p.CompressInOuter[t] && !p.IndependentValue[t]
}

// BuildEncodedClientHelloInner produces the wire bytes of
// EncodedClientHelloInner: inner's extensions, with every extension whose
// type is compressible (per policy) and present in outer collapsed out of
// the inline list and instead named, once, in a single trailing
// outer_extensions extension listing all of them in the order encountered.
// legacy_session_id is carried as a zero-length field; the server
// re-attaches the real one from the outer ClientHello in SpliceTranscript.
func BuildEncodedClientHelloInner(inner, outer *ClientHello, policy CompressionPolicy) ([]byte, error) {
	outerTypes := make(map[uint16]bool, len(outer.Extensions))
	for _, e := range outer.Extensions {
		outerTypes[e.Type] = true
	}

	var result []Extension
	var compressed []uint16
	for _, ext := range inner.Extensions {
		if outerTypes[ext.Type] && policy.compressible(ext.Type) {
			compressed = append(compressed, ext.Type)
			continue
		}
		result = append(result, ext)
	}
	if len(compressed) > 0 {
		if len(compressed) > ECHOutersMax {
			return nil, fmt.Errorf("%w: outer_extensions run of %d exceeds ECH_OUTERS_MAX", ErrInputInvalid, len(compressed))
		}
		result = append(result, encodeOuterExtensionsMarker(compressed))
	}

	encodedInner := &ClientHello{
		LegacyVersion:            inner.LegacyVersion,
		Random:                   inner.Random,
		CipherSuites:             inner.CipherSuites,
		LegacyCompressionMethods: inner.LegacyCompressionMethods,
		Extensions:               result,
	}
	return encodedInner.Marshal()
}

func encodeOuterExtensionsMarker(types []uint16) Extension {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, t := range types {
			b.AddUint16(t)
		}
	})
	return Extension{Type: extTypeOuterExtensions, Data: b.BytesOrPanic()}
}

func decodeOuterExtensionsMarker(data []byte) ([]uint16, error) {
	s := cryptobyte.String(data)
	var list cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&list) || !s.Empty() {
		return nil, fmt.Errorf("%w: outer_extensions", ErrDecode)
	}
	var types []uint16
	for !list.Empty() {
		var t uint16
		if !list.ReadUint16(&t) {
			return nil, fmt.Errorf("%w: outer_extensions entry", ErrDecode)
		}
		types = append(types, t)
	}
	return types, nil
}

// SpliceTranscript reconstructs the full ClientHelloInner from a decoded
// EncodedClientHelloInner: it expands the (at most one) outer_extensions
// marker against outer's extensions and re-attaches outer's
// legacy_session_id. This is the structured-data equivalent of
// ech_swaperoo's transcript splice.
func SpliceTranscript(encodedInner, outer *ClientHello) (*ClientHello, error) {
	if len(outer.LegacySessionID) > 32 {
		return nil, fmt.Errorf("%w: legacy_session_id too large", ErrDecode)
	}

	type outerEntry struct {
		data       []byte
		duplicated bool
	}
	outerByType := make(map[uint16]outerEntry, len(outer.Extensions))
	for _, e := range outer.Extensions {
		if entry, seen := outerByType[e.Type]; seen {
			entry.duplicated = true
			outerByType[e.Type] = entry
			continue
		}
		outerByType[e.Type] = outerEntry{data: e.Data}
	}

	var spliced []Extension
	seenMarker := false
	seenType := make(map[uint16]bool, len(encodedInner.Extensions))

	for _, ext := range encodedInner.Extensions {
		if ext.Type != extTypeOuterExtensions {
			if seenType[ext.Type] {
				return nil, fmt.Errorf("%w: duplicate extension type 0x%04x", ErrDecode, ext.Type)
			}
			seenType[ext.Type] = true
			spliced = append(spliced, ext)
			continue
		}
		if seenMarker {
			return nil, fmt.Errorf("%w: more than one outer_extensions extension", ErrDecode)
		}
		seenMarker = true

		types, err := decodeOuterExtensionsMarker(ext.Data)
		if err != nil {
			return nil, err
		}
		if len(types) < 1 || len(types) > ECHOutersMax {
			return nil, fmt.Errorf("%w: outer_extensions names %d types", ErrDecode, len(types))
		}
		for _, t := range types {
			if t == extTypeECH {
				return nil, fmt.Errorf("%w: outer_extensions may not name the ech extension itself", ErrDecode)
			}
			if seenType[t] {
				return nil, fmt.Errorf("%w: duplicate extension type 0x%04x", ErrDecode, t)
			}
			seenType[t] = true
			entry, ok := outerByType[t]
			if !ok {
				return nil, fmt.Errorf("%w: outer_extensions names 0x%04x, absent from outer ClientHello", ErrDecode, t)
			}
			if entry.duplicated {
				return nil, fmt.Errorf("%w: extension type 0x%04x appears twice in outer ClientHello", ErrDecode, t)
			}
			spliced = append(spliced, Extension{Type: t, Data: entry.data})
		}
	}

	full := &ClientHello{
		LegacyVersion:            encodedInner.LegacyVersion,
		Random:                   encodedInner.Random,
		LegacySessionID:          outer.LegacySessionID,
		CipherSuites:             encodedInner.CipherSuites,
		LegacyCompressionMethods: encodedInner.LegacyCompressionMethods,
		Extensions:               spliced,
	}
	if err := full.parseNamedExtensions(); err != nil {
		return nil, err
	}
	return full, nil
}
