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
	"slices"

	"golang.org/x/crypto/cryptobyte"

	"github.com/echkit/ech/hpke"
)

// Handshake and extension type values this package cares about. RFC 8446
// §4.1.2, RFC 6066 §3, RFC 7301 §3, and the encrypted_client_hello draft.
const (
	handshakeTypeClientHello = 0x01

	extTypeServerName        = 0
	extTypeALPN              = 16
	extTypeSupportedVersions = 43
	extTypeOuterExtensions   = 0xfd00
	extTypeECH               = 0xfe0d
)

// ECH ClientHello types (draft-ietf-tls-esni §5).
const (
	ECHTypeOuter uint8 = 0
	ECHTypeInner uint8 = 1
)

// Extension is a single generic TLS extension.
type Extension struct {
	Type uint16
	Data []byte
}

// ECHExtension is the decoded body of the encrypted_client_hello
// extension. For ECHTypeInner, only Type is meaningful.
type ECHExtension struct {
	Type        uint8
	CipherSuite Cipher
	ConfigID    uint8
	Enc         []byte
	Payload     []byte
}

// Marshal encodes the ECHClientHello struct body (draft-ietf-tls-esni
// §5) for use as an Extension's Data.
func (e *ECHExtension) Marshal() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(e.Type)
	if e.Type == ECHTypeOuter {
		b.AddUint16(uint16(e.CipherSuite.KDF))
		b.AddUint16(uint16(e.CipherSuite.AEAD))
		b.AddUint8(e.ConfigID)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.Enc) })
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.Payload) })
	}
	return b.BytesOrPanic()
}

// ClientHello is a parsed TLS 1.3 ClientHello handshake message, with the
// extensions this core needs to inspect lifted into named fields.
type ClientHello struct {
	LegacyVersion            uint16
	Random                   []byte
	LegacySessionID          []byte
	CipherSuites             []byte
	LegacyCompressionMethods []byte
	Extensions               []Extension

	ServerName          string
	ALPNProtocols       []string
	TLS13               bool
	OuterExtensionTypes []uint16
	ECH                 *ECHExtension
}

// ParseClientHello decodes a handshake message (msg_type || u24 length ||
// body); buf must contain exactly one ClientHello and nothing else.
func ParseClientHello(buf []byte) (*ClientHello, error) {
	hello := new(ClientHello)

	s := cryptobyte.String(buf)
	var msgType uint8
	if !s.ReadUint8(&msgType) {
		return nil, fmt.Errorf("%w: handshake msg_type", ErrFormatDecode)
	}
	if msgType != handshakeTypeClientHello {
		return nil, fmt.Errorf("%w: msg_type 0x%02x is not client_hello", ErrFormatDecode, msgType)
	}
	var body cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&body) {
		return nil, fmt.Errorf("%w: handshake length", ErrFormatDecode)
	}

	if !body.ReadUint16(&hello.LegacyVersion) {
		return nil, fmt.Errorf("%w: legacy_version", ErrFormatDecode)
	}
	if !body.ReadBytes(&hello.Random, 32) {
		return nil, fmt.Errorf("%w: random", ErrFormatDecode)
	}

	var v cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&v) {
		return nil, fmt.Errorf("%w: legacy_session_id", ErrFormatDecode)
	}
	hello.LegacySessionID = slices.Clone([]byte(v))

	if !body.ReadUint16LengthPrefixed(&v) {
		return nil, fmt.Errorf("%w: cipher_suites", ErrFormatDecode)
	}
	hello.CipherSuites = slices.Clone([]byte(v))

	if !body.ReadUint8LengthPrefixed(&v) {
		return nil, fmt.Errorf("%w: legacy_compression_methods", ErrFormatDecode)
	}
	hello.LegacyCompressionMethods = slices.Clone([]byte(v))

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("%w: extensions", ErrFormatDecode)
	}
	for !extensions.Empty() {
		var extType uint16
		var data cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&data) {
			return nil, fmt.Errorf("%w: extension", ErrFormatDecode)
		}
		hello.Extensions = append(hello.Extensions, Extension{Type: extType, Data: slices.Clone([]byte(data))})
	}
	if !body.Empty() {
		return nil, fmt.Errorf("%w: trailing bytes after extensions", ErrFormatDecode)
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: trailing bytes after handshake message", ErrFormatDecode)
	}

	if err := hello.parseNamedExtensions(); err != nil {
		return nil, err
	}
	return hello, nil
}

func (c *ClientHello) parseNamedExtensions() error {
	c.ServerName = ""
	c.ALPNProtocols = nil
	c.TLS13 = false
	c.OuterExtensionTypes = nil
	c.ECH = nil

	for _, ext := range c.Extensions {
		data := cryptobyte.String(ext.Data)
		switch ext.Type {
		case extTypeServerName:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("%w: server_name_list", ErrFormatDecode)
			}
			for !list.Empty() {
				var nameType uint8
				var hostName cryptobyte.String
				if !list.ReadUint8(&nameType) {
					return fmt.Errorf("%w: name_type", ErrFormatDecode)
				}
				if nameType != 0 {
					return fmt.Errorf("%w: unsupported name_type 0x%02x", ErrFormatDecode, nameType)
				}
				if !list.ReadUint16LengthPrefixed(&hostName) || c.ServerName != "" {
					return fmt.Errorf("%w: host_name", ErrFormatDecode)
				}
				c.ServerName = string(hostName)
			}

		case extTypeALPN:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("%w: protocol_name_list", ErrFormatDecode)
			}
			for !list.Empty() {
				var proto cryptobyte.String
				if !list.ReadUint8LengthPrefixed(&proto) {
					return fmt.Errorf("%w: protocol_name", ErrFormatDecode)
				}
				c.ALPNProtocols = append(c.ALPNProtocols, string(proto))
			}

		case extTypeSupportedVersions:
			var versions cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&versions) {
				return fmt.Errorf("%w: supported_versions", ErrFormatDecode)
			}
			for !versions.Empty() {
				var version uint16
				if !versions.ReadUint16(&version) {
					return fmt.Errorf("%w: protocol_version", ErrFormatDecode)
				}
				if version >= 0x0304 {
					c.TLS13 = true
				}
			}

		case extTypeOuterExtensions:
			var types cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&types) {
				return fmt.Errorf("%w: outer_extensions", ErrFormatDecode)
			}
			for !types.Empty() {
				var t uint16
				if !types.ReadUint16(&t) {
					return fmt.Errorf("%w: outer_extensions entry", ErrFormatDecode)
				}
				c.OuterExtensionTypes = append(c.OuterExtensionTypes, t)
			}

		case extTypeECH:
			echExt := &ECHExtension{}
			if !data.ReadUint8(&echExt.Type) {
				return fmt.Errorf("%w: ech type", ErrFormatDecode)
			}
			if echExt.Type > ECHTypeInner {
				return fmt.Errorf("%w: ech type %d", ErrFormatDecode, echExt.Type)
			}
			if echExt.Type == ECHTypeOuter {
				var kdf, aead uint16
				if !data.ReadUint16(&kdf) || !data.ReadUint16(&aead) {
					return fmt.Errorf("%w: ech cipher_suite", ErrFormatDecode)
				}
				echExt.CipherSuite = Cipher{KDF: hpke.KDFID(kdf), AEAD: hpke.AEADID(aead)}
				if !data.ReadUint8(&echExt.ConfigID) {
					return fmt.Errorf("%w: ech config_id", ErrFormatDecode)
				}
				var enc, payload cryptobyte.String
				if !data.ReadUint16LengthPrefixed(&enc) {
					return fmt.Errorf("%w: ech enc", ErrFormatDecode)
				}
				echExt.Enc = slices.Clone([]byte(enc))
				if !data.ReadUint16LengthPrefixed(&payload) || len(payload) == 0 {
					return fmt.Errorf("%w: ech payload", ErrFormatDecode)
				}
				echExt.Payload = slices.Clone([]byte(payload))
			}
			c.ECH = echExt
		}
	}
	return nil
}

// Marshal encodes the handshake message (msg_type || u24 length || body).
func (c *ClientHello) Marshal() ([]byte, error) {
	return c.marshal(false)
}

// MarshalAAD encodes the handshake message the way Marshal does, except
// that when an outer ECH extension is present its payload bytes are
// zeroed -- the AAD over the outer ClientHello binds the shape of the
// payload, not its contents, since the payload itself is what HPKE is
// authenticating (draft-ietf-tls-esni §5.2).
func (c *ClientHello) MarshalAAD() ([]byte, error) {
	return c.marshal(true)
}

func (c *ClientHello) marshal(zeroECHPayload bool) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(handshakeTypeClientHello)
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(c.LegacyVersion)
		b.AddBytes(c.Random)
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(c.LegacySessionID)
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(c.CipherSuites)
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(c.LegacyCompressionMethods)
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, ext := range c.Extensions {
				b.AddUint16(ext.Type)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					if zeroECHPayload && ext.Type == extTypeECH && c.ECH != nil && c.ECH.Type == ECHTypeOuter {
						n := len(ext.Data) - len(c.ECH.Payload)
						b.AddBytes(ext.Data[:n])
						b.AddBytes(make([]byte, len(ext.Data[n:])))
						return
					}
					b.AddBytes(ext.Data)
				})
			}
		})
	})
	return b.Bytes()
}
