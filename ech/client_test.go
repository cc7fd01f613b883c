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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/echkit/ech/hpke"
)

func TestPrepareClientOfferEndToEnd(t *testing.T) {
	skR, pkR, err := hpke.GenerateKeyPair(hpke.KEMX25519HKDFSHA256)
	require.NoError(t, err)

	cfg := Config{
		Version:       draftVersion,
		ConfigID:      0x42,
		KEM:           hpke.KEMX25519HKDFSHA256,
		PublicKey:     pkR,
		Ciphersuites:  []Cipher{{KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}},
		MaxNameLength: 32,
		PublicName:    []byte("public.example"),
	}
	raw, err := cfg.Marshal()
	require.NoError(t, err)
	cfg.Raw = raw

	outerTemplate := &ClientHello{
		LegacyVersion:   0x0303,
		Random:          make([]byte, 32),
		LegacySessionID: []byte{1, 2, 3, 4},
		Extensions: []Extension{
			sharedExt(10, 0xaa),
			serverNameExtension("public.example"),
		},
	}
	innerHello := &ClientHello{
		LegacyVersion: 0x0303,
		Random:        make([]byte, 32),
		Extensions: []Extension{
			sharedExt(10, 0xaa),
			serverNameExtension("secret.example"),
		},
	}

	outer, clientSession, err := PrepareClientOffer(cfg, hpke.KDFHKDFSHA256, hpke.AEADAES128GCM, innerHello, outerTemplate, DefaultCompressionPolicy())
	require.NoError(t, err)
	require.NotNil(t, outer.ECH)
	require.Equal(t, ECHTypeOuter, outer.ECH.Type)
	require.True(t, clientSession.attempted)

	wireOuter := wireRoundTrip(t, outer)

	suite := hpke.Suite{KEM: cfg.KEM, KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}
	info := append(append([]byte{}, echInfoPrefix...), cfg.Raw...)
	ctx, err := hpke.SetupReceiver(hpke.ModeBase, suite, skR, wireOuter.ECH.Enc, info, hpke.PSK{}, hpke.AuthKeys{})
	require.NoError(t, err)

	server := NewSession()
	err = server.Open(ctx, wireOuter, nil)
	require.NoError(t, err)
	require.Equal(t, "secret.example", server.InnerServerName())
	require.Equal(t, "public.example", server.OuterServerName())
	require.Equal(t, StatusSuccess, server.Status(true))
}

func TestPrepareClientOfferRejectsUnsupportedSuite(t *testing.T) {
	cfg := Config{
		Version:       draftVersion,
		ConfigID:      1,
		KEM:           hpke.KEMX25519HKDFSHA256,
		PublicKey:     make([]byte, 32),
		Ciphersuites:  []Cipher{{KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}},
		MaxNameLength: 32,
		PublicName:    []byte("public.example"),
	}
	raw, err := cfg.Marshal()
	require.NoError(t, err)
	cfg.Raw = raw

	outerTemplate := &ClientHello{LegacyVersion: 0x0303, Random: make([]byte, 32)}
	innerHello := &ClientHello{LegacyVersion: 0x0303, Random: make([]byte, 32)}

	_, _, err = PrepareClientOffer(cfg, hpke.KDFHKDFSHA384, hpke.AEADAES256GCM, innerHello, outerTemplate, DefaultCompressionPolicy())
	require.ErrorIs(t, err, ErrSuiteUnsupported)
}

func TestSessionOpenRejectsServerNameVeto(t *testing.T) {
	skR, pkR, err := hpke.GenerateKeyPair(hpke.KEMX25519HKDFSHA256)
	require.NoError(t, err)

	cfg := Config{
		Version:       draftVersion,
		ConfigID:      0x09,
		KEM:           hpke.KEMX25519HKDFSHA256,
		PublicKey:     pkR,
		Ciphersuites:  []Cipher{{KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}},
		MaxNameLength: 32,
		PublicName:    []byte("public.example"),
	}
	raw, err := cfg.Marshal()
	require.NoError(t, err)
	cfg.Raw = raw

	outerTemplate := &ClientHello{
		LegacyVersion: 0x0303,
		Random:        make([]byte, 32),
		Extensions:    []Extension{serverNameExtension("public.example")},
	}
	innerHello := &ClientHello{
		LegacyVersion: 0x0303,
		Random:        make([]byte, 32),
		Extensions:    []Extension{serverNameExtension("forbidden.example")},
	}

	outer, _, err := PrepareClientOffer(cfg, hpke.KDFHKDFSHA256, hpke.AEADAES128GCM, innerHello, outerTemplate, DefaultCompressionPolicy())
	require.NoError(t, err)
	wireOuter := wireRoundTrip(t, outer)

	suite := hpke.Suite{KEM: cfg.KEM, KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}
	info := append(append([]byte{}, echInfoPrefix...), cfg.Raw...)
	ctx, err := hpke.SetupReceiver(hpke.ModeBase, suite, skR, wireOuter.ECH.Enc, info, hpke.PSK{}, hpke.AuthKeys{})
	require.NoError(t, err)

	errReject := errors.New("server name not allowed")
	server := NewSession()
	err = server.Open(ctx, wireOuter, func(name string) error {
		if name == "forbidden.example" {
			return errReject
		}
		return nil
	})
	require.ErrorIs(t, err, ErrInnerSNIRejected)
}

// wireRoundTrip simulates the outer ClientHello as the server actually
// receives it: bytes off the wire, decoded fresh, rather than the
// builder-side struct that never ran through parseNamedExtensions.
func wireRoundTrip(t *testing.T, c *ClientHello) *ClientHello {
	t.Helper()
	raw, err := c.Marshal()
	require.NoError(t, err)
	parsed, err := ParseClientHello(raw)
	require.NoError(t, err)
	return parsed
}
