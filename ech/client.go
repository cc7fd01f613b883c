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

	"github.com/echkit/ech/hpke"
)

// echInfoPrefix is the fixed prefix of the HPKE info string, per
// draft-ietf-tls-esni §7.1: "tls ech" || 0x00 || ECHConfig.
var echInfoPrefix = append([]byte("tls ech"), 0x00)

// PrepareClientOffer builds a real ECH client offer. innerHello is the
// full ClientHello carrying the client's real SNI/ALPN/etc; outerTemplate
// is a ClientHello carrying the same non-sensitive extensions the client
// would send on a connection without ECH (typically with ServerName set
// to cfg.PublicName). The returned ClientHello is outerTemplate plus a
// populated outer "encrypted_client_hello" extension; the returned
// Session tracks the attempt for later Status() calls.
func PrepareClientOffer(cfg Config, kdf hpke.KDFID, aead hpke.AEADID, innerHello, outerTemplate *ClientHello, policy CompressionPolicy) (*ClientHello, *Session, error) {
	matched := false
	for _, cs := range cfg.Ciphersuites {
		if cs.KDF == kdf && cs.AEAD == aead {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil, fmt.Errorf("%w: kdf/aead not offered by this ECHConfig", ErrSuiteUnsupported)
	}
	aeadParams, ok := hpke.LookupAEAD(aead)
	if !ok {
		return nil, nil, ErrSuiteUnsupported
	}
	suite := hpke.Suite{KEM: cfg.KEM, KDF: kdf, AEAD: aead}

	encodedInner, err := BuildEncodedClientHelloInner(innerHello, outerTemplate, policy)
	if err != nil {
		return nil, nil, err
	}

	info := make([]byte, 0, len(echInfoPrefix)+len(cfg.Raw))
	info = append(info, echInfoPrefix...)
	info = append(info, cfg.Raw...)

	ctx, enc, err := hpke.SetupSender(hpke.ModeBase, suite, cfg.PublicKey, info, hpke.PSK{}, hpke.AuthKeys{})
	if err != nil {
		return nil, nil, err
	}

	outer := cloneClientHello(outerTemplate)
	outer.ECH = &ECHExtension{
		Type:        ECHTypeOuter,
		CipherSuite: Cipher{KDF: kdf, AEAD: aead},
		ConfigID:    cfg.ConfigID,
		Enc:         enc,
		Payload:     make([]byte, len(encodedInner)+aeadParams.Nt),
	}
	outer.Extensions = appendOrReplaceExtension(outer.Extensions, extTypeECH, outer.ECH.Marshal())

	aad, err := outer.MarshalAAD()
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err := ctx.Seal(aad, encodedInner)
	if err != nil {
		return nil, nil, err
	}
	outer.ECH.Payload = ciphertext
	outer.Extensions = appendOrReplaceExtension(outer.Extensions, extTypeECH, outer.ECH.Marshal())

	sess := NewSession()
	sess.attempted = true
	sess.outer = outer
	sess.outerSNI = outer.ServerName
	sess.inner = innerHello
	sess.innerSNI = innerHello.ServerName

	return outer, sess, nil
}

func appendOrReplaceExtension(exts []Extension, typ uint16, data []byte) []Extension {
	for i := range exts {
		if exts[i].Type == typ {
			exts[i].Data = data
			return exts
		}
	}
	return append(exts, Extension{Type: typ, Data: data})
}

func cloneClientHello(c *ClientHello) *ClientHello {
	clone := *c
	clone.Extensions = append([]Extension(nil), c.Extensions...)
	return &clone
}
