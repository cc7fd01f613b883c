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
	"io"

	circlhpke "github.com/cloudflare/circl/hpke"

	"github.com/echkit/ech/hpke"
)

// defaultGreaseMaxNameLength matches real-world ECH deployments' typical
// maximum_name_length.
const defaultGreaseMaxNameLength = 42

// greaseKEMScheme maps this package's KEMID space onto circl's, for the
// KEMs circl's key generator supports. circl has no X448 KEM scheme, so
// callers asking for KEMX448HKDFSHA512 get ErrSuiteUnsupported here --
// GREASE keys are never used to decrypt anything real, but we still only
// claim KEMs we can actually generate a plausible public key for.
func greaseKEMScheme(kem hpke.KEMID) (circlhpke.KEM, bool) {
	switch kem {
	case hpke.KEMX25519HKDFSHA256:
		return circlhpke.KEM_X25519_HKDF_SHA256, true
	case hpke.KEMP256HKDFSHA256:
		return circlhpke.KEM_P256_HKDF_SHA256, true
	case hpke.KEMP384HKDFSHA384:
		return circlhpke.KEM_P384_HKDF_SHA384, true
	case hpke.KEMP521HKDFSHA512:
		return circlhpke.KEM_P521_HKDF_SHA512, true
	default:
		return 0, false
	}
}

// GenerateGreaseECHConfigList builds a syntactically valid, semantically
// meaningless ECHConfigList: one ECHConfig whose key_config carries a
// freshly generated public key for which no private key exists anywhere.
// A client that isn't configured with real ECH sends this in place of a
// real ECHConfigList, so that a network observer cannot distinguish ECH
// clients from GREASE-only ones (draft-ietf-tls-esni §11.2).
func GenerateGreaseECHConfigList(rnd io.Reader, kem hpke.KEMID, publicName string) ([]byte, error) {
	scheme, ok := greaseKEMScheme(kem)
	if !ok {
		return nil, fmt.Errorf("%w: no GREASE key generator for kem_id 0x%04x", ErrSuiteUnsupported, kem)
	}
	publicKey, _, err := scheme.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ech: GREASE key generation: %w", err)
	}
	publicKeyBytes, err := publicKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("ech: GREASE public key: %w", err)
	}

	var configID [1]byte
	if _, err := io.ReadFull(rnd, configID[:]); err != nil {
		return nil, fmt.Errorf("ech: GREASE config_id: %w", err)
	}

	cfg := Config{
		Version:   draftVersion,
		ConfigID:  configID[0],
		KEM:       kem,
		PublicKey: publicKeyBytes,
		Ciphersuites: []Cipher{
			{KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM},
		},
		MaxNameLength: defaultGreaseMaxNameLength,
		PublicName:    []byte(publicName),
	}
	list := ConfigList{Configs: []Config{cfg}}
	return list.Marshal()
}
