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

package hpke

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"
)

// newAEAD builds the cipher.AEAD for aeadID keyed with key, matching the
// BoringSSL Go HPKE runner's newAEAD.
func newAEAD(aeadID AEADID, key []byte) (cipher.AEAD, error) {
	params, ok := LookupAEAD(aeadID)
	if !ok {
		return nil, ErrSuiteUnsupported
	}
	if len(key) != params.Nk {
		return nil, ErrAEADBadLength
	}
	switch aeadID {
	case AEADAES128GCM, AEADAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, ErrSuiteUnsupported
	}
}

// seal encrypts plaintext under (key, nonce, aad) and returns the
// ciphertext with the authentication tag appended. nonce must be exactly
// Nn bytes; a mismatch is a programmer error.
func seal(aeadID AEADID, key, nonce, aad, plaintext []byte) ([]byte, error) {
	a, err := newAEAD(aeadID, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != a.NonceSize() {
		panic("hpke: nonce length mismatch")
	}
	return a.Seal(nil, nonce, plaintext, aad), nil
}

// open verifies and decrypts ciphertext (which includes the trailing tag)
// under (key, nonce, aad).
func open(aeadID AEADID, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	params, ok := LookupAEAD(aeadID)
	if !ok {
		return nil, ErrSuiteUnsupported
	}
	if len(ciphertext) < params.Nt {
		return nil, ErrAEADBadLength
	}
	a, err := newAEAD(aeadID, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != a.NonceSize() {
		panic("hpke: nonce length mismatch")
	}
	plaintext, err := a.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAEADBadTag
	}
	return plaintext, nil
}
