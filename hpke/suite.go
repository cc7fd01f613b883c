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

// Package hpke implements Hybrid Public Key Encryption as specified by
// draft-irtf-cfrg-hpke-07: a DH-based KEM, an HKDF key schedule, and an
// AEAD, combined into a single-shot public-key encryption primitive.
package hpke

import "crypto"

// KEMID identifies a key encapsulation mechanism.
type KEMID uint16

// KDFID identifies a key derivation function.
type KDFID uint16

// AEADID identifies an authenticated encryption algorithm.
type AEADID uint16

// KEM identifiers accepted by this implementation.
const (
	KEMP256HKDFSHA256   KEMID = 0x0010
	KEMP384HKDFSHA384   KEMID = 0x0011
	KEMP521HKDFSHA512   KEMID = 0x0012
	KEMX25519HKDFSHA256 KEMID = 0x0020
	KEMX448HKDFSHA512   KEMID = 0x0021
)

// KDF identifiers accepted by this implementation.
const (
	KDFHKDFSHA256 KDFID = 0x0001
	KDFHKDFSHA384 KDFID = 0x0002
	KDFHKDFSHA512 KDFID = 0x0003
)

// AEAD identifiers accepted by this implementation.
const (
	AEADAES128GCM        AEADID = 0x0001
	AEADAES256GCM        AEADID = 0x0002
	AEADChaCha20Poly1305 AEADID = 0x0003
	// AEADExportOnly designates a suite with no AEAD; only the exporter
	// secret is usable. Not used by ECH; it has no row in aeadTable, so a
	// Suite naming it is not Supported.
	AEADExportOnly AEADID = 0xFFFF
)

// curveKind distinguishes NIST uncompressed-point curves from the
// modern (X25519/X448) curves, since they import keys differently.
type curveKind int

const (
	curveNIST curveKind = iota
	curveModern
)

// KEMParams is the per-kem_id parameter row: curve kind, the KEM's own
// internal hash, and its four lengths (shared secret, enc, public key,
// private key).
type KEMParams struct {
	Kind   curveKind
	Hash   crypto.Hash
	Nsecret int // KEM shared-secret length
	Nenc    int // encapsulated-key length
	Npk     int // public-key length
	Npriv   int // raw private-key length
}

// KDFParams is the per-kdf_id parameter row.
type KDFParams struct {
	Hash crypto.Hash
	Nh   int // extract output length
}

// AEADParams is the per-aead_id parameter row.
type AEADParams struct {
	Nk int // key length
	Nn int // nonce length, always 12
	Nt int // tag length, always 16
}

var kemTable = map[KEMID]KEMParams{
	KEMP256HKDFSHA256:   {Kind: curveNIST, Hash: crypto.SHA256, Nsecret: 32, Nenc: 65, Npk: 65, Npriv: 32},
	KEMP384HKDFSHA384:   {Kind: curveNIST, Hash: crypto.SHA384, Nsecret: 48, Nenc: 97, Npk: 97, Npriv: 48},
	KEMP521HKDFSHA512:   {Kind: curveNIST, Hash: crypto.SHA512, Nsecret: 64, Nenc: 133, Npk: 133, Npriv: 66},
	KEMX25519HKDFSHA256: {Kind: curveModern, Hash: crypto.SHA256, Nsecret: 32, Nenc: 32, Npk: 32, Npriv: 32},
	KEMX448HKDFSHA512:   {Kind: curveModern, Hash: crypto.SHA512, Nsecret: 64, Nenc: 56, Npk: 56, Npriv: 56},
}

var kdfTable = map[KDFID]KDFParams{
	KDFHKDFSHA256: {Hash: crypto.SHA256, Nh: 32},
	KDFHKDFSHA384: {Hash: crypto.SHA384, Nh: 48},
	KDFHKDFSHA512: {Hash: crypto.SHA512, Nh: 64},
}

var aeadTable = map[AEADID]AEADParams{
	AEADAES128GCM:        {Nk: 16, Nn: 12, Nt: 16},
	AEADAES256GCM:        {Nk: 32, Nn: 12, Nt: 16},
	AEADChaCha20Poly1305: {Nk: 32, Nn: 12, Nt: 16},
}

// Suite is the (kem_id, kdf_id, aead_id) triple that selects an HPKE
// algorithm instance.
type Suite struct {
	KEM  KEMID
	KDF  KDFID
	AEAD AEADID
}

// LookupKEM returns the parameter row for id, or false if id does not
// resolve to a supported KEM.
func LookupKEM(id KEMID) (KEMParams, bool) {
	p, ok := kemTable[id]
	return p, ok
}

// LookupKDF returns the parameter row for id, or false if id does not
// resolve to a supported KDF.
func LookupKDF(id KDFID) (KDFParams, bool) {
	p, ok := kdfTable[id]
	return p, ok
}

// LookupAEAD returns the parameter row for id, or false if id does not
// resolve to a supported AEAD.
func LookupAEAD(id AEADID) (AEADParams, bool) {
	p, ok := aeadTable[id]
	return p, ok
}

// Supported reports whether every component of s resolves to a row in its
// table.
func (s Suite) Supported() bool {
	if _, ok := kemTable[s.KEM]; !ok {
		return false
	}
	if _, ok := kdfTable[s.KDF]; !ok {
		return false
	}
	if _, ok := aeadTable[s.AEAD]; !ok {
		return false
	}
	return true
}
