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
	"crypto"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

// versionLabel is the HPKE version string baked into every labeled Extract
// and Expand call. This module targets draft-07.
const versionLabel = "HPKE-v07"

// labelScratchMax bounds the fixed-size scratch buffer used to assemble
// labeled ikm/info.
const labelScratchMax = 1024

// LabelMode selects how LabeledExtract/LabeledExpand build their "info"/"ikm"
// inputs.
type LabelMode int

const (
	// Raw passes ikm/info through unlabeled; used for RFC 5869 cross-checks.
	Raw LabelMode = iota
	// KEMSuite prepends "HPKE-vXX" || "KEM" || I2OSP(kem_id,2).
	KEMSuite
	// FullSuite prepends "HPKE-vXX" || "HPKE" || I2OSP(kem_id,2) ||
	// I2OSP(kdf_id,2) || I2OSP(aead_id,2).
	FullSuite
)

// labeledKDF performs labeled Extract/Expand for one HPKE suite's hash.
type labeledKDF struct {
	mode   LabelMode
	hash   crypto.Hash
	kemID  KEMID
	kdfID  KDFID
	aeadID AEADID
}

func i2ospUint16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func (k labeledKDF) suiteContext() []byte {
	switch k.mode {
	case KEMSuite:
		buf := make([]byte, 0, 5)
		buf = append(buf, "KEM"...)
		buf = append(buf, i2ospUint16(int(k.kemID))...)
		return buf
	case FullSuite:
		buf := make([]byte, 0, 10)
		buf = append(buf, "HPKE"...)
		buf = append(buf, i2ospUint16(int(k.kemID))...)
		buf = append(buf, i2ospUint16(int(k.kdfID))...)
		buf = append(buf, i2ospUint16(int(k.aeadID))...)
		return buf
	default:
		return nil
	}
}

// buildLabeled assembles version || suite_context || label || payload,
// bounded by labelScratchMax ("exceeding the bound fails with
// HKDF_OVERFLOW").
func (k labeledKDF) buildLabeled(prefix []byte, label string, payload []byte) ([]byte, error) {
	if k.mode == Raw {
		return payload, nil
	}
	buf := make([]byte, 0, labelScratchMax)
	buf = append(buf, prefix...)
	buf = append(buf, versionLabel...)
	buf = append(buf, k.suiteContext()...)
	buf = append(buf, label...)
	buf = append(buf, payload...)
	if len(buf) > labelScratchMax {
		return nil, ErrHKDFOverflow
	}
	return buf, nil
}

// LabeledExtract implements RFC 5869 Extract over a labeled IKM, writing
// exactly Nh bytes.
func (k labeledKDF) LabeledExtract(salt []byte, label string, ikm []byte) ([]byte, error) {
	labeledIKM, err := k.buildLabeled(nil, label, ikm)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(k.hash.New, labeledIKM, salt), nil
}

// LabeledExpand implements RFC 5869 Expand over a labeled info, writing
// exactly length bytes.
func (k labeledKDF) LabeledExpand(prk []byte, label string, info []byte, length int) ([]byte, error) {
	labeledInfo, err := k.buildLabeled(i2ospUint16(length), label, info)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	r := hkdf.Expand(k.hash.New, prk, labeledInfo)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nh returns the KDF's extract-output length in bytes.
func (k labeledKDF) Nh() int {
	return k.hash.Size()
}

// newFullSuiteKDF builds a labeledKDF in FullSuite mode for the given
// suite, using the KDF table's hash ("Expand/Extract select
// hash... from the KDF table otherwise").
func newFullSuiteKDF(s Suite) (labeledKDF, error) {
	kdfParams, ok := LookupKDF(s.KDF)
	if !ok {
		return labeledKDF{}, ErrSuiteUnsupported
	}
	return labeledKDF{mode: FullSuite, hash: kdfParams.Hash, kemID: s.KEM, kdfID: s.KDF, aeadID: s.AEAD}, nil
}

// newKEMSuiteKDF builds a labeledKDF in KEMSuite mode for the given KEM,
// using the KEM table's own hash.
func newKEMSuiteKDF(kemID KEMID) (labeledKDF, error) {
	kemParams, ok := LookupKEM(kemID)
	if !ok {
		return labeledKDF{}, ErrSuiteUnsupported
	}
	return labeledKDF{mode: KEMSuite, hash: kemParams.Hash, kemID: kemID}, nil
}

// newRawKDF builds a labeledKDF in Raw (unlabeled) mode over the given
// hash, for RFC 5869 cross-checks.
func newRawKDF(h crypto.Hash) labeledKDF {
	return labeledKDF{mode: Raw, hash: h}
}
