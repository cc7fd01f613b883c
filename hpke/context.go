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

import "encoding/binary"

// Mode selects which inputs feed the HPKE key schedule.
type Mode uint8

const (
	ModeBase Mode = iota
	ModePSK
	ModeAuth
	ModePSKAuth
)

func (m Mode) valid() bool {
	return m <= ModePSKAuth
}

// PSK carries the pre-shared key material for ModePSK/ModePSKAuth.
type PSK struct {
	ID  []byte
	Key []byte
}

// AuthKeys carries the sender/recipient authentication keys for
// ModeAuth/ModePSKAuth. On the sender side SecretKey is the sender's
// private key; on the recipient side PublicKey is the sender's public key.
type AuthKeys struct {
	SecretKey []byte
	PublicKey []byte
}

// Context holds the derived key schedule for a sealing or opening side.
type Context struct {
	suite Suite

	key            []byte
	baseNonce      []byte
	seq            uint64
	exporterSecret []byte
}

// keySchedule builds key_schedule_context, derives secret using the
// draft-07 ordering (Extract(shared_secret, "secret", psk), with no
// psk_hash branch), then derives key, base_nonce, and exporter_secret.
func keySchedule(mode Mode, suite Suite, sharedSecret, info []byte, psk PSK) (*Context, error) {
	if !mode.valid() {
		return nil, ErrModeBad
	}
	usesPSK := mode == ModePSK || mode == ModePSKAuth
	if usesPSK {
		if len(psk.ID) == 0 || len(psk.Key) == 0 {
			return nil, ErrBadPSK
		}
	} else if len(psk.ID) != 0 || len(psk.Key) != 0 {
		return nil, ErrBadPSK
	}

	kdf, err := newFullSuiteKDF(suite)
	if err != nil {
		return nil, err
	}
	aeadParams, ok := LookupAEAD(suite.AEAD)
	if !ok {
		return nil, ErrSuiteUnsupported
	}

	pskIDHash, err := kdf.LabeledExtract(nil, "psk_id_hash", psk.ID)
	if err != nil {
		return nil, err
	}
	infoHash, err := kdf.LabeledExtract(nil, "info_hash", info)
	if err != nil {
		return nil, err
	}

	ksContext := make([]byte, 0, 1+len(pskIDHash)+len(infoHash))
	ksContext = append(ksContext, byte(mode))
	ksContext = append(ksContext, pskIDHash...)
	ksContext = append(ksContext, infoHash...)

	// draft-07 ordering: secret = Extract(shared_secret, "secret", psk).
	secret, err := kdf.LabeledExtract(sharedSecret, "secret", psk.Key)
	if err != nil {
		return nil, err
	}

	key, err := kdf.LabeledExpand(secret, "key", ksContext, aeadParams.Nk)
	if err != nil {
		return nil, err
	}
	baseNonce, err := kdf.LabeledExpand(secret, "base_nonce", ksContext, aeadParams.Nn)
	if err != nil {
		return nil, err
	}
	exporterSecret, err := kdf.LabeledExpand(secret, "exp", ksContext, kdf.Nh())
	if err != nil {
		return nil, err
	}

	return &Context{
		suite:          suite,
		key:            key,
		baseNonce:      baseNonce,
		seq:            0,
		exporterSecret: exporterSecret,
	}, nil
}

func (c *Context) computeNonce() []byte {
	nonce := make([]byte, len(c.baseNonce))
	copy(nonce, c.baseNonce)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], c.seq)
	off := len(nonce) - 8
	for i, b := range seqBytes {
		nonce[off+i] ^= b
	}
	return nonce
}

func (c *Context) incrementSeq() {
	c.seq++
	if c.seq == 0 {
		panic("hpke: sequence number overflow")
	}
}

// Seal encrypts plaintext under the derived key and the current nonce,
// then advances the sequence number.
func (c *Context) Seal(aad, plaintext []byte) ([]byte, error) {
	ct, err := seal(c.suite.AEAD, c.key, c.computeNonce(), aad, plaintext)
	if err != nil {
		return nil, err
	}
	c.incrementSeq()
	return ct, nil
}

// Open decrypts ciphertext under the derived key and the current nonce,
// then advances the sequence number.
func (c *Context) Open(aad, ciphertext []byte) ([]byte, error) {
	pt, err := open(c.suite.AEAD, c.key, c.computeNonce(), aad, ciphertext)
	if err != nil {
		return nil, err
	}
	c.incrementSeq()
	return pt, nil
}

// Export derives additional keying material bound to exporterContext
// (RFC 5869 style exporter secret), independent of the seal/open sequence.
func (c *Context) Export(exporterContext []byte, length int) ([]byte, error) {
	kdf, err := newFullSuiteKDF(c.suite)
	if err != nil {
		return nil, err
	}
	return kdf.LabeledExpand(c.exporterSecret, "sec", exporterContext, length)
}

// senderAuthKey resolves the raw Auth-mode secret key the KEM engine needs
// for encap, enforcing that ModeAuth/ModePSKAuth always carry one.
func senderAuthKey(mode Mode, auth AuthKeys) ([]byte, error) {
	if mode != ModeAuth && mode != ModePSKAuth {
		return nil, nil
	}
	if len(auth.SecretKey) == 0 {
		return nil, ErrAuthKeyMissing
	}
	return auth.SecretKey, nil
}

// recipientAuthKey resolves the raw Auth-mode public key the KEM engine
// needs for decap, enforcing that ModeAuth/ModePSKAuth always carry one.
func recipientAuthKey(mode Mode, auth AuthKeys) ([]byte, error) {
	if mode != ModeAuth && mode != ModePSKAuth {
		return nil, nil
	}
	if len(auth.PublicKey) == 0 {
		return nil, ErrAuthKeyMissing
	}
	return auth.PublicKey, nil
}

// SetupSender runs encap + key_schedule for the sender side, returning the
// derived Context and the encapsulated key to send on the wire. This is
// seal_single_shot minus the final AEAD call, exposed separately so that
// callers -- e.g. ECH -- can seal exactly once.
func SetupSender(mode Mode, suite Suite, pkR, info []byte, psk PSK, auth AuthKeys) (ctx *Context, enc []byte, err error) {
	if !suite.Supported() {
		return nil, nil, ErrSuiteUnsupported
	}
	skAuth, err := senderAuthKey(mode, auth)
	if err != nil {
		return nil, nil, err
	}
	sharedSecret, enc, err := Encap(suite.KEM, pkR, skAuth)
	if err != nil {
		return nil, nil, err
	}
	ctx, err = keySchedule(mode, suite, sharedSecret, info, psk)
	if err != nil {
		return nil, nil, err
	}
	return ctx, enc, nil
}

// SetupSenderWithKey is SetupSender with the sender's ephemeral KEM keypair
// supplied by the caller instead of generated internally. It exists so that
// known-answer test vectors (which pin skE/enc) can be reproduced
// byte-for-byte through the same code path production traffic uses.
func SetupSenderWithKey(mode Mode, suite Suite, skE, pkE, pkR, info []byte, psk PSK, auth AuthKeys) (ctx *Context, enc []byte, err error) {
	if !suite.Supported() {
		return nil, nil, ErrSuiteUnsupported
	}
	skAuth, err := senderAuthKey(mode, auth)
	if err != nil {
		return nil, nil, err
	}
	sharedSecret, enc, err := encapWithKey(suite.KEM, skE, pkE, pkR, skAuth)
	if err != nil {
		return nil, nil, err
	}
	ctx, err = keySchedule(mode, suite, sharedSecret, info, psk)
	if err != nil {
		return nil, nil, err
	}
	return ctx, enc, nil
}

// SetupReceiver runs decap + key_schedule for the recipient side. This is
// open_single_shot minus the final AEAD call.
func SetupReceiver(mode Mode, suite Suite, skR, enc, info []byte, psk PSK, auth AuthKeys) (ctx *Context, err error) {
	if !suite.Supported() {
		return nil, ErrSuiteUnsupported
	}
	pkAuth, err := recipientAuthKey(mode, auth)
	if err != nil {
		return nil, err
	}
	sharedSecret, err := Decap(suite.KEM, skR, enc, pkAuth)
	if err != nil {
		return nil, err
	}
	return keySchedule(mode, suite, sharedSecret, info, psk)
}

// SealSingleShot encaps, derives the key schedule, and seals exactly one
// message in a single call.
func SealSingleShot(mode Mode, suite Suite, pkR, info, aad, plaintext []byte, psk PSK, auth AuthKeys) (ciphertext, enc []byte, err error) {
	ctx, enc, err := SetupSender(mode, suite, pkR, info, psk, auth)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = ctx.Seal(aad, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, enc, nil
}

// OpenSingleShot decaps, derives the key schedule, and opens exactly one
// message in a single call.
func OpenSingleShot(mode Mode, suite Suite, skR, enc, info, aad, ciphertext []byte, psk PSK, auth AuthKeys) ([]byte, error) {
	ctx, err := SetupReceiver(mode, suite, skR, enc, info, psk, auth)
	if err != nil {
		return nil, err
	}
	return ctx.Open(aad, ciphertext)
}
