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
	"crypto"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/echkit/ech/hpke"
)

// AcceptConfirmationLen is the length, in bytes, of the accept
// confirmation signal the server embeds in the trailing bytes of
// ServerHello.random when it honored a client's ECH offer.
const AcceptConfirmationLen = 8

// ComputeAcceptConfirmation derives the accept-confirmation signal
// (echServerHelloRandom): HKDF-Extract, with no salt, over
// client_random(32) || the first 24 bytes of a ServerHello.random whose
// trailing AcceptConfirmationLen bytes have been zeroed, truncated to
// AcceptConfirmationLen bytes.
func ComputeAcceptConfirmation(hash crypto.Hash, clientRandom, serverRandomZeroed []byte) ([]byte, error) {
	if len(clientRandom) != 32 {
		return nil, fmt.Errorf("%w: client_random must be 32 bytes", ErrInputInvalid)
	}
	const zeroedLen = 32 - AcceptConfirmationLen
	if len(serverRandomZeroed) != zeroedLen {
		return nil, fmt.Errorf("%w: server_random (confirmation zeroed) must be %d bytes", ErrInputInvalid, zeroedLen)
	}
	secret := make([]byte, 0, len(clientRandom)+len(serverRandomZeroed))
	secret = append(secret, clientRandom...)
	secret = append(secret, serverRandomZeroed...)
	full := hkdf.Extract(hash.New, secret, nil)
	return full[:AcceptConfirmationLen], nil
}

// VerifyAcceptConfirmation reports whether signal matches the accept
// confirmation computed from clientRandom and serverRandomZeroed.
func VerifyAcceptConfirmation(hash crypto.Hash, clientRandom, serverRandomZeroed, signal []byte) (bool, error) {
	want, err := ComputeAcceptConfirmation(hash, clientRandom, serverRandomZeroed)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(want, signal) == 1, nil
}

// Status mirrors SSL_ech_get_status's outcome enum.
type Status int

const (
	StatusNotTried Status = iota
	StatusGrease
	StatusSuccess
	StatusBadName
	StatusFailed
	StatusBadCall
)

func (s Status) String() string {
	switch s {
	case StatusNotTried:
		return "NOT_TRIED"
	case StatusGrease:
		return "GREASE"
	case StatusSuccess:
		return "SUCCESS"
	case StatusBadName:
		return "BAD_NAME"
	case StatusFailed:
		return "FAILED"
	default:
		return "BAD_CALL"
	}
}

// Session tracks one connection's ECH negotiation outcome: whether ECH
// was attempted, whether it succeeded, and (for clients not configured
// with a real ECHConfig) whether this connection sent a GREASE offer
// instead. It is the structured analogue of the SSL extension fields
// ech_attempted/ech_success/ech_grease/ech_done.
type Session struct {
	attempted bool
	success   bool
	grease    bool
	done      bool

	outer *ClientHello
	inner *ClientHello

	innerSNI string
	outerSNI string
}

// NewSession returns an empty Session: ECH not attempted, not GREASE.
func NewSession() *Session {
	return &Session{}
}

// MarkGrease records that this connection sent a GREASE ECH offer rather
// than a real one.
func (s *Session) MarkGrease() {
	s.grease = true
	slog.Debug("ech: sent GREASE ECH offer")
}

// Open runs the server side of ECH: it opens outer's ech extension
// payload under ctx, decodes the resulting EncodedClientHelloInner, and
// splices it against outer to reconstruct the full inner ClientHello
// (ech_swaperoo). If selectServerName is non-nil, it is invoked with the
// reconstructed inner's SNI and may veto the match by returning an error,
// in which case Open returns ErrInnerSNIRejected.
//
// A malformed or non-decrypting payload is not itself a Go error: it
// means ECH failed for this connection (the caller should continue the
// handshake using outer as a normal, unprotected ClientHello), and
// Status will report StatusFailed. Only a malformed ech extension on
// outer, or a server-name rejection, is returned as an error.
func (s *Session) Open(ctx *hpke.Context, outer *ClientHello, selectServerName func(string) error) error {
	if outer.ECH == nil || outer.ECH.Type != ECHTypeOuter {
		return fmt.Errorf("%w: outer ClientHello carries no outer ech extension", ErrInputInvalid)
	}
	s.attempted = true
	s.done = true
	s.outer = outer
	s.outerSNI = outer.ServerName

	aad, err := outer.MarshalAAD()
	if err != nil {
		return nil
	}
	plaintext, err := ctx.Open(aad, outer.ECH.Payload)
	if err != nil {
		return nil
	}
	encodedInner, err := ParseClientHello(plaintext)
	if err != nil {
		return nil
	}
	full, err := SpliceTranscript(encodedInner, outer)
	if err != nil {
		return nil
	}

	if selectServerName != nil {
		if err := selectServerName(full.ServerName); err != nil {
			return fmt.Errorf("%w: %v", ErrInnerSNIRejected, err)
		}
	}

	s.inner = full
	s.innerSNI = full.ServerName
	s.success = true
	return nil
}

// OpenWithStore runs the server side of ECH the way a listener actually
// has to: it does not yet know which of its loaded ECHConfigs the
// client's offer was built against. It first tries the loaded configs
// whose ConfigID equals the outer ech extension's wire config_id, then
// falls back to trial-decryption against every other loaded config --
// spec.md's config_id derivation is an Open Question, and a stubbed or
// otherwise non-authoritative config_id must not block a real match.
//
// If at least one config_id match existed but none of the candidate
// contexts decrypted the payload, this behaves exactly like Open against
// that candidate: Status reports StatusFailed. If no loaded config's
// ConfigID matched at all and trial-decryption against every other
// config also failed, the offer is indistinguishable from a GREASE
// decoy (S6): the session is marked GREASE and OpenWithStore returns
// ErrNoMatchingConfig, but the caller should still continue the
// handshake using outer as a normal, unprotected ClientHello.
func (s *Session) OpenWithStore(store *Store, outer *ClientHello, selectServerName func(string) error) error {
	if outer.ECH == nil || outer.ECH.Type != ECHTypeOuter {
		return fmt.Errorf("%w: outer ClientHello carries no outer ech extension", ErrInputInvalid)
	}

	var idMatches, rest []*KeyedConfig
	for _, kc := range store.Configs() {
		if kc.Config.ConfigID == outer.ECH.ConfigID {
			idMatches = append(idMatches, kc)
		} else {
			rest = append(rest, kc)
		}
	}

	candidates := make([]*KeyedConfig, 0, len(idMatches)+len(rest))
	candidates = append(candidates, idMatches...)
	candidates = append(candidates, rest...)

	for _, kc := range candidates {
		ctx, err := setupReceiverFor(kc, outer.ECH.CipherSuite, outer.ECH.Enc)
		if err != nil {
			continue
		}
		if err := s.Open(ctx, outer, selectServerName); err != nil {
			return err
		}
		if s.success {
			return nil
		}
		// This candidate's HPKE context opened the door but the
		// payload didn't decrypt under it; reset and try the next one.
		s.attempted, s.done = false, false
	}

	s.outer = outer
	s.outerSNI = outer.ServerName
	s.done = true
	if len(idMatches) > 0 {
		s.attempted = true
		slog.Debug("ech: config_id matched but decryption failed", "config_id", outer.ECH.ConfigID)
		return nil
	}

	s.grease = true
	slog.Debug("ech: no loaded ECHConfig matches, treating as GREASE", "config_id", outer.ECH.ConfigID)
	return ErrNoMatchingConfig
}

// setupReceiverFor derives the HPKE receiver context for kc against the
// outer ClientHello's ech extension ciphersuite and enc value.
func setupReceiverFor(kc *KeyedConfig, cs Cipher, enc []byte) (*hpke.Context, error) {
	suite := hpke.Suite{KEM: kc.Config.KEM, KDF: cs.KDF, AEAD: cs.AEAD}
	info := make([]byte, 0, len(echInfoPrefix)+len(kc.Config.Raw))
	info = append(info, echInfoPrefix...)
	info = append(info, kc.Config.Raw...)
	return hpke.SetupReceiver(hpke.ModeBase, suite, kc.PrivateKey, enc, info, hpke.PSK{}, hpke.AuthKeys{})
}

// Status reports the ECH outcome for this session, with
// SSL_ech_get_status's precedence: an attempted negotiation's own
// success/failure always outranks GREASE, which in turn outranks
// NOT_TRIED. certVerifyOK distinguishes SUCCESS from BAD_NAME -- ECH can
// decrypt successfully yet still name a server identity that fails
// certificate verification.
func (s *Session) Status(certVerifyOK bool) Status {
	if s.attempted {
		if s.success {
			if certVerifyOK {
				return StatusSuccess
			}
			return StatusBadName
		}
		return StatusFailed
	}
	if s.grease {
		return StatusGrease
	}
	return StatusNotTried
}

// InnerServerName returns the SNI from the inner ClientHello, once Open
// has succeeded.
func (s *Session) InnerServerName() string {
	return s.innerSNI
}

// OuterServerName returns the SNI from the outer ClientHello, if any.
func (s *Session) OuterServerName() string {
	return s.outerSNI
}

// Inner returns the inner ClientHello. On a server session it is the one
// Open reconstructed, and nil until Open succeeds; on a client session it
// is the inner ClientHello given to PrepareClientOffer, whatever the
// outcome.
func (s *Session) Inner() *ClientHello {
	return s.inner
}

// RecordClientAcceptance is called on the client side once it has
// checked (or failed to check) the server's accept confirmation signal
// against VerifyAcceptConfirmation, finalizing this attempt's outcome.
func (s *Session) RecordClientAcceptance(accepted bool) {
	s.success = accepted
	s.done = true
}
