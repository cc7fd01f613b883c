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

// Package ech implements the Encrypted ClientHello TLS extension: parsing
// ECHConfig records, building and decoding the compressed inner/outer
// ClientHello pair, and the per-connection ECH session state machine.
package ech

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/crypto/cryptobyte"

	"github.com/echkit/ech/hpke"
)

// draftVersion is the only ECHConfig version this module accepts; other
// versions are skipped, not rejected.
const draftVersion uint16 = 0xff09

// maxConfigBytes is the hard ceiling on a single ECHConfig record's encoded
// size ("total <= 512 bytes").
const maxConfigBytes = 512

// Cipher is one (kdf_id, aead_id) entry in an ECHConfig's ciphersuite list.
type Cipher struct {
	KDF  hpke.KDFID
	AEAD hpke.AEADID
}

// Extension is one (type, value) entry in an ECHConfig's extension list.
type Extension struct {
	Type  uint16
	Value []byte
}

// Config is a single parsed ECHConfig record.
type Config struct {
	Raw           []byte // the encoded bytes of this record, version through content
	Version       uint16
	KEM           hpke.KEMID
	PublicKey     []byte
	Ciphersuites  []Cipher
	MaxNameLength uint16
	PublicName    []byte
	Extensions    []Extension

	// ConfigID is not a wire field of ECHConfigContents: the original
	// implementation stubs it to a caller-derived value rather than
	// reading or writing one on the wire (spec.md's config_id is
	// explicitly caller-derived). Callers that want a stable identifier
	// for a config (e.g. to populate the ECH extension's config_id when
	// offering it, or to index a Store) set this field themselves; it is
	// never parsed out of or serialized into an ECHConfig record.
	ConfigID uint8

	// ALPN and NoDefaultALPN are populated only when this Config was
	// recovered from an HTTPS/SVCB resource record.
	ALPN          []string
	NoDefaultALPN bool
}

// ConfigList is a parsed ECHConfigs: zero or more known-version records,
// plus the original encoded bytes.
type ConfigList struct {
	Raw     []byte
	Configs []Config
}

// ParseConfigList parses data as a binary ECHConfigs (outer u16 length,
// then a sequence of version/length/content records). Unknown versions
// are skipped so the remaining known-version records still parse.
func ParseConfigList(data []byte) (*ConfigList, error) {
	s := cryptobyte.String(data)
	var length uint16
	if !s.ReadUint16(&length) {
		return nil, fmt.Errorf("%w: ECHConfigList length", ErrFormatDecode)
	}
	if int(length) != len(data)-2 {
		return nil, fmt.Errorf("%w: ECHConfigList length mismatch", ErrFormatDecode)
	}
	var configs []Config
	for !s.Empty() {
		cfg, skip, err := parseConfigRecord(&s)
		if err != nil {
			return nil, err
		}
		if !skip {
			configs = append(configs, cfg)
		}
	}
	return &ConfigList{Raw: append([]byte(nil), data...), Configs: configs}, nil
}

// parseConfigRecord reads one ECHConfig record from the front of s. When
// the record's version is not draftVersion, skip is true and cfg is zero.
func parseConfigRecord(s *cryptobyte.String) (cfg Config, skip bool, err error) {
	start := []byte(*s)
	var version uint16
	if !s.ReadUint16(&version) {
		return Config{}, false, fmt.Errorf("%w: ECHConfig version", ErrFormatDecode)
	}
	var contents cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&contents) {
		return Config{}, false, fmt.Errorf("%w: ECHConfig length", ErrFormatDecode)
	}
	recLen := 4 + len(contents)
	if recLen > maxConfigBytes {
		return Config{}, false, fmt.Errorf("%w: ECHConfig exceeds %d bytes", ErrFormatDecode, maxConfigBytes)
	}
	raw := append([]byte(nil), start[:recLen]...)
	if version != draftVersion {
		return Config{}, true, nil
	}

	cfg.Raw = raw
	cfg.Version = version

	var name cryptobyte.String
	if !contents.ReadUint16LengthPrefixed(&name) || len(name) == 0 {
		return Config{}, false, fmt.Errorf("%w: public_name", ErrFormatDecode)
	}
	cfg.PublicName = append([]byte(nil), name...)

	var pk cryptobyte.String
	if !contents.ReadUint16LengthPrefixed(&pk) || len(pk) == 0 {
		return Config{}, false, fmt.Errorf("%w: public_key", ErrFormatDecode)
	}
	cfg.PublicKey = append([]byte(nil), pk...)

	var kemID uint16
	if !contents.ReadUint16(&kemID) {
		return Config{}, false, fmt.Errorf("%w: kem_id", ErrFormatDecode)
	}
	cfg.KEM = hpke.KEMID(kemID)

	var suites cryptobyte.String
	if !contents.ReadUint16LengthPrefixed(&suites) {
		return Config{}, false, fmt.Errorf("%w: cipher_suites", ErrFormatDecode)
	}
	if len(suites) == 0 || len(suites)%4 != 0 {
		return Config{}, false, fmt.Errorf("%w: cipher_suites must be a non-empty multiple of 4 bytes", ErrFormatDecode)
	}
	for !suites.Empty() {
		var kdf, aead uint16
		if !suites.ReadUint16(&kdf) || !suites.ReadUint16(&aead) {
			return Config{}, false, fmt.Errorf("%w: cipher_suites entry", ErrFormatDecode)
		}
		cfg.Ciphersuites = append(cfg.Ciphersuites, Cipher{KDF: hpke.KDFID(kdf), AEAD: hpke.AEADID(aead)})
	}

	if !contents.ReadUint16(&cfg.MaxNameLength) {
		return Config{}, false, fmt.Errorf("%w: maximum_name_length", ErrFormatDecode)
	}

	var exts cryptobyte.String
	if !contents.ReadUint16LengthPrefixed(&exts) {
		return Config{}, false, fmt.Errorf("%w: extensions", ErrFormatDecode)
	}
	for !exts.Empty() {
		var t uint16
		var val cryptobyte.String
		if !exts.ReadUint16(&t) || !exts.ReadUint16LengthPrefixed(&val) {
			return Config{}, false, fmt.Errorf("%w: extension", ErrFormatDecode)
		}
		if len(val) >= 0xffff {
			return Config{}, false, fmt.Errorf("%w: extension value too large", ErrFormatDecode)
		}
		cfg.Extensions = append(cfg.Extensions, Extension{Type: t, Value: append([]byte(nil), val...)})
	}
	if !contents.Empty() {
		return Config{}, false, fmt.Errorf("%w: trailing bytes in ECHConfigContents", ErrFormatDecode)
	}
	return cfg, false, nil
}

// Marshal serializes a single Config record. Field order is public_name,
// public_key, kem_id, cipher_suites, maximum_name_length, extensions;
// config_id is never written (it is not a wire field — see Config.ConfigID).
func (c Config) Marshal() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16(c.Version)
	b.AddUint16LengthPrefixed(func(content *cryptobyte.Builder) {
		content.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			child.AddBytes(c.PublicName)
		})
		content.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			child.AddBytes(c.PublicKey)
		})
		content.AddUint16(uint16(c.KEM))
		content.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			for _, cs := range c.Ciphersuites {
				child.AddUint16(uint16(cs.KDF))
				child.AddUint16(uint16(cs.AEAD))
			}
		})
		content.AddUint16(c.MaxNameLength)
		content.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
			for _, e := range c.Extensions {
				child.AddUint16(e.Type)
				child.AddUint16LengthPrefixed(func(cc *cryptobyte.Builder) {
					cc.AddBytes(e.Value)
				})
			}
		})
	})
	return b.Bytes()
}

// Marshal serializes the whole ECHConfigs list.
func (l ConfigList) Marshal() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, c := range l.Configs {
			raw, err := c.Marshal()
			if err != nil {
				child.SetError(err)
				return
			}
			child.AddBytes(raw)
		}
	})
	return b.Bytes()
}

// ParseConfigListBytes auto-detects the encoding of input (binary,
// ascii-hex, base64, or an HTTPS/SVCB "echconfig=" presentation value) and
// parses the resulting ECHConfigs.
func ParseConfigListBytes(input []byte) (*ConfigList, error) {
	decoded, err := detectAndDecode(input)
	if err != nil {
		return nil, err
	}
	return ParseConfigList(decoded)
}

const svcbPresentationLiteral = "echconfig="

// detectAndDecode picks the encoding of input: if it contains the
// "echconfig=" literal, the rest after the literal is base64; otherwise
// input made only of hex digits and ';' is ascii-hex, input made only of
// base64 characters and ';' is base64, and anything else is binary.
func detectAndDecode(input []byte) ([]byte, error) {
	if idx := bytes.Index(input, []byte(svcbPresentationLiteral)); idx >= 0 {
		rest := input[idx+len(svcbPresentationLiteral):]
		return decodeMultiValue(rest, base64.StdEncoding.DecodeString, false)
	}
	if isASCIIHexCharset(input) {
		return decodeMultiValue(input, hex.DecodeString, true)
	}
	if isBase64Charset(input) {
		return decodeMultiValue(input, base64.StdEncoding.DecodeString, false)
	}
	return append([]byte(nil), input...), nil
}

func isASCIIHexCharset(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == ';') {
			return false
		}
	}
	return true
}

func isBase64Charset(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		isAlnum := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !(isAlnum || c == '+' || c == '/' || c == '=' || c == ';') {
			return false
		}
	}
	return true
}

// decodeMultiValue splits on ';' (the multi-value separator), decodes
// each non-empty segment with decodeOne, and concatenates the results. A
// trailing (empty) segment contributes no bytes, so it never inflates
// the output.
func decodeMultiValue(b []byte, decodeOne func(string) ([]byte, error), preferHex bool) ([]byte, error) {
	var out []byte
	for _, part := range strings.Split(strings.TrimSpace(string(b)), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		decoded, err := decodeOne(part)
		if err != nil {
			kind := "base64"
			if preferHex {
				kind = "ascii-hex"
			}
			return nil, fmt.Errorf("%w: %s decode: %v", ErrFormatDecode, kind, err)
		}
		out = append(out, decoded...)
	}
	return out, nil
}

// ParseSVCBRecordBody parses the RDATA of an HTTPS/SVCB resource record:
// a 2-byte priority, an RFC 1035 target name, and a sequence of
// SvcParamKey TLVs. The "ech" param's ECHConfigs bytes are re-parsed;
// "alpn" and "no-default-alpn" are attached to each resulting Config.
// Returns nil, nil if no "ech" SvcParamKey is present.
func ParseSVCBRecordBody(rdata []byte) (*ConfigList, error) {
	if len(rdata) < 2 {
		return nil, fmt.Errorf("%w: SVCB RDATA too short", ErrFormatDecode)
	}
	_ = binary.BigEndian.Uint16(rdata[:2]) // SvcPriority; not interpreted by this core
	_, off, err := dns.UnpackDomainName(rdata, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: SVCB target name: %v", ErrFormatDecode, err)
	}

	params := cryptobyte.String(rdata[off:])
	var alpn []string
	var noDefaultALPN bool
	var list *ConfigList
	for !params.Empty() {
		var key uint16
		var val cryptobyte.String
		if !params.ReadUint16(&key) || !params.ReadUint16LengthPrefixed(&val) {
			return nil, fmt.Errorf("%w: SvcParam TLV", ErrFormatDecode)
		}
		switch dns.SVCBKey(key) {
		case dns.SVCB_ECHCONFIG:
			l, err := ParseConfigList(val)
			if err != nil {
				return nil, err
			}
			list = l
		case dns.SVCB_ALPN:
			protos := cryptobyte.String(val)
			for !protos.Empty() {
				var proto cryptobyte.String
				if !protos.ReadUint8LengthPrefixed(&proto) {
					return nil, fmt.Errorf("%w: alpn SvcParam", ErrFormatDecode)
				}
				alpn = append(alpn, string(proto))
			}
		case dns.SVCB_NO_DEFAULT_ALPN:
			noDefaultALPN = true
		}
	}
	if list == nil {
		return nil, nil
	}
	for i := range list.Configs {
		list.Configs[i].ALPN = alpn
		list.Configs[i].NoDefaultALPN = noDefaultALPN
	}
	return list, nil
}

// KeyedConfig pairs a server's ECHConfig with its decryption key and the
// bookkeeping needed for the freshness check below.
type KeyedConfig struct {
	Config     Config
	PrivateKey []byte
	SourcePath string
	LoadedAt   time.Time
}

// FreshnessOutcome is the result of an add-from-file call.
type FreshnessOutcome int

const (
	New FreshnessOutcome = iota
	Unmodified
	Modified
	Failed
)

func (o FreshnessOutcome) String() string {
	switch o {
	case New:
		return "NEW"
	case Unmodified:
		return "UNMODIFIED"
	case Modified:
		return "MODIFIED"
	default:
		return "ERROR"
	}
}

// Store holds the server's loaded ECHConfigs plus keys, indexed by slot.
// Concurrent AddFromFile calls are serialized by an internal mutex, per
// the concurrency model around file reloads.
type Store struct {
	mu    sync.Mutex
	slots []*KeyedConfig
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Configs returns a snapshot of the currently loaded keyed configs.
func (s *Store) Configs() []*KeyedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*KeyedConfig, len(s.slots))
	copy(out, s.slots)
	return out
}

// AddFromFile loads path, a two-block PEM container (PRIVATE KEY then
// ECHCONFIG), comparing its mtime (one-second resolution, monotone)
// against any previously recorded load time for the same path to decide
// NEW/UNMODIFIED/MODIFIED/ERROR. The outcome (but never key material) is
// logged at debug level against slog.Default().
func (s *Store) AddFromFile(path string) (FreshnessOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("ech: AddFromFile stat failed", "path", path, "error", err)
		return Failed, err
	}
	mtime := info.ModTime().Truncate(time.Second)

	for i, slot := range s.slots {
		if slot.SourcePath != path {
			continue
		}
		if !mtime.After(slot.LoadedAt) {
			slog.Debug("ech: ECHConfig unmodified", "path", path)
			return Unmodified, nil
		}
		kc, err := loadKeyedConfigFile(path, mtime)
		if err != nil {
			slog.Debug("ech: ECHConfig reload failed", "path", path, "error", err)
			return Failed, err
		}
		s.slots[i] = kc
		slog.Debug("ech: ECHConfig reloaded", "path", path, "config_id", kc.Config.ConfigID)
		return Modified, nil
	}

	kc, err := loadKeyedConfigFile(path, mtime)
	if err != nil {
		slog.Debug("ech: ECHConfig load failed", "path", path, "error", err)
		return Failed, err
	}
	s.slots = append(s.slots, kc)
	slog.Debug("ech: ECHConfig loaded", "path", path, "config_id", kc.Config.ConfigID)
	return New, nil
}

func loadKeyedConfigFile(path string, mtime time.Time) (*KeyedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	keyBlock, rest := pem.Decode(data)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%w: expected a PRIVATE KEY PEM block", ErrInputInvalid)
	}
	configBlock, rest := pem.Decode(rest)
	if configBlock == nil || configBlock.Type != "ECHCONFIG" {
		return nil, fmt.Errorf("%w: expected an ECHCONFIG PEM block", ErrInputInvalid)
	}
	if extra, _ := pem.Decode(rest); extra != nil {
		return nil, fmt.Errorf("%w: exactly one ECHConfig/key pair is required per file", ErrInputInvalid)
	}

	list, err := ParseConfigList(configBlock.Bytes)
	if err != nil {
		return nil, err
	}
	if len(list.Configs) != 1 {
		return nil, fmt.Errorf("%w: exactly one ECHConfig record is required per file", ErrInputInvalid)
	}
	cfg := list.Configs[0]

	priv, err := parsePrivateKeyBlock(keyBlock.Bytes, cfg.KEM)
	if err != nil {
		return nil, err
	}

	return &KeyedConfig{Config: cfg, PrivateKey: priv, SourcePath: path, LoadedAt: mtime}, nil
}

// parsePrivateKeyBlock accepts either a raw scalar of the KEM's native
// length or a PKCS8 DER-encoded NIST-curve ECDSA or X25519 key; other
// PKCS8 key types are rejected.
func parsePrivateKeyBlock(der []byte, kem hpke.KEMID) ([]byte, error) {
	params, ok := hpke.LookupKEM(kem)
	if !ok {
		return nil, ErrSuiteUnsupported
	}
	if len(der) == params.Npriv {
		return append([]byte(nil), der...), nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInputInvalid, err)
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		ecdhKey, err := k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: private key curve: %v", ErrInputInvalid, err)
		}
		return ecdhKey.Bytes(), nil
	case *ecdh.PrivateKey:
		return k.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported private key type for kem_id 0x%04x", ErrInputInvalid, kem)
	}
}
