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
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/echkit/ech/hpke"
)

func sampleConfig(configID uint8, publicName string) Config {
	return Config{
		Version:  draftVersion,
		ConfigID: configID,
		KEM:      hpke.KEMX25519HKDFSHA256,
		PublicKey: []byte{
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
			0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
			0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
		},
		Ciphersuites:  []Cipher{{KDF: hpke.KDFHKDFSHA256, AEAD: hpke.AEADAES128GCM}},
		MaxNameLength: 32,
		PublicName:    []byte(publicName),
	}
}

func TestConfigMarshalParseRoundTrip(t *testing.T) {
	cfg := sampleConfig(7, "public.example")
	raw, err := cfg.Marshal()
	require.NoError(t, err)

	list, err := ParseConfigList(append([]byte{0, byte(len(raw))}, raw...))
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)

	got := list.Configs[0]
	require.Equal(t, uint8(0), got.ConfigID, "config_id is not a wire field and must not round-trip")
	require.Equal(t, cfg.KEM, got.KEM)
	require.Equal(t, cfg.PublicKey, got.PublicKey)
	require.Equal(t, cfg.Ciphersuites, got.Ciphersuites)
	require.Equal(t, cfg.MaxNameLength, got.MaxNameLength)
	require.Equal(t, cfg.PublicName, got.PublicName)
	require.Equal(t, raw, got.Raw)
}

func TestConfigListMarshalParseRoundTrip(t *testing.T) {
	list := ConfigList{Configs: []Config{
		sampleConfig(1, "a.example"),
		sampleConfig(2, "b.example"),
	}}
	raw, err := list.Marshal()
	require.NoError(t, err)

	parsed, err := ParseConfigList(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Configs, 2)
	require.Equal(t, "a.example", string(parsed.Configs[0].PublicName))
	require.Equal(t, "b.example", string(parsed.Configs[1].PublicName))
}

func TestParseConfigListSkipsUnknownVersion(t *testing.T) {
	known := sampleConfig(9, "known.example")
	knownRaw, err := known.Marshal()
	require.NoError(t, err)

	unknownContents := []byte{0xaa, 0xbb, 0xcc}
	unknownRaw := append([]byte{0xff, 0x08, 0x00, byte(len(unknownContents))}, unknownContents...)

	all := append(append([]byte{}, unknownRaw...), knownRaw...)
	wrapped := append([]byte{0, byte(len(all))}, all...)

	list, err := ParseConfigList(wrapped)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
	require.Equal(t, "known.example", string(list.Configs[0].PublicName))
}

func TestParseConfigRecordRejectsOversizedRecord(t *testing.T) {
	cfg := sampleConfig(1, "x.example")
	cfg.Extensions = []Extension{{Type: 1, Value: make([]byte, 600)}}
	raw, err := cfg.Marshal()
	require.NoError(t, err)

	_, err = ParseConfigList(append([]byte{byte(len(raw) >> 8), byte(len(raw))}, raw...))
	require.Error(t, err)
}

func TestParseConfigRecordRejectsMalformedFields(t *testing.T) {
	cfg := sampleConfig(1, "x.example")

	t.Run("empty public key", func(t *testing.T) {
		bad := cfg
		bad.PublicKey = nil
		raw, err := bad.Marshal()
		require.NoError(t, err)
		_, err = ParseConfigList(append([]byte{0, byte(len(raw))}, raw...))
		require.Error(t, err)
	})

	t.Run("empty cipher suites", func(t *testing.T) {
		bad := cfg
		bad.Ciphersuites = nil
		raw, err := bad.Marshal()
		require.NoError(t, err)
		_, err = ParseConfigList(append([]byte{0, byte(len(raw))}, raw...))
		require.Error(t, err)
	})

	t.Run("empty public name", func(t *testing.T) {
		bad := cfg
		bad.PublicName = nil
		raw, err := bad.Marshal()
		require.NoError(t, err)
		_, err = ParseConfigList(append([]byte{0, byte(len(raw))}, raw...))
		require.Error(t, err)
	})
}

func wrapList(t *testing.T, cfg Config) []byte {
	t.Helper()
	raw, err := cfg.Marshal()
	require.NoError(t, err)
	return append([]byte{0, byte(len(raw))}, raw...)
}

func TestParseConfigListBytesDetectsBinary(t *testing.T) {
	binary := wrapList(t, sampleConfig(1, "bin.example"))
	list, err := ParseConfigListBytes(binary)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
}

func TestParseConfigListBytesDetectsASCIIHex(t *testing.T) {
	binary := wrapList(t, sampleConfig(3, "hex.example"))
	hexInput := []byte(hex.EncodeToString(binary))
	list, err := ParseConfigListBytes(hexInput)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
	require.Equal(t, "hex.example", string(list.Configs[0].PublicName))
}

func TestParseConfigListBytesDetectsBase64(t *testing.T) {
	binary := wrapList(t, sampleConfig(4, "b64.example"))
	b64 := []byte(base64.StdEncoding.EncodeToString(binary))
	list, err := ParseConfigListBytes(b64)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
	require.Equal(t, "b64.example", string(list.Configs[0].PublicName))
}

func TestParseConfigListBytesDetectsSVCBPresentationForm(t *testing.T) {
	binary := wrapList(t, sampleConfig(5, "svcb.example"))
	b64Input := base64.StdEncoding.EncodeToString(binary)
	presentation := []byte("alpn=h2 echconfig=" + b64Input)
	list, err := ParseConfigListBytes(presentation)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
	require.Equal(t, "svcb.example", string(list.Configs[0].PublicName))
}

func TestDecodeMultiValueTrailingSemicolonNoInflation(t *testing.T) {
	binary := wrapList(t, sampleConfig(6, "multi.example"))
	hexInput := hex.EncodeToString(binary)

	list, err := ParseConfigListBytes([]byte(hexInput + ";"))
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)
}

func TestDecodeMultiValueConcatenatesSegments(t *testing.T) {
	first, err := sampleConfig(1, "first.example").Marshal()
	require.NoError(t, err)
	second, err := sampleConfig(2, "second.example").Marshal()
	require.NoError(t, err)

	combined := append([]byte{}, first...)
	combined = append(combined, second...)
	wrapped := append([]byte{0, byte(len(combined))}, combined...)

	// One ECHConfigs encoding split into two ';'-separated segments; the
	// decoded segments are concatenated back into wrapped.
	split := 2 + len(first)
	hexInput := hex.EncodeToString(wrapped[:split]) + ";" + hex.EncodeToString(wrapped[split:])
	list, err := ParseConfigListBytes([]byte(hexInput))
	require.NoError(t, err)
	require.Len(t, list.Configs, 2)
}

// draft09ECHConfigsVector is a hand-built, literal draft-09 ECHConfigs
// wire value: one ECHConfig record for public_name "example.com",
// kem_id 0x0020 (DHKEM(X25519, HKDF-SHA256)), a single (0x0001, 0x0001)
// ciphersuite, max_name_length 0, and no extensions. Field order is
// public_name, public_key, kem_id, cipher_suites, maximum_name_length,
// extensions -- there is no wire config_id.
var draft09ECHConfigsVector = []byte{
	0x00, 0x3f, // ECHConfigs.length = 63
	0xff, 0x09, // version
	0x00, 0x3b, // ECHConfig.length = 59
	0x00, 0x0b, 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', // public_name
	0x00, 0x20, // public_key length = 32
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
	0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	0x00, 0x20, // kem_id = 0x0020
	0x00, 0x04, 0x00, 0x01, 0x00, 0x01, // cipher_suites: one (kdf=1, aead=1) entry
	0x00, 0x00, // maximum_name_length = 0
	0x00, 0x00, // extensions, empty
}

func TestParseConfigListDecodesDraft09Vector(t *testing.T) {
	list, err := ParseConfigList(draft09ECHConfigsVector)
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)

	cfg := list.Configs[0]
	require.Equal(t, draftVersion, cfg.Version)
	require.Equal(t, "example.com", string(cfg.PublicName))
	require.Equal(t, hpke.KEMID(0x0020), cfg.KEM)
	require.Len(t, cfg.PublicKey, 32)
	require.Equal(t, []Cipher{{KDF: hpke.KDFID(1), AEAD: hpke.AEADID(1)}}, cfg.Ciphersuites)
	require.Equal(t, uint16(0), cfg.MaxNameLength)
	require.Empty(t, cfg.Extensions)
	require.Equal(t, uint8(0), cfg.ConfigID, "config_id is never read from the wire")
}

func TestParseConfigListBytesRejectsOddNibbleCountHex(t *testing.T) {
	_, err := ParseConfigListBytes([]byte("abc"))
	require.Error(t, err)
}

func TestStoreAddFromFileFreshness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")

	cfg := sampleConfig(1, "store.example")
	cfgRaw, err := cfg.Marshal()
	require.NoError(t, err)

	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 1)
	}

	writePEMKeyPair(t, path, priv, cfgRaw)

	store := NewStore()
	outcome, err := store.AddFromFile(path)
	require.NoError(t, err)
	require.Equal(t, New, outcome)

	outcome, err = store.AddFromFile(path)
	require.NoError(t, err)
	require.Equal(t, Unmodified, outcome)

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	outcome, err = store.AddFromFile(path)
	require.NoError(t, err)
	require.Equal(t, Modified, outcome)

	configs := store.Configs()
	require.Len(t, configs, 1)
	require.Equal(t, priv, configs[0].PrivateKey)
}

func writePEMKeyPair(t *testing.T, path string, priv, cfgRaw []byte) {
	t.Helper()
	var buf []byte
	buf = append(buf, pemBlock("PRIVATE KEY", priv)...)
	buf = append(buf, pemBlock("ECHCONFIG", cfgRaw)...)
	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func pemBlock(blockType string, data []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(data)
	out := "-----BEGIN " + blockType + "-----\n"
	for len(enc) > 64 {
		out += enc[:64] + "\n"
		enc = enc[64:]
	}
	out += enc + "\n-----END " + blockType + "-----\n"
	return []byte(out)
}
