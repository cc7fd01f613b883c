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

import "errors"

// Sentinel errors returned by this package.
var (
	ErrSuiteUnsupported = errors.New("hpke: unsupported kem/kdf/aead id")
	ErrModeBad          = errors.New("hpke: invalid mode")
	ErrBadPSK           = errors.New("hpke: psk and psk_id must both be present or both absent")
	ErrKEMImport        = errors.New("hpke: failed to import key")
	ErrKEMDerive        = errors.New("hpke: key agreement failed")
	ErrAEADBadTag       = errors.New("hpke: AEAD authentication failed")
	ErrAEADBadLength    = errors.New("hpke: ciphertext shorter than tag")
	ErrHKDFOverflow     = errors.New("hpke: labeled HKDF input exceeds internal buffer")
	ErrAuthKeyMissing   = errors.New("hpke: auth mode requires a sender or peer authentication key")
)
