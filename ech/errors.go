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

import "errors"

// Sentinel errors returned by this package.
var (
	ErrInputInvalid     = errors.New("ech: invalid input")
	ErrFormatDecode     = errors.New("ech: malformed wire encoding")
	ErrSuiteUnsupported = errors.New("ech: unsupported kem/kdf/aead id")
	ErrDecode           = errors.New("ech: inner ClientHello reconstruction violated an invariant")
	ErrInnerSNIRejected = errors.New("ech: inner SNI rejected by server-name callback")
	ErrNoMatchingConfig = errors.New("ech: no loaded ECHConfig matches the client's enc/config_id")
)
