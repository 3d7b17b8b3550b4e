/*
Copyright 2026 AI Red Teaming Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors centralizes error wrapping so call sites only import one
// errors package. It re-exports go-faster/errors rather than wrapping it in
// a parallel type hierarchy.
package errors

import "github.com/go-faster/errors"

var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Errorf = errors.Errorf
)

// Sentinel errors naming the ingress failure cases. No package in this
// module returns them yet: the HTTP handlers write the matching status
// code directly.
var (
	// ErrDuplicateGUID names a conversation guid that is already queued or
	// known (HTTP 409).
	ErrDuplicateGUID = errors.New("conversation guid already queued")
	// ErrInvalidBody names a request that failed decoding or validation
	// (HTTP 400).
	ErrInvalidBody = errors.New("invalid request body")
	// ErrUnauthorized names a missing or wrong shared-secret header
	// (HTTP 401).
	ErrUnauthorized = errors.New("missing or invalid scoring key")
	// ErrNotFound covers a lookup against a guid or sid that no longer
	// exists (already scored, already disconnected).
	ErrNotFound = errors.New("not found")
)
