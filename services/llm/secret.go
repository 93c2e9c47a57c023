// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// secret keeps an API key encrypted in memory. The plaintext only exists
// inside a locked buffer for the duration of one call.
type secret struct {
	enclave *memguard.Enclave
}

// newSecret seals value. It returns nil for an empty value.
func newSecret(value string) *secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes the slice it is given.
	return &secret{enclave: memguard.NewEnclave([]byte(value))}
}

// set reports whether a key is held.
func (s *secret) set() bool {
	return s != nil && s.enclave != nil
}

// use opens the enclave and passes the plaintext key to fn. The locked
// buffer is destroyed before use returns.
func (s *secret) use(fn func(key string) error) error {
	if !s.set() {
		return ErrNotConfigured
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(string(buf.Bytes()))
}

// PurgeSecrets wipes every key held by the process. Call it once during
// shutdown; providers cannot be used afterwards.
func PurgeSecrets() {
	memguard.Purge()
}
