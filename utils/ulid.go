// Package utils holds small cross-cutting helpers shared by the sync
// packages that don't warrant their own package.
package utils

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

var entropyLock sync.Mutex

// GenerateULID returns a new lexically-sortable, collision-resistant ID.
// ulid.Make's default entropy source isn't safe for concurrent use, so
// generation is serialized behind a mutex.
func GenerateULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.Make()
}

// GenerateULIDString returns a new ULID rendered as its canonical
// 26-character string form.
func GenerateULIDString() string {
	return GenerateULID().String()
}
