package crypto

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SessionKey owns the derived vault key for the lifetime of an unlocked
// session. The bytes live in a memguard locked buffer (mlocked, guarded by
// canary pages) and are overwritten when Destroy is called.
type SessionKey struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
}

// NewSessionKey moves key into protected memory. The source slice is wiped.
func NewSessionKey(key []byte) (*SessionKey, error) {
	if len(key) != KeyLength {
		SecureWipe(key)
		return nil, ErrInvalidKeyLength
	}
	buf := memguard.NewBufferFromBytes(key)
	buf.Freeze()
	return &SessionKey{buf: buf}, nil
}

// Bytes returns a read-only view of the key. The slice is only valid until
// Destroy; callers must not retain it.
func (k *SessionKey) Bytes() []byte {
	if k == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.buf == nil || !k.buf.IsAlive() {
		return nil
	}
	return k.buf.Bytes()
}

// Alive reports whether the key has not been destroyed.
func (k *SessionKey) Alive() bool {
	if k == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.buf != nil && k.buf.IsAlive()
}

// Destroy wipes and releases the key. It is safe to call more than once.
func (k *SessionKey) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
}
