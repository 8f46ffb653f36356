package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Default keyring coordinates. On KDE these are the wallet folder and entry.
const (
	DefaultKeyringService = "claude-usage-tracker"
	DefaultKeyringUser    = "oauth-token"
)

// KeyringBackend stores the credential in the OS secret service
// (KWallet or GNOME Keyring over D-Bus, macOS Keychain, Windows Credential Manager).
type KeyringBackend struct {
	Service string
	User    string
}

func (b *KeyringBackend) vault() {}

func (b *KeyringBackend) String() string {
	return fmt.Sprintf("keyring %s/%s", b.service(), b.user())
}

// Read returns the stored secret.
func (b *KeyringBackend) Read(ctx context.Context) ([]byte, error) {
	secret, err := b.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}
	return []byte(secret), nil
}

// Write replaces the stored secret.
func (b *KeyringBackend) Write(ctx context.Context, data []byte) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, keyring.Set(b.service(), b.user(), string(data))
	})
	if err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

// Check reports whether a secret is stored.
func (b *KeyringBackend) Check(ctx context.Context) (bool, error) {
	_, err := b.get(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("checking keyring: %w", err)
}

func (b *KeyringBackend) get(ctx context.Context) (string, error) {
	return withContext(ctx, func() (string, error) {
		return keyring.Get(b.service(), b.user())
	})
}

// withContext runs a secret service call that may block on an unlock
// prompt. A canceled ctx returns immediately; the call itself is left to
// finish in the background since go-keyring has no way to abort it.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *KeyringBackend) service() string {
	if b.Service == "" {
		return DefaultKeyringService
	}
	return b.Service
}

func (b *KeyringBackend) user() string {
	if b.User == "" {
		return DefaultKeyringUser
	}
	return b.User
}
