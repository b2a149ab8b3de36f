package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bark-labs/webpush-relay/internal/crypto"
	"github.com/bark-labs/webpush-relay/internal/storage"
)

const (
	metaVAPIDKeys = "vapid_keys"
	metaJWTSecret = "jwt_secret"
)

// LoadOrCreateVAPIDKeys returns the configured key pair, or the one persisted in the store,
// generating and persisting a new pair on first start.
func LoadOrCreateVAPIDKeys(ctx context.Context, store storage.Store, configured crypto.VAPIDKeys) (crypto.VAPIDKeys, error) {
	configured.PublicKey = strings.TrimSpace(configured.PublicKey)
	configured.PrivateKey = strings.TrimSpace(configured.PrivateKey)
	if configured.Valid() {
		return configured, nil
	}
	raw, err := store.GetMeta(ctx, metaVAPIDKeys)
	switch {
	case err == nil:
		var keys crypto.VAPIDKeys
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return crypto.VAPIDKeys{}, fmt.Errorf("decode stored vapid keys: %w", err)
		}
		if keys.Valid() {
			return keys, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return crypto.VAPIDKeys{}, fmt.Errorf("read vapid keys: %w", err)
	}

	keys, err := crypto.GenerateVAPIDKeys()
	if err != nil {
		return crypto.VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return crypto.VAPIDKeys{}, err
	}
	if err := store.PutMeta(ctx, metaVAPIDKeys, string(encoded)); err != nil {
		return crypto.VAPIDKeys{}, fmt.Errorf("persist vapid keys: %w", err)
	}
	return keys, nil
}

// LoadOrCreateJWTSecret mirrors LoadOrCreateVAPIDKeys for the token signing secret.
func LoadOrCreateJWTSecret(ctx context.Context, store storage.Store, configured string) (string, error) {
	if s := strings.TrimSpace(configured); s != "" {
		return s, nil
	}
	secret, err := store.GetMeta(ctx, metaJWTSecret)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read jwt secret: %w", err)
	}
	secret, err = crypto.GenerateString(48)
	if err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	if err := store.PutMeta(ctx, metaJWTSecret, secret); err != nil {
		return "", fmt.Errorf("persist jwt secret: %w", err)
	}
	return secret, nil
}
