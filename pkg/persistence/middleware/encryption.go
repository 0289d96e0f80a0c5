package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// EnvelopeKey is the only state field an encrypted checkpoint exposes.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.CheckpointStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts checkpoint state using AES-GCM.
// Step, Next, Phase and Status stay readable so stores can still index and list runs.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, cp *domain.Checkpoint) error {
	sealed, err := m.seal(cp.State)
	if err != nil {
		return err
	}
	envelope := *cp
	envelope.State = sealed
	return m.next.Save(ctx, &envelope)
}

func (m *encryptionMiddleware) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	envelope, err := m.next.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	envelope, err := m.next.LoadAt(ctx, runID, step)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

// PatchLatest cannot merge ciphertext, so it decrypts, merges and replaces the envelope.
// Callers serialize writes per run, which keeps the read-modify-write safe.
func (m *encryptionMiddleware) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	latest, err := m.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	latest.State = domain.Merge(latest.State, update, fields)

	sealed, err := m.seal(latest.State)
	if err != nil {
		return nil, err
	}
	if _, err := m.next.PatchLatest(ctx, runID, sealed, nil); err != nil {
		return nil, err
	}
	return latest, nil
}

func (m *encryptionMiddleware) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	envelopes, err := m.next.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Checkpoint, 0, len(envelopes))
	for _, env := range envelopes {
		cp, err := m.open(env)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", env.Step, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

func (m *encryptionMiddleware) seal(state domain.State) (domain.State, error) {
	plainText, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return domain.State{EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}, nil
}

func (m *encryptionMiddleware) open(envelope *domain.Checkpoint) (*domain.Checkpoint, error) {
	// Fail secure: a plain checkpoint under an encrypting store is an error.
	encoded, ok := envelope.State[EnvelopeKey].(string)
	if !ok {
		return nil, errors.New("checkpoint is missing encrypted data envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal(plainText, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	cp := *envelope
	cp.State = state
	return &cp, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
