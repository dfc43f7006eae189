// Package password hashes and verifies admin credentials.
//
// New hashes use argon2id encoded in PHC string form, so the cost parameters
// travel with each hash and can be raised without invalidating old records.
// The stored algorithm tag names only the scheme. bcrypt records from earlier
// deployments still verify and are flagged for rehash.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/faucetdb/gatehouse/internal/model"
)

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"

	// CurrentAlgorithm is the scheme every new hash is produced with.
	CurrentAlgorithm = AlgorithmArgon2id

	// CurrentVersion is bumped whenever stored hashes should be upgraded on
	// the next successful login.
	CurrentVersion = 2

	// MinLength is the minimum password length, in characters.
	MinLength = 12
)

// ErrPolicyViolation is returned when a password does not meet the policy.
var ErrPolicyViolation = fmt.Errorf("password must be at least %d characters", MinLength)

var errMalformedHash = errors.New("malformed argon2id hash")

// Params are the argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns production cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Result is the outcome of a verification.
type Result struct {
	Valid       bool
	NeedsRehash bool
}

// Hasher produces and checks credential hashes. Each argon2id evaluation
// holds Params.Memory KiB, so concurrent evaluations are bounded.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted

	decoyOnce sync.Once
	decoy     model.Credential
}

// NewHasher creates a Hasher. maxConcurrent <= 0 defaults to the number of CPUs.
func NewHasher(params Params, maxConcurrent int) *Hasher {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	return &Hasher{
		params: params,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// CheckPolicy validates a plaintext password against the length policy.
func CheckPolicy(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinLength {
		return ErrPolicyViolation
	}
	return nil
}

// Hash turns plaintext into a storable credential. skipPolicy is only for
// rehashing a password that already passed the policy once.
func (h *Hasher) Hash(ctx context.Context, plaintext string, skipPolicy bool) (model.Credential, error) {
	if !skipPolicy {
		if err := CheckPolicy(plaintext); err != nil {
			return model.Credential{}, err
		}
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return model.Credential{}, fmt.Errorf("generate salt: %w", err)
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return model.Credential{}, err
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	h.sem.Release(1)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))

	return model.Credential{
		Hash:      encoded,
		Algorithm: CurrentAlgorithm,
		Version:   CurrentVersion,
	}, nil
}

// Equalize runs one verification of candidate against a decoy credential
// hashed with the current parameters and discards the outcome. Paths that
// reject a request without reaching a real Verify call it so their latency
// matches a wrong-password attempt.
func (h *Hasher) Equalize(ctx context.Context, candidate string) {
	h.decoyOnce.Do(func() {
		seed := make([]byte, 16)
		_, _ = rand.Read(seed)
		cred, err := h.Hash(ctx, base64.RawStdEncoding.EncodeToString(seed), true)
		if err == nil {
			h.decoy = cred
		}
	})
	if h.decoy.Hash == "" {
		return
	}
	_, _ = h.Verify(ctx, h.decoy, candidate)
}

// Verify checks candidate against a stored credential. NeedsRehash is only
// ever set alongside Valid, except for unsupported schemes, which are
// rejected without comparing.
func (h *Hasher) Verify(ctx context.Context, cred model.Credential, candidate string) (Result, error) {
	var ok bool
	switch cred.Algorithm {
	case AlgorithmArgon2id:
		if err := h.sem.Acquire(ctx, 1); err != nil {
			return Result{}, err
		}
		match, err := verifyArgon2id(cred.Hash, candidate)
		h.sem.Release(1)
		if err != nil {
			return Result{}, nil
		}
		ok = match
	case AlgorithmBcrypt:
		if err := h.sem.Acquire(ctx, 1); err != nil {
			return Result{}, err
		}
		ok = bcrypt.CompareHashAndPassword([]byte(cred.Hash), []byte(candidate)) == nil
		h.sem.Release(1)
	default:
		return Result{Valid: false, NeedsRehash: true}, nil
	}

	if !ok {
		return Result{}, nil
	}
	return Result{
		Valid:       true,
		NeedsRehash: cred.Algorithm != CurrentAlgorithm || cred.Version < CurrentVersion,
	}, nil
}

func verifyArgon2id(encoded, candidate string) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$salt$key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return false, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errMalformedHash
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errMalformedHash
	}

	got := argon2.IDKey([]byte(candidate), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
