package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/session"
)

// Principal is the identity attached to an authorized request. It is either
// an AdminPrincipal (a real directory row) or a KeyPrincipal (the static
// operator key, which has no directory row).
type Principal interface {
	principal()
	// Type is "admin" or "key".
	Type() string
}

// AdminPrincipal is an admin authenticated by session.
type AdminPrincipal struct {
	Admin model.PublicAdmin
}

func (AdminPrincipal) principal()   {}
func (AdminPrincipal) Type() string { return "admin" }

// KeyPrincipal is a caller authenticated by the operator key.
type KeyPrincipal struct{}

func (KeyPrincipal) principal()   {}
func (KeyPrincipal) Type() string { return "key" }

// Credentials is what a request presents to the gate.
type Credentials struct {
	SessionToken string
	OperatorKey  string
}

// Resolution is the outcome of gate resolution. Principal is nil when the
// request is unauthorized. ClearSession is set when the session cookie held
// a genuinely expired token.
type Resolution struct {
	Principal    Principal
	ClearSession bool
}

// Gate resolves one trust path per request, session first, then operator key.
type Gate struct {
	dir         AdminDirectory
	sessions    *session.Manager
	operatorKey []byte
	opts        options
}

// NewGate creates a Gate. An empty operatorKey disables the key path.
func NewGate(dir AdminDirectory, sessions *session.Manager, operatorKey string, opts ...Option) *Gate {
	return &Gate{
		dir:         dir,
		sessions:    sessions,
		operatorKey: []byte(operatorKey),
		opts:        buildOptions(opts),
	}
}

// Resolve authorizes creds. The error is only set for directory failures.
func (g *Gate) Resolve(ctx context.Context, creds Credentials) (Resolution, error) {
	var res Resolution

	if creds.SessionToken != "" {
		v := g.sessions.Verify(creds.SessionToken)
		switch v.Status {
		case session.Valid:
			admin, err := g.dir.GetAdmin(ctx, v.Claims.AdminID)
			switch {
			case err == nil && admin.IsActive:
				res.Principal = AdminPrincipal{Admin: admin.Public()}
				return res, nil
			case err != nil && !errors.Is(err, config.ErrNotFound):
				return Resolution{}, fmt.Errorf("resolve session admin: %w", err)
			}
		case session.Expired:
			res.ClearSession = true
		}
	}

	if len(g.operatorKey) > 0 && creds.OperatorKey != "" &&
		subtle.ConstantTimeCompare([]byte(creds.OperatorKey), g.operatorKey) == 1 {
		res.Principal = KeyPrincipal{}
	}
	return res, nil
}
