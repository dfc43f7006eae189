package server

import (
	"log/slog"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/mail"
	"github.com/faucetdb/gatehouse/internal/password"
	"github.com/faucetdb/gatehouse/internal/service"
	"github.com/faucetdb/gatehouse/internal/session"
)

// NewServices wires the domain services over store according to st.
func NewServices(store *config.Store, st config.Settings, hasher *password.Hasher, mailer mail.Mailer, logger *slog.Logger) Services {
	opts := []service.Option{service.WithLogger(logger)}
	notifier := service.NewNotifier(mailer, mail.NewComposer(st.Mail.BaseURL))
	sessions := session.NewManager(st.Auth.SessionSecret, st.SessionTTL(), st.RememberTTL())

	return Services{
		Store:    store,
		Sessions: sessions,
		Auth:     service.NewAuthenticator(store, hasher, opts...),
		Resets:   service.NewPasswordResets(store, hasher, notifier, st.ResetTTL(), opts...),
		Invites:  service.NewInvites(store, hasher, notifier, st.InviteTTL(), opts...),
		Gate:     service.NewGate(store, sessions, st.Auth.OperatorKey, opts...),
	}
}
