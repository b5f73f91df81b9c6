package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
)

var (
	// errors
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidSession     = errors.New("invalid session")
	ErrInvalidCode        = errors.New("invalid code")
	ErrUnauthorized       = errors.New("not authenticated")
)

type (
	Credentials struct {
		Username string
		Password string
		// Kind optionally restricts the username lookup to one namespace.
		Kind principal.Kind
	}

	// LoginResult holds a SessionID when a two-factor challenge is pending, or a Token when the origin is trusted.
	LoginResult struct {
		SessionID string
		Token     string
		Type      principal.Kind
	}

	TokenResult struct {
		Token string
		Type  principal.Kind
	}

	twoFactorMailData struct {
		Name      string
		Code      string
		ExpiresIn string
	}
)

func (r LoginResult) Challenged() bool { return r.SessionID != "" }

// Service implements the password + one-time-code login flow.
type Service struct {
	dir            principal.Directory
	cache          core.Cache
	challenges     challengeStore
	logins         *loginLocks
	tokens         *TokenIssuer
	mailSvc        core.EmailService
	logger         core.Logger
	otpTimeout     time.Duration
	trustedTimeout time.Duration
}

func NewService(
	dir principal.Directory,
	cache core.Cache,
	tokens *TokenIssuer,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		dir:            dir,
		cache:          cache,
		challenges:     challengeStore{cache: cache, ttl: conf.Auth.OTPTimeout},
		logins:         newLoginLocks(),
		tokens:         tokens,
		mailSvc:        mailSvc,
		logger:         logger,
		otpTimeout:     conf.Auth.OTPTimeout,
		trustedTimeout: conf.Auth.TrustedOriginTimeout,
	}
}

// Login verifies the credentials. If the principal completed a challenge from this origin recently, a token is
// returned straight away; otherwise a challenge is created (or the pending one reused), its code is sent to the
// principal and only the session id is returned.
func (svc *Service) Login(ctx context.Context, creds Credentials, origin string) (LoginResult, error) {
	p, err := svc.authenticate(ctx, creds)
	if err != nil {
		return LoginResult{}, err
	}

	trusted, err := svc.isTrusted(ctx, p.Ref, origin)
	if err != nil {
		return LoginResult{}, err
	}
	if trusted {
		token, err := svc.tokens.Issue(p.Ref)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Token: token, Type: p.Kind}, nil
	}

	ch, err := svc.pendingChallenge(ctx, p.Ref, origin)
	if err != nil {
		return LoginResult{}, err
	}
	svc.sendCode(p, ch)
	return LoginResult{SessionID: ch.SessionID}, nil
}

// pendingChallenge returns the principal's challenge for origin, creating it if there is none, and restarts its TTL.
// Concurrent logins of the same principal from the same origin get the same challenge.
func (svc *Service) pendingChallenge(ctx context.Context, ref principal.Ref, origin string) (Challenge, error) {
	unlock := svc.logins.lock(principalKey(ref, origin))
	defer unlock()

	ch, found, err := svc.challenges.byPrincipal(ctx, ref, origin)
	if err != nil {
		return Challenge{}, err
	}
	if !found {
		if ch, err = newChallenge(ref, origin); err != nil {
			return Challenge{}, err
		}
	}
	if err = svc.challenges.put(ctx, ch); err != nil {
		return Challenge{}, err
	}
	return ch, nil
}

// Validate completes the challenge identified by sessionID. A wrong code leaves the challenge in place.
func (svc *Service) Validate(ctx context.Context, sessionID, code, origin string) (TokenResult, error) {
	ch, found, err := svc.challenges.bySession(ctx, sessionID, origin)
	if err != nil {
		return TokenResult{}, err
	}
	if !found {
		return TokenResult{}, ErrInvalidSession
	}
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		return TokenResult{}, ErrInvalidCode
	}

	if err = svc.challenges.remove(ctx, ch); err != nil {
		return TokenResult{}, err
	}
	if err = svc.cache.Set(ctx, trustedKey(ch.Principal, origin), []byte("1"), svc.trustedTimeout); err != nil {
		return TokenResult{}, errors.Wrap(err, "trusting origin")
	}

	token, err := svc.tokens.Issue(ch.Principal)
	if err != nil {
		return TokenResult{}, err
	}
	return TokenResult{Token: token, Type: ch.Principal.Kind}, nil
}

// Resend sends the pending code again and restarts the challenge's TTL.
func (svc *Service) Resend(ctx context.Context, sessionID, origin string) (string, error) {
	ch, found, err := svc.challenges.bySession(ctx, sessionID, origin)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrInvalidSession
	}

	p, err := svc.dir.GetPrincipal(ctx, ch.Principal)
	if err != nil {
		if errors.Cause(err) == principal.ErrNotFound {
			return "", ErrInvalidSession
		}
		return "", errors.Wrap(err, "getting principal")
	}
	if err = svc.challenges.put(ctx, ch); err != nil {
		return "", err
	}
	svc.sendCode(p, ch)
	return ch.SessionID, nil
}

// Authenticate returns the principal a token was issued for. Any failure is ErrUnauthorized.
func (svc *Service) Authenticate(ctx context.Context, token string) (principal.Principal, error) {
	ref, err := svc.tokens.Verify(token)
	if err != nil {
		return principal.Principal{}, ErrUnauthorized
	}
	p, err := svc.dir.GetPrincipal(ctx, ref)
	if err != nil {
		if errors.Cause(err) == principal.ErrNotFound {
			return principal.Principal{}, ErrUnauthorized
		}
		return principal.Principal{}, errors.Wrap(err, "getting principal")
	}
	return p, nil
}

func (svc *Service) authenticate(ctx context.Context, creds Credentials) (principal.Principal, error) {
	p, err := principal.Resolve(ctx, svc.dir, creds.Username, creds.Kind)
	if err != nil {
		switch errors.Cause(err) {
		case principal.ErrNotFound, principal.ErrAmbiguous:
			principal.VerifyNobody(creds.Password)
			return principal.Principal{}, ErrInvalidCredentials
		}
		return principal.Principal{}, errors.Wrap(err, "resolving principal")
	}
	if !p.CheckPassword(creds.Password) {
		return principal.Principal{}, ErrInvalidCredentials
	}
	return p, nil
}

func (svc *Service) isTrusted(ctx context.Context, ref principal.Ref, origin string) (bool, error) {
	_, err := svc.cache.Get(ctx, trustedKey(ref, origin))
	switch errors.Cause(err) {
	case nil:
		return true, nil
	case core.ErrCacheMiss:
		return false, nil
	default:
		return false, errors.Wrap(err, "checking trusted origin")
	}
}

// sendCode hands the code to the mail service, which delivers it in the background.
func (svc *Service) sendCode(p principal.Principal, ch Challenge) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.Name, Address: p.Email}},
		Subject:      "Your verification code",
		TemplateName: core.TemplateTwoFactor,
		TemplateData: twoFactorMailData{Name: p.Name, Code: ch.Code, ExpiresIn: svc.otpTimeout.String()},
	})
	svc.logger.Info(fmt.Sprintf("two-factor code sent to %s for session %s", p.Ref, ch.SessionID))
}
