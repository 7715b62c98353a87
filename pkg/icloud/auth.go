package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OAuth constants of the web sign-in widget.
const (
	oauthClientID    = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"
	oauthClientType  = "firstPartyAuth"
	oauthRedirectURI = "https://www.icloud.com"
	widgetKey        = oauthClientID

	// AuthTypeSecondFactor is the sign-in authType announcing a trusted
	// device challenge.
	AuthTypeSecondFactor = "hsa2"
)

// Credentials identify the account for a fresh sign-in.
type Credentials struct {
	AccountName string
	Password    string
}

// SignInOptions tunes a fresh sign-in.
type SignInOptions struct {
	// ClientID is the stable installation id; generated when empty.
	ClientID string
	// TrustTokens are sent with the credentials. Empty by default.
	TrustTokens []string
}

// AuthState enumerates the outcomes of a sign-in attempt.
type AuthState int

const (
	// StateAwaitingSecondFactor means a one-time code must be supplied.
	StateAwaitingSecondFactor AuthState = iota + 1
	// StateAuthenticated means the session is usable.
	StateAuthenticated
)

func (state AuthState) String() string {
	switch state {
	case StateAwaitingSecondFactor:
		return "awaiting_second_factor"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Auth is the result of SignIn. It holds exactly one of an authenticated
// Service or a PendingAuth; Match forces the caller to handle both.
type Auth struct {
	state   AuthState
	service *Service
	pending *PendingAuth
}

// State reports which variant this result holds.
func (auth *Auth) State() AuthState {
	return auth.state
}

// Match dispatches on the variant. Both handlers are required.
func (auth *Auth) Match(onAuthenticated func(*Service) error, onSecondFactor func(*PendingAuth) error) error {
	if onAuthenticated == nil || onSecondFactor == nil {
		return errors.New("icloud.auth.match: both handlers are required")
	}
	switch auth.state {
	case StateAuthenticated:
		return onAuthenticated(auth.service)
	case StateAwaitingSecondFactor:
		return onSecondFactor(auth.pending)
	default:
		return fmt.Errorf("icloud.auth.match: unknown state %d", auth.state)
	}
}

// CodeProvider supplies a one-time code when a second factor is required.
type CodeProvider interface {
	SecondFactorCode(ctx context.Context) (string, error)
}

// CodeProviderFunc adapts a function to CodeProvider.
type CodeProviderFunc func(ctx context.Context) (string, error)

// SecondFactorCode calls the function.
func (provider CodeProviderFunc) SecondFactorCode(ctx context.Context) (string, error) {
	return provider(ctx)
}

// Resolve returns the Service, asking provider for a code only when the
// sign-in is awaiting a second factor.
func (auth *Auth) Resolve(ctx context.Context, provider CodeProvider) (*Service, error) {
	var service *Service
	err := auth.Match(
		func(authenticated *Service) error {
			service = authenticated
			return nil
		},
		func(pending *PendingAuth) error {
			if provider == nil {
				return fmt.Errorf("icloud.auth.resolve: %w", ErrNoCodeProvider)
			}
			code, codeErr := provider.SecondFactorCode(ctx)
			if codeErr != nil {
				return fmt.Errorf("icloud.auth.resolve: %w", codeErr)
			}
			verified, verifyErr := pending.Verify(ctx, code)
			if verifyErr != nil {
				return verifyErr
			}
			service = verified
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return service, nil
}

// PendingAuth is a sign-in waiting for its one-time code. There is no
// deadline; dropping it abandons the captured scnt and session id.
type PendingAuth struct {
	session   Session
	transport *Transport
}

// Session returns a copy of the captured session.
func (pending *PendingAuth) Session() Session {
	return pending.session.clone()
}

// Transport returns the transport bound to this sign-in.
func (pending *PendingAuth) Transport() *Transport {
	return pending.transport
}

type signInRequest struct {
	AccountName string   `json:"accountName"`
	Password    string   `json:"password"`
	RememberMe  bool     `json:"rememberMe"`
	TrustTokens []string `json:"trustTokens"`
}

type signInResponse struct {
	AuthType string `json:"authType"`
}

type securityCodeRequest struct {
	SecurityCode struct {
		Code string `json:"code"`
	} `json:"securityCode"`
}

type accountLoginRequest struct {
	AccountCountryCode string   `json:"accountCountryCode"`
	DSWebAuthToken     string   `json:"dsWebAuthToken"`
	ExtendedLogin      bool     `json:"extended_login"`
	TrustToken         []string `json:"trustToken"`
}

// SignIn posts credentials and captures the session headers. The result is
// either authenticated (token exchange already done) or awaiting a code.
func SignIn(ctx context.Context, transport *Transport, credentials Credentials, options SignInOptions) (*Auth, error) {
	if strings.TrimSpace(credentials.AccountName) == "" || credentials.Password == "" {
		return nil, fmt.Errorf("icloud.signin: %w", ErrMissingCredentials)
	}
	configuration := transport.configuration
	logger := configuration.Logger
	clientID := options.ClientID
	if strings.TrimSpace(clientID) == "" {
		clientID = NewClientID()
	}
	trustTokens := append([]string{}, options.TrustTokens...)

	response, err := transport.postJSON(ctx, "icloud.signin",
		configuration.AuthEndpoint+"/signin?isRememberMeEnabled=true",
		authHeaders(clientID),
		signInRequest{
			AccountName: credentials.AccountName,
			Password:    credentials.Password,
			RememberMe:  true,
			TrustTokens: trustTokens,
		})
	if err != nil {
		configuration.Metrics.Increment(EventSignInFailed)
		return nil, err
	}
	if !response.succeeded() && response.status != http.StatusConflict {
		configuration.Metrics.Increment(EventSignInFailed)
		logger.Warn("sign-in rejected",
			zap.String("code", "icloud.signin.rejected"),
			zap.Int("status", response.status))
		return nil, fmt.Errorf("icloud.signin: %w: status %d", ErrAuthRejected, response.status)
	}

	session, captureErr := captureSession(response.header, clientID, trustTokens)
	if captureErr != nil {
		configuration.Metrics.Increment(EventSignInFailed)
		logger.Error("sign-in response incomplete",
			zap.String("code", "icloud.signin.protocol_shape"),
			zap.Error(captureErr))
		return nil, fmt.Errorf("icloud.signin: %w", captureErr)
	}
	secondFactor, bodyErr := requiresSecondFactor(response.body)
	if bodyErr != nil {
		configuration.Metrics.Increment(EventSignInFailed)
		logger.Error("sign-in body malformed",
			zap.String("code", "icloud.signin.protocol_shape"),
			zap.Int("status", response.status),
			zap.Error(bodyErr))
		return nil, fmt.Errorf("icloud.signin: %w", bodyErr)
	}
	configuration.Metrics.Increment(EventSignInSucceeded)

	if secondFactor {
		configuration.Metrics.Increment(EventSecondFactorRequired)
		logger.Info("second factor required",
			zap.String("code", "icloud.signin.second_factor_required"),
			zap.String("account_country", session.AccountCountry))
		return &Auth{
			state:   StateAwaitingSecondFactor,
			pending: &PendingAuth{session: session, transport: transport},
		}, nil
	}

	account, exchangeErr := exchangeToken(ctx, transport, session, false)
	if exchangeErr != nil {
		return nil, exchangeErr
	}
	logger.Info("sign-in complete",
		zap.String("code", "icloud.signin.ok"),
		zap.String("account_country", session.AccountCountry))
	return &Auth{
		state:   StateAuthenticated,
		service: newService(session, transport, account),
	}, nil
}

// Verify submits the one-time code, asks the server to trust this session
// and then performs the token exchange.
func (pending *PendingAuth) Verify(ctx context.Context, code string) (*Service, error) {
	transport := pending.transport
	configuration := transport.configuration
	logger := configuration.Logger

	code = strings.TrimSpace(code)
	if code == "" {
		configuration.Metrics.Increment(EventSecondFactorFailed)
		return nil, fmt.Errorf("icloud.verify: %w: empty code", ErrAuthRejected)
	}
	var payload securityCodeRequest
	payload.SecurityCode.Code = code

	headers := pending.session.challengeHeaders()
	verifyResponse, err := transport.postJSON(ctx, "icloud.verify",
		configuration.AuthEndpoint+"/verify/trusteddevice/securitycode",
		headers, payload)
	if err != nil {
		configuration.Metrics.Increment(EventSecondFactorFailed)
		return nil, err
	}
	if !verifyResponse.succeeded() {
		configuration.Metrics.Increment(EventSecondFactorFailed)
		logger.Warn("security code rejected",
			zap.String("code", "icloud.verify.rejected"),
			zap.Int("status", verifyResponse.status))
		return nil, fmt.Errorf("icloud.verify: %w: status %d", ErrAuthRejected, verifyResponse.status)
	}

	trustResponse, err := transport.postJSON(ctx, "icloud.trust",
		configuration.AuthEndpoint+"/2sv/trust",
		pending.session.challengeHeaders(), nil)
	if err != nil {
		configuration.Metrics.Increment(EventSecondFactorFailed)
		return nil, err
	}
	if !trustResponse.succeeded() {
		configuration.Metrics.Increment(EventSecondFactorFailed)
		logger.Warn("trust request rejected",
			zap.String("code", "icloud.trust.rejected"),
			zap.Int("status", trustResponse.status))
		return nil, fmt.Errorf("icloud.trust: %w: status %d", ErrAuthRejected, trustResponse.status)
	}

	session := pending.session.clone()
	if trustToken := trustResponse.header.Get(HeaderTrustToken); trustToken != "" {
		session.TrustTokens = []string{trustToken}
	}
	if refreshed := trustResponse.header.Get(HeaderSessionToken); refreshed != "" {
		session.SessionToken = refreshed
	}
	configuration.Metrics.Increment(EventSecondFactorVerified)
	logger.Info("second factor verified",
		zap.String("code", "icloud.verify.ok"),
		zap.Bool("trusted", session.Trusted()))

	account, exchangeErr := exchangeToken(ctx, transport, session, false)
	if exchangeErr != nil {
		return nil, exchangeErr
	}
	pending.session = session
	return newService(session, transport, account), nil
}

// Resume skips sign-in and re-runs the token exchange for a saved session
// blob. ErrStaleSession means the caller must sign in again.
func Resume(ctx context.Context, transport *Transport, blob []byte) (*Service, error) {
	session, err := ParseSession(blob)
	if err != nil {
		return nil, err
	}
	return ResumeSession(ctx, transport, session)
}

// ResumeFromFile is Resume reading the blob from path.
func ResumeFromFile(ctx context.Context, transport *Transport, path string) (*Service, error) {
	session, err := ReadSessionFile(path)
	if err != nil {
		return nil, err
	}
	return ResumeSession(ctx, transport, session)
}

// ResumeSession is Resume for an already decoded session.
func ResumeSession(ctx context.Context, transport *Transport, session Session) (*Service, error) {
	account, err := exchangeToken(ctx, transport, session, true)
	if err != nil {
		return nil, err
	}
	transport.configuration.Metrics.Increment(EventSessionResumed)
	transport.configuration.Logger.Info("session resumed",
		zap.String("code", "icloud.resume.ok"),
		zap.Bool("trusted", session.Trusted()))
	return newService(session.clone(), transport, account), nil
}

func exchangeToken(ctx context.Context, transport *Transport, session Session, resuming bool) (Account, error) {
	configuration := transport.configuration
	trustTokens := session.TrustTokens
	if trustTokens == nil {
		trustTokens = []string{}
	}
	response, err := transport.postJSON(ctx, "icloud.token_exchange",
		configuration.SetupEndpoint+"/accountLogin",
		nil,
		accountLoginRequest{
			AccountCountryCode: session.AccountCountry,
			DSWebAuthToken:     session.SessionToken,
			ExtendedLogin:      true,
			TrustToken:         trustTokens,
		})
	if err != nil {
		configuration.Metrics.Increment(EventTokenExchangeFailed)
		return Account{}, err
	}
	if !response.succeeded() {
		configuration.Metrics.Increment(EventTokenExchangeFailed)
		configuration.Logger.Warn("token exchange rejected",
			zap.String("code", "icloud.token_exchange.failed"),
			zap.Int("status", response.status),
			zap.Bool("resuming", resuming))
		if resuming {
			configuration.Metrics.Increment(EventSessionStale)
			return Account{}, fmt.Errorf("icloud.token_exchange: %w: status %d", ErrStaleSession, response.status)
		}
		return Account{}, fmt.Errorf("icloud.token_exchange: %w: status %d", ErrAuthRejected, response.status)
	}
	account, parseErr := ParseAccount(response.body)
	if parseErr != nil {
		configuration.Metrics.Increment(EventTokenExchangeFailed)
		configuration.Logger.Error("account profile malformed",
			zap.String("code", "icloud.token_exchange.profile_shape"),
			zap.Error(parseErr))
		return Account{}, fmt.Errorf("icloud.token_exchange: %w", parseErr)
	}
	configuration.Metrics.Increment(EventTokenExchangeSucceeded)
	return account, nil
}

func captureSession(header http.Header, clientID string, trustTokens []string) (Session, error) {
	sessionID := header.Get(HeaderSessionID)
	if sessionID == "" {
		return Session{}, missingHeader(HeaderSessionID)
	}
	sessionToken := header.Get(HeaderSessionToken)
	if sessionToken == "" {
		return Session{}, missingHeader(HeaderSessionToken)
	}
	accountCountry := header.Get(HeaderAccountCountry)
	if accountCountry == "" {
		accountCountry = DefaultAccountCountry
	}
	return Session{
		ClientID:       clientID,
		TrustTokens:    trustTokens,
		AccountCountry: accountCountry,
		SCNT:           header.Get(HeaderSCNT),
		SessionID:      sessionID,
		SessionToken:   sessionToken,
	}, nil
}

// requiresSecondFactor reports whether the sign-in body announces hsa2. The
// body must be a JSON object; authType is optional but must be a string.
func requiresSecondFactor(body []byte) (bool, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return false, protocolShape("sign-in body is not a JSON object")
	}
	var decoded signInResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, protocolShape("sign-in authType: " + err.Error())
	}
	return decoded.AuthType == AuthTypeSecondFactor, nil
}

// NewClientID returns a fresh installation id.
func NewClientID() string {
	return "auth-" + uuid.NewString()
}

func authHeaders(clientID string) http.Header {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Apple-OAuth-Client-Id", oauthClientID)
	headers.Set("X-Apple-OAuth-Client-Type", oauthClientType)
	headers.Set("X-Apple-OAuth-Redirect-URI", oauthRedirectURI)
	headers.Set("X-Apple-OAuth-Require-Grant-Code", "true")
	headers.Set("X-Apple-OAuth-Response-Mode", "web_message")
	headers.Set("X-Apple-OAuth-Response-Type", "code")
	headers.Set("X-Apple-OAuth-State", clientID)
	headers.Set("X-Apple-Widget-Key", widgetKey)
	return headers
}

func (session Session) challengeHeaders() http.Header {
	headers := authHeaders(session.ClientID)
	headers.Set(HeaderSCNT, session.SCNT)
	headers.Set(HeaderSessionID, session.SessionID)
	return headers
}
