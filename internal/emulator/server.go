package emulator

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Route prefixes. A client pointed at the emulator uses
// base+AuthPrefix, base+SetupPrefix and base as its endpoints.
const (
	AuthPrefix     = "/appleauth/auth"
	SetupPrefix    = "/setup/ws/1"
	CalendarPrefix = "/calendar"

	oauthClientID = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"
)

type challenge struct {
	accountName string
	scnt        string
	verified    bool
}

// Server emulates the sign-in, setup and calendar endpoints.
type Server struct {
	configuration Config
	router        *gin.Engine
	recorder      *Recorder

	mutex       sync.Mutex
	accounts    map[string]Account
	challenges  map[string]*challenge
	trustTokens map[string]string
	generations map[string]int
}

// New builds a Server and its routes.
func New(configuration Config) (*Server, error) {
	normalized, err := configuration.normalized()
	if err != nil {
		return nil, err
	}
	accounts := make(map[string]Account, len(normalized.Accounts))
	for _, account := range normalized.Accounts {
		accounts[strings.ToLower(account.AccountName)] = account
	}
	server := &Server{
		configuration: normalized,
		recorder:      &Recorder{},
		accounts:      accounts,
		challenges:    make(map[string]*challenge),
		trustTokens:   make(map[string]string),
		generations:   make(map[string]int),
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.recorder.middleware())
	router.Use(requestLogger(normalized.Logger))
	policy, policyErr := originPolicy(normalized.Logger, normalized.AllowedOrigins)
	if policyErr != nil {
		return nil, policyErr
	}
	router.Use(policy)

	auth := router.Group(AuthPrefix)
	auth.POST("/signin", server.handleSignIn)
	auth.POST("/verify/trusteddevice/securitycode", server.handleVerify)
	auth.POST("/2sv/trust", server.handleTrust)
	router.POST(SetupPrefix+"/accountLogin", server.handleAccountLogin)
	router.GET(CalendarPrefix+"/ca/events", server.handleCalendarEvents)
	server.router = router
	return server, nil
}

// Handler returns the HTTP surface.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Recorded returns every request seen so far.
func (server *Server) Recorded() []RecordedRequest {
	return server.recorder.snapshot()
}

// Revoke invalidates every session and trust token issued to accountName.
func (server *Server) Revoke(accountName string) {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	key := strings.ToLower(accountName)
	server.generations[key]++
	for token, owner := range server.trustTokens {
		if owner == key {
			delete(server.trustTokens, token)
		}
	}
}

func (server *Server) lookupAccount(accountName string) (Account, bool) {
	account, ok := server.accounts[strings.ToLower(accountName)]
	return account, ok
}

func (server *Server) handleSignIn(contextGin *gin.Context) {
	if !validOAuthHeaders(contextGin.Request.Header) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_oauth_headers"})
		return
	}
	var inbound struct {
		AccountName string   `json:"accountName"`
		Password    string   `json:"password"`
		RememberMe  bool     `json:"rememberMe"`
		TrustTokens []string `json:"trustTokens"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	account, ok := server.lookupAccount(inbound.AccountName)
	if !ok || account.Password != inbound.Password {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"serviceErrors": []gin.H{{"code": "-20101", "message": "Your Apple ID or password was incorrect."}},
		})
		return
	}

	server.mutex.Lock()
	defer server.mutex.Unlock()

	key := strings.ToLower(account.AccountName)
	trusted := !account.RequiresSecondFactor()
	for _, token := range inbound.TrustTokens {
		if server.trustTokens[token] == key {
			trusted = true
		}
	}
	sessionID := uuid.NewString()
	scnt, scntErr := randomToken(24)
	if scntErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	sessionToken, mintErr := server.mintSessionToken(key, trusted, server.generations[key])
	if mintErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	faults := server.configuration.Faults
	if !faults.OmitCountry && account.AccountCountry != "" {
		contextGin.Header("X-Apple-ID-Account-Country", account.AccountCountry)
	}
	contextGin.Header("scnt", scnt)
	if !faults.OmitSessionID {
		contextGin.Header("X-Apple-ID-Session-Id", sessionID)
	}
	if !faults.OmitSessionToken {
		contextGin.Header("X-Apple-Session-Token", sessionToken)
	}

	if faults.HTMLSignInBody {
		contextGin.Data(http.StatusOK, "text/html; charset=utf-8", []byte("<html><body>signed in</body></html>"))
		return
	}
	if !trusted {
		server.challenges[sessionID] = &challenge{accountName: key, scnt: scnt}
		contextGin.JSON(http.StatusConflict, gin.H{"authType": "hsa2"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"authType": "sa"})
}

func (server *Server) handleVerify(contextGin *gin.Context) {
	var inbound struct {
		SecurityCode struct {
			Code string `json:"code"`
		} `json:"securityCode"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	server.mutex.Lock()
	defer server.mutex.Unlock()

	pending, ok := server.challengeFor(contextGin.Request.Header)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	account, _ := server.lookupAccount(pending.accountName)
	if inbound.SecurityCode.Code != account.SecurityCode {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"service_errors": []gin.H{{"code": "-21669", "message": "Incorrect verification code."}},
		})
		return
	}
	pending.verified = true
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleTrust(contextGin *gin.Context) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	pending, ok := server.challengeFor(contextGin.Request.Header)
	if !ok || !pending.verified {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	trustToken, randomErr := randomToken(32)
	if randomErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	sessionToken, mintErr := server.mintSessionToken(pending.accountName, true, server.generations[pending.accountName])
	if mintErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	server.trustTokens[trustToken] = pending.accountName
	delete(server.challenges, contextGin.Request.Header.Get("X-Apple-ID-Session-Id"))

	contextGin.Header("X-Apple-TwoSV-Trust-Token", trustToken)
	contextGin.Header("X-Apple-Session-Token", sessionToken)
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleAccountLogin(contextGin *gin.Context) {
	var inbound struct {
		AccountCountryCode string   `json:"accountCountryCode"`
		DSWebAuthToken     string   `json:"dsWebAuthToken"`
		ExtendedLogin      bool     `json:"extended_login"`
		TrustToken         []string `json:"trustToken"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	claims, parseErr := server.parseSessionToken(inbound.DSWebAuthToken)
	if parseErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusMisdirectedRequest, gin.H{"error": "invalid_session_token"})
		return
	}

	server.mutex.Lock()
	generation := server.generations[claims.AccountName]
	server.mutex.Unlock()

	account, ok := server.lookupAccount(claims.AccountName)
	if !ok || !claims.Verified || claims.Generation != generation {
		contextGin.AbortWithStatusJSON(http.StatusMisdirectedRequest, gin.H{"error": "session_expired"})
		return
	}

	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     WebAuthCookieName,
		Value:    "d=" + claims.Subject,
		Path:     "/",
		Expires:  server.configuration.Clock.Now().Add(server.configuration.TokenTTL),
		HttpOnly: true,
	})
	contextGin.JSON(http.StatusOK, Profile(account, baseURL(contextGin.Request), server.configuration.Faults.DropServices))
}

func (server *Server) handleCalendarEvents(contextGin *gin.Context) {
	cookie, cookieErr := contextGin.Request.Cookie(WebAuthCookieName)
	if cookieErr != nil || cookie == nil || cookie.Value == "" {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	query := contextGin.Request.URL.Query()
	contextGin.JSON(http.StatusOK, gin.H{
		"query": gin.H{
			"lang":      query.Get("lang"),
			"usertz":    query.Get("usertz"),
			"startDate": query.Get("startDate"),
			"endDate":   query.Get("endDate"),
		},
		"Event": []gin.H{},
	})
}

func (server *Server) challengeFor(header http.Header) (*challenge, bool) {
	pending, ok := server.challenges[header.Get("X-Apple-ID-Session-Id")]
	if !ok || pending.scnt == "" || pending.scnt != header.Get("scnt") {
		return nil, false
	}
	return pending, true
}

func validOAuthHeaders(header http.Header) bool {
	return header.Get("X-Apple-OAuth-Client-Id") == oauthClientID &&
		header.Get("X-Apple-Widget-Key") == oauthClientID &&
		header.Get("X-Apple-OAuth-Client-Type") == "firstPartyAuth" &&
		strings.TrimSpace(header.Get("X-Apple-OAuth-State")) != ""
}

func baseURL(request *http.Request) string {
	host := request.Host
	if host == "" {
		host = "localhost"
	}
	return forwardedProto(request) + "://" + host
}

func forwardedProto(request *http.Request) string {
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	return "http"
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
