// auth.go — JWT middleware для аутентификации и авторизации.
// Проверяет подпись RS256 через JWKS, извлекает claims, определяет тип субъекта
// (пользователь / Service Account) и маппит группы в роли.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/Mockaj/ai-service/internal/api/errors"
	"github.com/Mockaj/ai-service/internal/domain/rbac"
)

// contextKey — тип для ключей контекста.
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	// SubjectTypeUser — пользователь (Authorization Code flow).
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeSA — Service Account (Client Credentials flow).
	SubjectTypeSA SubjectType = "service_account"
)

// AuthClaims — claims, доступные downstream handlers.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string

	// Groups — группы пользователя из JWT.
	Groups []string
	// Role — роль пользователя (admin, readonly, "").
	Role string

	// Scopes — scopes Service Account'а.
	Scopes []string
	// ClientID — client_id Service Account'а.
	ClientID string
}

// HasAnyRole проверяет, совпадает ли роль с одной из указанных.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	return c.Role != "" && slices.Contains(roles, c.Role)
}

// HasAnyScope проверяет наличие хотя бы одного из указанных scopes.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if slices.Contains(c.Scopes, s) {
			return true
		}
	}
	return false
}

// tokenClaims — raw claims токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
	// Scope — scopes через пробел
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTConfig — параметры JWT-аутентификации.
type JWTConfig struct {
	JWKSURL         string
	CACertPath      string
	Issuer          string
	AdminGroups     []string
	ReadonlyGroups  []string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks           keyfunc.Keyfunc
	logger         *slog.Logger
	adminGroups    []string
	readonlyGroups []string
	issuer         string
	leeway         time.Duration
}

// NewJWTAuth создаёт JWT middleware с фоновым обновлением JWKS.
// Стартует даже если IdP ещё недоступен.
func NewJWTAuth(cfg JWTConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: cfg.ClientTimeout}
	if cfg.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(cfg.CACertPath, cfg.ClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, cfg.Issuer, cfg.AdminGroups, cfg.ReadonlyGroups, logger)
	auth.leeway = cfg.Leeway
	return auth, nil
}

// httpClientWithCA создаёт HTTP-клиент с дополнительным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: caCertPool},
		},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, adminGroups, readonlyGroups []string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:           kf,
		logger:         logger.With(slog.String("component", "jwt_auth")),
		adminGroups:    adminGroups,
		readonlyGroups: readonlyGroups,
		issuer:         issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, j.buildAuthClaims(raw))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims определяет тип субъекта и роль.
func (j *JWTAuth) buildAuthClaims(raw *tokenClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
	}

	// Service Account имеет client_id и scope
	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Groups = raw.Groups
	claims.Role = rbac.MapGroupsToRole(raw.Groups, j.adminGroups, j.readonlyGroups)

	// Роль не определена через группы — пробуем realm_access.roles
	if claims.Role == "" && raw.RealmAccess != nil {
		var mapped []string
		for _, r := range raw.RealmAccess.Roles {
			if rbac.IsValidRole(r) {
				mapped = append(mapped, r)
			}
		}
		claims.Role = rbac.HighestRole(mapped)
	}
	return claims
}

// RequireRoleOrScope пропускает пользователей с одной из ролей
// или Service Accounts с одним из scopes.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRoleOrScope(roles, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeUser:
				if claims.HasAnyRole(roles...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))

			case SubjectTypeSA:
				if claims.HasAnyScope(scopes...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))

			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает sub из контекста запроса.
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
