package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"tallyboard/tracker/schema"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type KeycloakIdentityProvider struct {
	keycloak *gocloak.GoCloak
	db       *gorm.DB
	auditLog AuditLogger

	realm         string
	clientId      string
	adminUsername string
	adminPassword string
}

type KeycloakArgs struct {
	ServerUrl     string
	Realm         string
	ClientId      string
	AdminUsername string
	AdminPassword string
}

func NewKeycloakIdentityProvider(db *gorm.DB, auditLog AuditLogger, args KeycloakArgs) (IdentityProvider, error) {
	client := gocloak.NewClient(args.ServerUrl)

	return &KeycloakIdentityProvider{
		keycloak:      client,
		db:            db,
		auditLog:      auditLog,
		realm:         args.Realm,
		clientId:      args.ClientId,
		adminUsername: args.AdminUsername,
		adminPassword: args.AdminPassword,
	}, nil
}

func (auth *KeycloakIdentityProvider) adminToken(ctx context.Context) (string, error) {
	// The "master" realm is the default admin realm in Keycloak.
	token, err := auth.keycloak.LoginAdmin(ctx, auth.adminUsername, auth.adminPassword, "master")
	if err != nil {
		return "", fmt.Errorf("error during keycloak admin login: %w", err)
	}
	return token.AccessToken, nil
}

// syncUser mirrors a keycloak identity into the local users table so that
// ownership and share edges can reference it.
func (auth *KeycloakIdentityProvider) syncUser(userId uuid.UUID, username, email string) (schema.User, error) {
	user := schema.User{Id: userId, Username: username, Email: email}

	err := auth.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.User
		result := txn.Limit(1).Find(&existing, "id = ?", userId)
		if result.Error != nil {
			slog.Error("sql error checking for synced keycloak user", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			user = existing
			return nil
		}

		result = txn.Create(&user)
		if result.Error != nil {
			slog.Error("sql error syncing keycloak user", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})

	return user, err
}

func (auth *KeycloakIdentityProvider) verifyAccessToken(ctx context.Context, accessToken string) (schema.User, error) {
	result, err := auth.keycloak.RetrospectToken(ctx, accessToken, auth.clientId, "", auth.realm)
	if err != nil {
		return schema.User{}, fmt.Errorf("error introspecting token: %w", err)
	}
	if result.Active == nil || !*result.Active {
		return schema.User{}, ErrInvalidCredentials
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	_, _, err = parser.ParseUnverified(accessToken, claims)
	if err != nil {
		return schema.User{}, fmt.Errorf("error parsing token claims: %w", err)
	}

	sub, _ := claims["sub"].(string)
	username, _ := claims["preferred_username"].(string)
	email, _ := claims["email"].(string)

	userId, err := uuid.Parse(sub)
	if err != nil {
		return schema.User{}, fmt.Errorf("invalid subject in token: %w", err)
	}

	return auth.syncUser(userId, username, email)
}

func (auth *KeycloakIdentityProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			user, err := auth.verifyAccessToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidCredentials) {
					http.Error(w, "invalid access token", http.StatusUnauthorized)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			reqCtx := context.WithValue(r.Context(), UserRequestContextKey, user)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}
		return http.HandlerFunc(handler)
	}
}

func (auth *KeycloakIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.addUserToContext(), auth.auditLog.Middleware}
}

func (auth *KeycloakIdentityProvider) AllowDirectSignup() bool {
	return false
}

func (auth *KeycloakIdentityProvider) LoginWithEmail(email, password string) (LoginResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := auth.keycloak.Login(ctx, auth.clientId, "", auth.realm, email, password)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := auth.verifyAccessToken(ctx, token.AccessToken)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{UserId: user.Id, AccessToken: token.AccessToken}, nil
}

func (auth *KeycloakIdentityProvider) LoginWithToken(accessToken string) (LoginResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := auth.verifyAccessToken(ctx, accessToken)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{UserId: user.Id, AccessToken: accessToken}, nil
}

func (auth *KeycloakIdentityProvider) CreateUser(username, email, password string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	adminToken, err := auth.adminToken(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	enabled := true
	id, err := auth.keycloak.CreateUser(ctx, adminToken, auth.realm, gocloak.User{
		Username: &username,
		Email:    &email,
		Enabled:  &enabled,
	})
	if err != nil {
		apiErr := new(gocloak.APIError)
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return uuid.Nil, ErrUsernameAlreadyInUse
		}
		return uuid.Nil, fmt.Errorf("error creating keycloak user: %w", err)
	}

	userId, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("keycloak returned invalid user id: %w", err)
	}

	err = auth.keycloak.SetPassword(ctx, adminToken, id, auth.realm, password, false)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error setting keycloak user password: %w", err)
	}

	if _, err := auth.syncUser(userId, username, email); err != nil {
		return uuid.Nil, err
	}

	return userId, nil
}

func (auth *KeycloakIdentityProvider) DeleteUser(userId uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	adminToken, err := auth.adminToken(ctx)
	if err != nil {
		return err
	}

	err = auth.keycloak.DeleteUser(ctx, adminToken, auth.realm, userId.String())
	if err != nil {
		return fmt.Errorf("error deleting keycloak user: %w", err)
	}

	return nil
}

func (auth *KeycloakIdentityProvider) GetTokenExpiration(r *http.Request) (time.Time, error) {
	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return time.Time{}, errors.New("missing bearer token")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(tokenStr, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("token has no expiration claim")
	}

	return exp.Time, nil
}
