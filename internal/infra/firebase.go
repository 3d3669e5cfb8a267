// README: Firebase Admin SDK app, ID token verification with the role claim, and FCM client.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"tiffin/internal/types"
)

// RoleClaim is the custom claim carrying the caller's role.
const RoleClaim = "role"

// FirebaseToken is a verified ID token.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// Role resolves the role claim. A missing or unrecognised claim means customer.
func (t *FirebaseToken) Role() types.Role {
	v, _ := t.Claims[RoleClaim].(string)
	switch r := types.Role(v); r {
	case types.RoleRider, types.RoleAdmin:
		return r
	default:
		return types.RoleCustomer
	}
}

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// RoleGranter writes the role claim onto a user; it applies from the user's next token refresh.
type RoleGranter interface {
	GrantRole(ctx context.Context, uid string, role types.Role) error
}

// FirebaseAuth verifies tokens and manages role claims through the Admin SDK.
type FirebaseAuth struct {
	client *auth.Client
}

// NewFirebaseApp creates the Admin SDK app. With an empty credentialsFile the
// application-default credentials are used.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

func NewFirebaseAuth(ctx context.Context, app *firebase.App) (*FirebaseAuth, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &FirebaseAuth{client: client}, nil
}

func (a *FirebaseAuth) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := a.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

// GrantRole replaces the user's custom claims with the role claim.
func (a *FirebaseAuth) GrantRole(ctx context.Context, uid string, role types.Role) error {
	if err := a.client.SetCustomUserClaims(ctx, uid, map[string]interface{}{RoleClaim: string(role)}); err != nil {
		return fmt.Errorf("set role claim for %s: %w", uid, err)
	}
	return nil
}

// NewMessaging returns the FCM client used for push delivery.
func NewMessaging(ctx context.Context, app *firebase.App) (*messaging.Client, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return client, nil
}
