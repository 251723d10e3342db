package hiloapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

// Push registers this client as a pseudo Android device so the cloud will
// deliver push notifications to it.  The chain is: mint a Firebase
// installation id, trade it for a GCM device token, then hand the token to
// the vendor's registration endpoint.  All intermediate state persists so
// a restart reuses the same identity.
type Push struct {
	api   requester
	state *statestore.Store
}

func NewPush(api requester, state *statestore.Store) *Push {
	return &Push{api: api, state: state}
}

// Register runs the full chain, skipping steps whose state is cached.
func (p *Push) Register(ctx context.Context) error {
	fid, auth, err := p.firebaseIdentity(ctx)
	if err != nil {
		return err
	}

	token, err := p.androidToken(ctx, fid, auth)
	if err != nil {
		return err
	}

	return p.registerDevice(ctx, token)
}

func (p *Push) firebaseIdentity(ctx context.Context) (string, string, error) {
	section, err := p.state.Get(statestore.SectionFirebase)
	if err != nil {
		return "", "", err
	}

	if fid, ok := section["fid"].(string); ok && fid != "" {
		if tok, ok := section["token"].(map[string]interface{}); ok {
			if access, ok := tok["access"].(string); ok && access != "" {
				return fid, access, nil
			}
		}
	}

	fid := randomFirebaseID()
	return p.firebaseInstall(ctx, fid)
}

// firebaseInstall posts a new installation and persists the resulting
// identity.
func (p *Push) firebaseInstall(ctx context.Context, fid string) (string, string, error) {
	logging.Logger(ctx).Debug("Posting firebase install")

	raw, err := p.api.Execute(ctx, http.MethodPost, FirebaseInstallEndpoint,
		transport.WithHost(FirebaseInstallHostname),
		transport.WithHeaders(firebaseInstallHeaders()),
		transport.WithJSONBody(map[string]string{
			"fid":         fid,
			"appId":       FirebaseAppID,
			"authVersion": FirebaseAuthVersion,
			"sdkVersion":  FirebaseSDKVersion,
		}),
	)
	if err != nil {
		return "", "", errors.Wrap(err, "firebase install")
	}

	var resp struct {
		FID          string `json:"fid"`
		Name         string `json:"name"`
		RefreshToken string `json:"refreshToken"`
		AuthToken    struct {
			Token     string `json:"token"`
			ExpiresIn string `json:"expiresIn"`
		} `json:"authToken"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", errors.Wrap(err, "decoding firebase install response")
	}

	expiresAt := time.Now().Add(parseExpiresIn(resp.AuthToken.ExpiresIn))
	err = p.state.Set(statestore.SectionFirebase, statestore.Section{
		"fid":  resp.FID,
		"name": resp.Name,
		"token": map[string]interface{}{
			"access":     resp.AuthToken.Token,
			"refresh":    resp.RefreshToken,
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", "", err
	}

	return resp.FID, resp.AuthToken.Token, nil
}

func (p *Push) androidToken(ctx context.Context, fid, fbAuth string) (string, error) {
	section, err := p.state.Get(statestore.SectionAndroid)
	if err != nil {
		return "", err
	}
	if token, ok := section["token"].(string); ok && token != "" {
		return token, nil
	}

	return p.androidRegister(ctx, fid, fbAuth)
}

// androidRegister trades the Firebase identity for a GCM device token.  A
// message body starting with "Error=" is the endpoint's failure shape even
// on HTTP 200.
func (p *Push) androidRegister(ctx context.Context, fid, fbAuth string) (string, error) {
	logging.Logger(ctx).Debug("Posting android register")

	form := androidRegisterForm()
	form.Set("X-appid", fid)
	form.Set("X-Goog-Firebase-Installations-Auth", fbAuth)

	raw, err := p.api.Execute(ctx, http.MethodPost, AndroidClientEndpoint,
		transport.WithHost(AndroidClientHostname),
		transport.WithHeaders(androidClientHeaders()),
		transport.WithFormBody(form),
	)
	if err != nil {
		return "", errors.Wrap(err, "android register")
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "decoding android register response")
	}

	if strings.HasPrefix(resp.Message, "Error=") {
		return "", errors.Errorf("android registration error: %s", resp.Message)
	}

	parts := strings.Split(resp.Message, "=")
	token := parts[len(parts)-1]

	if err := p.state.Set(statestore.SectionAndroid, statestore.Section{"token": token}); err != nil {
		return "", err
	}
	return token, nil
}

// registerDevice hands the GCM token to the vendor's notification service.
func (p *Push) registerDevice(ctx context.Context, token string) error {
	logging.Logger(ctx).Debug("Registering push token with notification service")

	_, err := p.api.Execute(ctx, http.MethodPost, RegistrationEndpoint,
		transport.WithHeaders(map[string]string{
			"AppId":       AndroidPkgName,
			"Provider":    "fcm",
			"Hilo-Tenant": Tenant,
		}),
		transport.WithJSONBody(map[string]string{"token": token}),
	)
	return errors.Wrap(err, "registering push token")
}

func firebaseInstallHeaders() map[string]string {
	return map[string]string{
		"Cache-Control":              "no-cache",
		"X-Android-Package":          AndroidPkgName,
		"x-firebase-client":          firebaseClient,
		"x-firebase-client-log-type": "3",
		"X-Android-Cert":             AndroidCert,
		"x-goog-api-key":             GoogleAPIKey,
		"User-Agent":                 "Dalvik/2.1.0 (Linux; U; Android 11; Android SDK built for x86 Build/RSR1.210210.001.A1)",
	}
}

func androidClientHeaders() map[string]string {
	return map[string]string{
		"Authorization": "AidLogin " + AndroidDeviceID + ":" + AndroidSecurityToken,
		"app":           AndroidPkgName,
		"gcm_ver":       AndroidGCMVersion,
		"User-Agent":    "Android-GCM/1.5 (generic_x86 RSR1.210210.001.A1)",
	}
}

func androidRegisterForm() url.Values {
	return url.Values{
		"device":                     {AndroidDeviceID},
		"X-subtype":                  {AndroidSender},
		"sender":                     {AndroidSender},
		"X-app_ver":                  {"5357"},
		"X-osv":                      {"30"},
		"X-cliv":                     {"fiid-21.0.1"},
		"X-gmsv":                     {AndroidGCMVersion},
		"X-scope":                    {"*"},
		"X-gmp_app_id":               {FirebaseAppID},
		"X-firebase-app-name-hash":   {"R1dAH9Ui7M-ynoznwBdw01tLxhI"},
		"X-Firebase-Client":          {firebaseClient},
		"X-Firebase-Client-Log-Type": {"1"},
		"app":                        {AndroidPkgName},
		"app_ver":                    {"5357"},
		"info":                       {"Y8qNKupTk7IVoLPgN7e-uDAzqVicyRc"},
		"gcm_ver":                    {AndroidGCMVersion},
		"plat":                       {"0"},
		"cert":                       {strings.ToLower(AndroidCert)},
		"target_ver":                 {"30"},
	}
}

const firebaseIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomFirebaseID() string {
	buf := make([]byte, FirebaseIDLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = firebaseIDCharset[int(b)%len(firebaseIDCharset)]
	}
	return string(buf)
}

// parseExpiresIn handles the "604800s" duration shape of the install
// response.
func parseExpiresIn(s string) time.Duration {
	s = strings.TrimSuffix(s, "s")
	d, err := time.ParseDuration(s + "s")
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}
