package bulk

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// assertionLifetime bounds how long a signed login assertion stays usable.
const assertionLifetime = 3 * time.Minute

// LoginConfig holds what the OAuth JWT bearer flow needs: a connected app's
// consumer key, the user to act as, and the app's certificate key.
type LoginConfig struct {
	LoginURL   string // e.g. https://login.salesforce.com
	ClientID   string // connected app consumer key
	Username   string
	PrivateKey *rsa.PrivateKey
}

// Session is the granted token plus the org instance it is valid against.
type Session struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// LoginError is a rejected token request, e.g. invalid_grant when the user
// is not pre-authorized for the connected app.
type LoginError struct {
	Status int
	Code   string
	Desc   string
}

func (e LoginError) Error() string {
	return fmt.Sprintf("bulk login: http %d %s: %s", e.Status, e.Code, e.Desc)
}

// Login exchanges a signed JWT assertion for a session. The assertion
// carries the consumer key as issuer, the username as subject and the login
// host as audience.
func Login(ctx context.Context, cfg LoginConfig) (Session, error) {
	if cfg.LoginURL == "" || cfg.ClientID == "" || cfg.Username == "" {
		return Session{}, errors.New("bulk login: login url, client id and username are required")
	}
	if cfg.PrivateKey == nil {
		return Session{}, errors.New("bulk login: private key is required")
	}

	claims := jwt.MapClaims{
		"iss": cfg.ClientID,
		"sub": cfg.Username,
		"aud": cfg.LoginURL,
		"exp": time.Now().Add(assertionLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(cfg.PrivateKey)
	if err != nil {
		return Session{}, fmt.Errorf("bulk login: sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	tokenURL := strings.TrimRight(cfg.LoginURL, "/") + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := httpc.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
			Desc  string `json:"error_description"`
		}
		_ = json.NewDecoder(res.Body).Decode(&body)
		return Session{}, LoginError{Status: res.StatusCode, Code: body.Error, Desc: body.Desc}
	}

	var s Session
	if err := json.NewDecoder(res.Body).Decode(&s); err != nil {
		return Session{}, DecodeError{What: "token response", Err: err}
	}
	if s.AccessToken == "" {
		return Session{}, DecodeError{What: "token response", Err: fmt.Errorf("missing access_token")}
	}
	return s, nil
}

// ParsePrivateKey reads a PEM-encoded RSA private key, PKCS#1 or PKCS#8.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	return jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
}

// LoadPrivateKey reads and parses the key file of the connected app.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bulk login: read key file: %w", err)
	}
	return ParsePrivateKey(pemBytes)
}
