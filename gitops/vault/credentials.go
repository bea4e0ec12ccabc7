package vault

import "fmt"

// Method selects how credentials authenticate against a
// git hosting server.
type Method string

// Supported credential methods. Unrecognized tags are
// rejected at the vault boundary.
const (
	MethodToken       Method = "token"
	MethodCredentials Method = "credentials"
	MethodSSH         Method = "ssh"
)

// Credentials is the secret material stored for one
// server or repository. Exactly the fields required by
// Method are expected to be set.
type Credentials struct {
	Method Method `json:"method"`

	// Token is a personal access token (MethodToken).
	Token string `json:"token,omitempty"`

	// Username and Password authenticate via HTTP basic
	// auth (MethodCredentials). Username is also needed
	// by providers that accept tokens only as a basic
	// auth password.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// PrivateKey and Passphrase hold SSH key material
	// (MethodSSH).
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Validate checks that the credential shape matches its
// method. Unknown methods are rejected here so that no
// downstream consumer has to handle them.
func (c Credentials) Validate() error {
	const errCtx = "validating credentials"

	switch c.Method {
	case MethodToken:
		if c.Token == "" {
			return fmt.Errorf(
				"%s: token must be set", errCtx,
			)
		}
	case MethodCredentials:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf(
				"%s: username and password must be set",
				errCtx,
			)
		}
	case MethodSSH:
		if c.PrivateKey == "" {
			return fmt.Errorf(
				"%s: private key must be set", errCtx,
			)
		}
	default:
		return fmt.Errorf(
			"%s: unknown method %q", errCtx, c.Method,
		)
	}

	return nil
}
