package adminws

// TokenProvider exposes the current access token. ok is false when none is available.
type TokenProvider interface {
	Token() (token string, ok bool)
}

type TokenFunc func() (string, bool)

func (f TokenFunc) Token() (string, bool) { return f() }

// StaticToken always returns token. An empty token means no credential.
func StaticToken(token string) TokenProvider {
	return TokenFunc(func() (string, bool) {
		return token, token != ""
	})
}
