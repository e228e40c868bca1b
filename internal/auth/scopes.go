package auth

const (
	ScopeOpenID    = "openid"
	ScopeProfile   = "profile"
	ScopeEmail     = "email"
	ScopeChatRead  = "chat:read"
	ScopeChatWrite = "chat:write"
)

// AllScopes defines the full set of scopes requested by the dashboard.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeChatRead,
	ScopeChatWrite,
}
