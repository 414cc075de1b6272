package auth

// Known OAuth scopes used by the inbox.
const (
	ScopeInboxWrite = "inbox:write"
	ScopeInboxRead  = "inbox:read"
)
