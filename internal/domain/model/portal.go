package model

import "time"

// Portal holds the OAuth2 session of one Bitrix24 portal that installed the
// application. MemberID is the stable portal identity; Domain is the portal
// hostname used to build REST URLs; AppToken identifies install/uninstall
// event callbacks.
type Portal struct {
	MemberID     string
	Domain       string
	AppToken     string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry in Unix milliseconds.
	ExpiresAt int64
	Active    bool
	UpdatedAt time.Time
}

// Expired reports whether the access token must be refreshed before use.
// A portal is usable without refresh only while ExpiresAt is strictly after now.
func (p Portal) Expired(now time.Time) bool {
	return p.ExpiresAt <= now.UnixMilli()
}

// ExpiryTime returns ExpiresAt as a time.Time. The zero time is returned when
// no expiry is known.
func (p Portal) ExpiryTime() time.Time {
	if p.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.ExpiresAt)
}

// Deactivate marks the portal as uninstalled and drops its tokens.
func (p *Portal) Deactivate() {
	p.Active = false
	p.AccessToken = ""
	p.RefreshToken = ""
	p.ExpiresAt = 0
}

// TokenGrant is the result of an OAuth2 token exchange.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	MemberID  string
	Domain    string
}
