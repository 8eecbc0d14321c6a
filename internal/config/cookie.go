package config

import "net/http"

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "none"
	CookieSameSiteLax    CookieSameSite = "lax"
	CookieSameSiteStrict CookieSameSite = "strict"
)

// CookieTemplate describes a cookie the service sets, with everything but
// the value fixed by configuration.
type CookieTemplate struct {
	Name     string         `yaml:"name"     env:"NAME"`
	MaxAge   int            `yaml:"maxAge"   env:"MAX_AGE"`
	Path     string         `yaml:"path"     env:"PATH"`
	Domain   string         `yaml:"domain"   env:"DOMAIN"`
	Secure   bool           `yaml:"secure"   env:"SECURE"`
	HTTPOnly bool           `yaml:"httpOnly" env:"HTTP_ONLY"`
	SameSite CookieSameSite `yaml:"sameSite" env:"SAME_SITE"`
}

func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}

// ToExpiredCookie returns a cookie that instructs the browser to drop the
// stored value.
func (ct *CookieTemplate) ToExpiredCookie() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1

	return c
}
