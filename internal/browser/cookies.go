package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/specterlabs/handoff/pkg/models"
)

// exportedCookie is the shape browser cookie-export extensions produce.
type exportedCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	ExpirationDate float64 `json:"expirationDate"`
	SameSite       string  `json:"sameSite"`
}

var sameSiteNames = map[string]string{
	"no_restriction": "None",
	"none":           "None",
	"lax":            "Lax",
	"strict":         "Strict",
}

// ParseCookies accepts either a JSON array of exported cookie objects or
// Netscape tab-separated cookie text. The two formats are interchangeable
// at the import endpoint; which one arrives depends on the operator's
// export tool.
func ParseCookies(content []byte) ([]models.Cookie, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, fmt.Errorf("empty cookie payload")
	}
	if strings.HasPrefix(trimmed, "[") {
		return parseJSONCookies(trimmed)
	}
	return parseNetscapeCookies(trimmed)
}

func parseJSONCookies(content string) ([]models.Cookie, error) {
	var exported []exportedCookie
	if err := json.Unmarshal([]byte(content), &exported); err != nil {
		return nil, fmt.Errorf("invalid cookie JSON: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(exported))
	for _, c := range exported {
		path := c.Path
		if path == "" {
			path = "/"
		}
		sameSite, ok := sameSiteNames[strings.ToLower(c.SameSite)]
		if !ok {
			sameSite = "Lax"
		}
		expires := c.ExpirationDate
		if expires == 0 {
			expires = -1
		}
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
			SameSite: sameSite,
		})
	}
	return cookies, nil
}

// parseNetscapeCookies reads the classic cookies.txt layout:
// domain, includeSubdomains, path, secure, expires, name, value.
func parseNetscapeCookies(content string) ([]models.Cookie, error) {
	var cookies []models.Cookie
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}

		expires := float64(-1)
		if parts[4] != "0" {
			if v, err := strconv.ParseInt(parts[4], 10, 64); err == nil {
				expires = float64(v)
			}
		}
		cookies = append(cookies, models.Cookie{
			Name:     parts[5],
			Value:    parts[6],
			Domain:   parts[0],
			Path:     parts[2],
			Secure:   strings.EqualFold(parts[3], "TRUE"),
			Expires:  expires,
			SameSite: "Lax",
		})
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies found in payload")
	}
	return cookies, nil
}
