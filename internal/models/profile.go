package models

import (
	"strings"
	"time"
)

// Role names as stored on profiles
const (
	RoleStudent = "student"
	RoleMonitor = "monitor"
)

// Profile is the users/{uid} document
type Profile struct {
	UID                string     `json:"-"`
	Role               FlexString `json:"role,omitempty"`
	AccountType        FlexString `json:"accountType,omitempty"`
	Email              FlexString `json:"email,omitempty"`
	InstitutionCode    FlexString `json:"institutionCode,omitempty"`
	InstitutionName    FlexString `json:"institutionName,omitempty"`
	InstitutionAddress FlexString `json:"institutionAddress,omitempty"`
	InstitutionLat     FlexFloat  `json:"institutionLat"`
	InstitutionLng     FlexFloat  `json:"institutionLng"`
	Route              FlexString `json:"route,omitempty"`
	StopAddress        FlexString `json:"stopAddress,omitempty"`
	StopLat            FlexFloat  `json:"stopLat"`
	StopLng            FlexFloat  `json:"stopLng"`
	StudentCode        FlexString `json:"studentCode,omitempty"`
	StudentName        FlexString `json:"studentName,omitempty"`
	DisplayName        FlexString `json:"displayName,omitempty"`
	FullName           FlexString `json:"fullName,omitempty"`
	Name               FlexString `json:"name,omitempty"`
	FirstName          FlexString `json:"firstName,omitempty"`
	LastName           FlexString `json:"lastName,omitempty"`
	FCMToken           FlexString `json:"fcmToken,omitempty"`

	PushNotifications *PushNotifications `json:"pushNotifications,omitempty"`
	ActiveSession     *ActiveSession     `json:"activeSession,omitempty"`
}

// PushNotifications holds the per-channel push registration
type PushNotifications struct {
	Web *WebPushRegistration `json:"web,omitempty"`
}

// WebPushRegistration is pushNotifications.web on a profile
type WebPushRegistration struct {
	Token     FlexString `json:"token,omitempty"`
	Tokens    []any      `json:"tokens,omitempty"`
	Enabled   bool       `json:"enabled"`
	UserAgent FlexString `json:"userAgent,omitempty"`
	UpdatedAt FlexTime   `json:"updatedAt"`
}

// ActiveSession is the single device session currently owning an account
type ActiveSession struct {
	DeviceID   string   `json:"deviceId"`
	UserAgent  string   `json:"userAgent,omitempty"`
	ClaimedAt  FlexTime `json:"claimedAt"`
	LastSeenAt FlexTime `json:"lastSeenAt"`
}

// IsFresh reports whether the session was seen within ttl of now
func (s *ActiveSession) IsFresh(now time.Time, ttl time.Duration) bool {
	if s == nil || s.DeviceID == "" || s.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(s.LastSeenAt.Time) < ttl
}

// IsMonitor reports whether the profile belongs to a bus monitor
func (p *Profile) IsMonitor() bool {
	if p == nil {
		return false
	}
	role := strings.ToLower(p.Role.String())
	accountType := strings.ToLower(p.AccountType.String())
	return role == "monitor" || role == "monitora" || accountType == "monitor" || accountType == "monitora"
}

// IsStudent reports whether the profile belongs to a student or parent account
func (p *Profile) IsStudent() bool {
	if p == nil || p.IsMonitor() {
		return false
	}
	role := strings.ToLower(p.Role.String())
	accountType := strings.ToLower(p.AccountType.String())
	if accountType == "student" || accountType == "estudiante" || role == "student" || role == "estudiante" {
		return true
	}
	return p.StudentCode != "" || p.StudentName != "" || p.StopAddress != ""
}

// RoleName returns RoleMonitor or RoleStudent
func (p *Profile) RoleName() string {
	if p.IsMonitor() {
		return RoleMonitor
	}
	return RoleStudent
}

// DisplayNameOrDefault picks the name used in notification texts
func (p *Profile) DisplayNameOrDefault() string {
	fallback := strings.TrimSpace(strings.Join([]string{p.FirstName.String(), p.LastName.String()}, " "))
	for _, candidate := range []string{
		p.StudentName.String(),
		p.DisplayName.String(),
		p.FullName.String(),
		p.Name.String(),
		fallback,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return "Estudiante"
}

// PushTokens returns the device tokens of the profile, de-duplicated in order:
// the current web token, the web token list, then the legacy fcmToken.
func (p *Profile) PushTokens() []string {
	var tokens []string
	if p.PushNotifications != nil && p.PushNotifications.Web != nil {
		web := p.PushNotifications.Web
		if t := web.Token.String(); t != "" {
			tokens = append(tokens, t)
		}
		for _, item := range web.Tokens {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tokens = append(tokens, strings.TrimSpace(s))
			}
		}
	}
	if t := p.FCMToken.String(); t != "" {
		tokens = append(tokens, t)
	}

	seen := make(map[string]struct{}, len(tokens))
	unique := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// StopCoords returns the student's stored stop coordinates, if any
func (p *Profile) StopCoords() *LatLng {
	if !p.StopLat.Valid || !p.StopLng.Valid {
		return nil
	}
	return &LatLng{Lat: p.StopLat.Value, Lng: p.StopLng.Value}
}

// InstitutionCoords returns the school's stored coordinates, if any
func (p *Profile) InstitutionCoords() *LatLng {
	if !p.InstitutionLat.Valid || !p.InstitutionLng.Valid {
		return nil
	}
	return &LatLng{Lat: p.InstitutionLat.Value, Lng: p.InstitutionLng.Value}
}

// StudentCode is the studentCodes/{code} enrollment document
type StudentCode struct {
	Code               string     `json:"-"`
	StudentName        FlexString `json:"studentName,omitempty"`
	StopAddress        FlexString `json:"stopAddress,omitempty"`
	StopLat            FlexFloat  `json:"stopLat"`
	StopLng            FlexFloat  `json:"stopLng"`
	InstitutionCode    FlexString `json:"institutionCode,omitempty"`
	InstitutionName    FlexString `json:"institutionName,omitempty"`
	InstitutionAddress FlexString `json:"institutionAddress,omitempty"`
	Route              FlexString `json:"route,omitempty"`
}
