package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	validPhoneFormat = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigit         = regexp.MustCompile(`[^\d]`)
)

// legacyUserServer is the server part used by WhatsApp Web chat ids ("123@c.us").
const legacyUserServer = "c.us"

// ParseTarget converts a phone number or chat id into a WhatsApp JID.
//
// Accepted forms: "628123456789", "+62 812-345-6789", "0812..." (when
// defaultCountryCode is set), "628123@c.us", "628123@s.whatsapp.net",
// "120363...@g.us".
func ParseTarget(target, defaultCountryCode string) (types.JID, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return types.JID{}, fmt.Errorf("target is empty")
	}

	if strings.Contains(target, "@") {
		user, server, _ := strings.Cut(target, "@")
		if server == legacyUserServer {
			target = user + "@" + types.DefaultUserServer
		}
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid chat id: %w", err)
		}
		if jid.User == "" {
			return types.JID{}, fmt.Errorf("invalid chat id: missing user part")
		}
		return jid, nil
	}

	phone, err := NormalizePhoneNumber(target, defaultCountryCode)
	if err != nil {
		return types.JID{}, err
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// NormalizePhoneNumber strips formatting and returns digits in international form.
func NormalizePhoneNumber(phone, defaultCountryCode string) (string, error) {
	if !validPhoneFormat.MatchString(phone) {
		return "", fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigit.ReplaceAllString(phone, "")

	// Local numbers: 0xxx → <cc>xxx
	if strings.HasPrefix(cleaned, "0") {
		cc := nonDigit.ReplaceAllString(defaultCountryCode, "")
		if cc == "" {
			return "", fmt.Errorf("phone number must be in international format (country code without leading 0)")
		}
		cleaned = cc + strings.TrimLeft(cleaned, "0")
	}

	// E.164 allows at most 15 digits
	if len(cleaned) < 8 || len(cleaned) > 15 {
		return "", fmt.Errorf("invalid phone number length")
	}

	return cleaned, nil
}
