package core

import "strings"

// AndroidApp is a known Android package identifier.
type AndroidApp string

const (
	AppInstagram AndroidApp = "com.instagram.android"
	AppWhatsApp  AndroidApp = "com.whatsapp"
	AppSlack     AndroidApp = "com.slack"
	AppSettings  AndroidApp = "com.android.settings"
)

var platformNames = map[AndroidApp]string{
	AppInstagram: "Instagram",
	AppWhatsApp:  "WhatsApp",
	AppSlack:     "Slack",
	AppSettings:  "Settings",
}

// PlatformName returns a display name for pkg.
// Unknown packages fall back to their last dotted segment, e.g. "gm" for
// com.google.android.gm.
func PlatformName(pkg string) string {
	if name, ok := platformNames[AndroidApp(pkg)]; ok {
		return name
	}
	if i := strings.LastIndex(pkg, "."); i >= 0 && i < len(pkg)-1 {
		return pkg[i+1:]
	}
	return pkg
}

// IsMessagingApp reports whether pkg has app-specific inference rules.
func IsMessagingApp(pkg string) bool {
	switch AndroidApp(pkg) {
	case AppInstagram, AppWhatsApp, AppSlack:
		return true
	}
	return false
}
