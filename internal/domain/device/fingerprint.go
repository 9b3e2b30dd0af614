// Package device derives a stable device identity from the user agent and network address of a request.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"
)

// Type classifies the form factor of a client device
type Type string

const (
	TypeDesktop Type = "desktop"
	TypeMobile  Type = "mobile"
	TypeTablet  Type = "tablet"
)

const (
	fingerprintLength    = 32
	fingerprintDelimiter = "|"
	unknownDeviceName    = "Unknown Device"
)

// Info is the derived, stateless description of a client device
type Info struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Browser     string `json:"browser"`
	OS          string `json:"os"`
	Network     string `json:"-"`
}

// Equal reports whether both values identify the same device
func (i Info) Equal(other Info) bool {
	return i.Fingerprint == other.Fingerprint
}

// SignificantChange reports whether browser, OS or device type differ.
// It is coarser than fingerprint equality and ignores the network.
func SignificantChange(a, b Info) bool {
	return a.Browser != b.Browser || a.OS != b.OS || a.Type != b.Type
}

// agent holds the fields extracted from a user agent string
type agent struct {
	browserName  string
	browserMajor string
	osName       string
	osMajor      string
	reported     Type // empty unless the user agent states the form factor
	vendor       string
	model        string
}

// Derive computes the device description for a request.
// Identical inputs, or addresses from the same coarsened network, yield the same fingerprint.
func Derive(userAgent, networkAddress string) Info {
	a := parseAgent(userAgent)
	network := CoarsenAddress(networkAddress)
	devType := classify(a)

	info := Info{
		Type:    devType,
		Browser: joinNonEmpty(" ", a.browserName, a.browserMajor),
		OS:      joinNonEmpty(" ", a.osName, a.osMajor),
		Network: network,
	}
	info.Name = deviceName(a, info)
	info.Fingerprint = hashComponents(
		a.browserName,
		a.browserMajor,
		a.osName,
		a.osMajor,
		string(devType),
		a.vendor,
		network,
	)
	return info
}

// Fingerprint is a shorthand for Derive(userAgent, networkAddress).Fingerprint
func Fingerprint(userAgent, networkAddress string) string {
	return Derive(userAgent, networkAddress).Fingerprint
}

func parseAgent(raw string) agent {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return agent{}
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	osInfo := ua.OSInfo()

	a := agent{
		browserName:  name,
		browserMajor: majorVersion(version),
		osName:       osInfo.Name,
		osMajor:      majorVersion(osInfo.Version),
	}

	switch {
	case strings.Contains(raw, "iPad") || strings.Contains(raw, "Tablet"):
		a.reported = TypeTablet
	case strings.Contains(raw, "Android") && !strings.Contains(raw, "Mobile"):
		a.reported = TypeTablet
	case ua.Mobile():
		a.reported = TypeMobile
	}

	a.vendor, a.model = vendorModel(raw)
	return a
}

var mobileOSMarkers = []string{"android", "iphone", "ios", "ipad", "windows phone", "blackberry", "kaios"}

// classify defaults to desktop unless the user agent or the OS name says otherwise
func classify(a agent) Type {
	if a.reported != "" {
		return a.reported
	}
	osName := strings.ToLower(a.osName)
	for _, marker := range mobileOSMarkers {
		if strings.Contains(osName, marker) {
			if marker == "ipad" {
				return TypeTablet
			}
			return TypeMobile
		}
	}
	return TypeDesktop
}

var modelVendors = []struct{ prefix, vendor string }{
	{"SM-", "Samsung"},
	{"GT-", "Samsung"},
	{"Pixel", "Google"},
	{"Nexus", "Google"},
	{"Redmi", "Xiaomi"},
	{"ONEPLUS", "OnePlus"},
	{"HUAWEI", "Huawei"},
	{"moto", "Motorola"},
}

func vendorModel(raw string) (vendor, model string) {
	switch {
	case strings.Contains(raw, "iPhone"):
		return "Apple", "iPhone"
	case strings.Contains(raw, "iPad"):
		return "Apple", "iPad"
	}

	// Android agents carry the model between the OS token and "Build/" or ")"
	idx := strings.Index(raw, "Android")
	if idx < 0 {
		return "", ""
	}
	rest := raw[idx:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return "", ""
	}
	parts := strings.Split(rest[:end], ";")
	if len(parts) < 2 {
		return "", ""
	}
	model = strings.TrimSpace(parts[len(parts)-1])
	if b := strings.Index(model, "Build/"); b >= 0 {
		model = strings.TrimSpace(model[:b])
	}
	if model == "" || model == "K" || model == "wv" {
		return "", ""
	}
	for _, mv := range modelVendors {
		if strings.HasPrefix(model, mv.prefix) {
			return mv.vendor, model
		}
	}
	return "", model
}

func deviceName(a agent, info Info) string {
	switch {
	case a.vendor != "" && a.model != "" && a.vendor != a.model:
		return a.vendor + " " + a.model
	case a.model != "":
		return a.model
	case info.OS != "" && info.Browser != "":
		return info.OS + " – " + info.Browser
	case info.OS != "":
		return info.OS
	case info.Browser != "":
		return info.Browser
	default:
		return unknownDeviceName
	}
}

// CoarsenAddress reduces an address to its routing-relevant prefix:
// the first three octets for IPv4 and the first four groups for IPv6.
// Unparseable input is returned trimmed and lower-cased.
func CoarsenAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		addr = ap.Addr().String()
	}
	ip, err := netip.ParseAddr(strings.Trim(addr, "[]"))
	if err != nil {
		return strings.ToLower(addr)
	}
	ip = ip.Unmap()
	if ip.Is4() {
		b := ip.As4()
		return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2])
	}
	b := ip.As16()
	return fmt.Sprintf("%x:%x:%x:%x",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}

func hashComponents(components ...string) string {
	kept := make([]string, 0, len(components))
	for _, c := range components {
		if c != "" {
			kept = append(kept, c)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(kept, fingerprintDelimiter)))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

func majorVersion(version string) string {
	version = strings.TrimSpace(version)
	if i := strings.IndexAny(version, "._ "); i >= 0 {
		return version[:i]
	}
	return version
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
