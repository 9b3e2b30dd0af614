package device

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeWindows10 = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	chromeWindows7  = "Mozilla/5.0 (Windows NT 6.1; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	chrome121       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	pixelAndroid13  = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36"
	pixelAndroid12  = "Mozilla/5.0 (Linux; Android 12; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36"
	samsungTablet   = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"
	iPhoneSafari    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	iPadSafari      = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

var hexFingerprint = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(chromeWindows10, "198.51.100.23")
	b := Derive(chromeWindows10, "198.51.100.23")

	assert.Equal(t, a, b)
	assert.Regexp(t, hexFingerprint, a.Fingerprint)
	assert.True(t, a.Equal(b))
}

func TestDerive_SameSubnetSameFingerprint(t *testing.T) {
	a := Derive(chromeWindows10, "198.51.100.23")
	b := Derive(chromeWindows10, "198.51.100.201")

	assert.Equal(t, a.Fingerprint, b.Fingerprint, "trailing octet churn must not change the fingerprint")
}

func TestDerive_DifferentSubnetDifferentFingerprint(t *testing.T) {
	a := Derive(chromeWindows10, "198.51.100.23")
	b := Derive(chromeWindows10, "198.51.101.23")

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestDerive_OSMajorVersionChangesFingerprint(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{name: "android", a: pixelAndroid12, b: pixelAndroid13},
		{name: "windows", a: chromeWindows7, b: chromeWindows10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Derive(tt.a, "10.1.2.3")
			b := Derive(tt.b, "10.1.2.3")
			assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
		})
	}
}

func TestDerive_DeviceType(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      Type
	}{
		{name: "windows desktop", userAgent: chromeWindows10, want: TypeDesktop},
		{name: "android phone", userAgent: pixelAndroid13, want: TypeMobile},
		{name: "android tablet", userAgent: samsungTablet, want: TypeTablet},
		{name: "iphone", userAgent: iPhoneSafari, want: TypeMobile},
		{name: "ipad", userAgent: iPadSafari, want: TypeTablet},
		{name: "empty", userAgent: "", want: TypeDesktop},
		{name: "curl", userAgent: "curl/8.4.0", want: TypeDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.userAgent, "10.0.0.1").Type)
		})
	}
}

func TestDerive_DeviceName(t *testing.T) {
	assert.Equal(t, "Apple iPhone", Derive(iPhoneSafari, "").Name)
	assert.Equal(t, "Apple iPad", Derive(iPadSafari, "").Name)
	assert.Equal(t, "Google Pixel 7", Derive(pixelAndroid13, "").Name)
	assert.Equal(t, "Samsung SM-X700", Derive(samsungTablet, "").Name)
	assert.Equal(t, unknownDeviceName, Derive("", "").Name)

	desktop := Derive(chromeWindows10, "")
	assert.Contains(t, desktop.Name, " – ")
	assert.Contains(t, desktop.Name, "Chrome")
}

func TestDerive_BrowserCarriesMajorVersionOnly(t *testing.T) {
	info := Derive(chromeWindows10, "")
	assert.Equal(t, "Chrome 120", info.Browser)
}

func TestSignificantChange(t *testing.T) {
	base := Derive(chromeWindows10, "198.51.100.23")

	assert.False(t, SignificantChange(base, Derive(chromeWindows10, "203.0.113.9")), "network alone is not a device change")
	assert.True(t, SignificantChange(base, Derive(chrome121, "198.51.100.23")), "browser upgrade is a device change")
	assert.True(t, SignificantChange(base, Derive(pixelAndroid13, "198.51.100.23")))
}

func TestCoarsenAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "192.168.1.77", want: "192.168.1"},
		{in: "192.168.1.77:5555", want: "192.168.1"},
		{in: " 10.20.30.40 ", want: "10.20.30"},
		{in: "::ffff:10.0.0.1", want: "10.0.0"},
		{in: "2001:db8:85a3:1:2:3:4:5", want: "2001:db8:85a3:1"},
		{in: "[2001:db8::1]:443", want: "2001:db8:0:0"},
		{in: "", want: ""},
		{in: "Not-An-IP", want: "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CoarsenAddress(tt.in))
		})
	}
}

func TestFingerprint_Shorthand(t *testing.T) {
	assert.Equal(t, Derive(iPhoneSafari, "203.0.113.4").Fingerprint, Fingerprint(iPhoneSafari, "203.0.113.4"))
}
