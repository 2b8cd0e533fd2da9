package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/credsync/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewDefault()

	tests := []struct {
		name     string
		input    string
		expected models.Platform
		ok       bool
	}{
		{"exact", "okx.com", models.PlatformOKX, true},
		{"subdomain", "x.okx.com", models.PlatformOKX, true},
		{"upper case", "WWW.BINANCE.COM", models.PlatformBinance, true},
		{"mirror domain", "www.suitechsui.online", models.PlatformBinance, true},
		{"second bybit domain", "www.bybitglobal.com", models.PlatformBybit, true},
		{"gate.com", "www.gate.com", models.PlatformGateIO, true},
		{"full url", "https://www.bitget.com/spot/BTCUSDT?x=1", models.PlatformBitget, true},
		{"host with port", "www.okx.com:443", models.PlatformOKX, true},
		{"trailing dot", "www.okx.com.", models.PlatformOKX, true},
		{"unknown", "example.com", "", false},
		{"lookalike suffix", "notokx.com", "", false},
		{"lookalike prefix", "okx.com.evil.example", "", false},
		{"empty", "", "", false},
		{"garbage", "://%%", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := c.Classify(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestClassify_DataDrivenDomains(t *testing.T) {
	descriptors := models.DefaultPlatformDescriptors()
	d := descriptors[models.PlatformOKX]
	d.Domains = append(d.Domains, "okx-mirror.example")
	descriptors[models.PlatformOKX] = d

	c := New(descriptors)
	p, ok := c.Classify("app.okx-mirror.example")
	assert.True(t, ok)
	assert.Equal(t, models.PlatformOKX, p)
	assert.Contains(t, c.Domains(models.PlatformOKX), "okx-mirror.example")
}

func TestMatchesRequestPattern(t *testing.T) {
	c := NewDefault()

	p, ok := c.MatchesRequestPattern("https://www.okx.com/priapi/v1/asset")
	assert.True(t, ok)
	assert.Equal(t, models.PlatformOKX, p)

	p, ok = c.MatchesRequestPattern("https://api2.bybit.com/user/info")
	assert.True(t, ok)
	assert.Equal(t, models.PlatformBybit, p)

	_, ok = c.MatchesRequestPattern("https://static.okx.com/logo.png")
	assert.False(t, ok)

	_, ok = c.MatchesRequestPattern("")
	assert.False(t, ok)
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "www.okx.com", Hostname("https://WWW.OKX.COM/path"))
	assert.Equal(t, "www.okx.com", Hostname("www.okx.com/path"))
	assert.Equal(t, "", Hostname("  "))
}
