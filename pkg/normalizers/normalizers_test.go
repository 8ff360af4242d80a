package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		region string
		want   string
	}{
		{"national us", "(212) 736-5000", "US", "+12127365000"},
		{"international us", "+1 212 736 5000", "US", "+12127365000"},
		{"gb", "+44 20 7946 0958", "US", "+442079460958"},
		{"gb trunk zero", "+44 (0)20 7946 0958", "US", "+442079460958"},
		{"gb 00 prefix", "0044 20 7946 0958", "US", "+442079460958"},
		{"gb national", "020 7946 0958", "GB", "+442079460958"},
		{"fr trunk zero", "+33 (0)6 12 34 56 78", "US", "+33612345678"},
		{"fr national", "06 12 34 56 78", "FR", "+33612345678"},
		{"nl trunk zero", "+31 (0)6 12345678", "US", "+31612345678"},
		{"nl national", "06-12345678", "NL", "+31612345678"},
		{"foreign national number in us region", "0612345678", "US", "0612345678"},
		{"empty", "", "US", ""},
		{"no digits", "n/a", "US", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhoneIn(tt.in, tt.region))
		})
	}
}

func TestNormalizePhone_SameNumberWrittenDifferently(t *testing.T) {
	forms := [][]string{
		{"+44 20 7946 0958", "+44 (0)20 7946 0958", "0044 20 7946 0958"},
		{"+33 6 12 34 56 78", "+33 (0)6 12 34 56 78", "0033612345678"},
		{"+31 6 12345678", "+31 (0)6 12345678", "0031 6 1234 5678"},
	}
	for _, group := range forms {
		want := NormalizePhone(group[0])
		for _, form := range group[1:] {
			assert.Equal(t, want, NormalizePhone(form), form)
		}
	}
}

func TestSetPhoneRegion(t *testing.T) {
	t.Cleanup(func() { SetPhoneRegion("") })

	assert.Equal(t, DefaultPhoneRegion, PhoneRegion())
	assert.Equal(t, "0612345678", NormalizePhone("0612345678"))

	SetPhoneRegion("fr")
	assert.Equal(t, "FR", PhoneRegion())
	assert.Equal(t, "+33612345678", NormalizePhone("06 12 34 56 78"))
	assert.Equal(t, "+33612345678", Apply("06 12 34 56 78", "nphone"))
}

func TestIdentifierNormalizers(t *testing.T) {
	assert.Equal(t, "x@y.com", NormalizeEmail(" Mailto:X@Y.com "))
	assert.Equal(t, "abcdef", NormalizeHash("SHA256:ABCDEF"))
	assert.Equal(t, "q29udGVudA==", NormalizeHash("sha256:q29udGVudA=="))
	assert.Equal(t, "0xabc123", NormalizeCrypto(" 0xAbC123 "))
	assert.Equal(t, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", NormalizeCrypto("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"))
	assert.Equal(t, "jdoe", NormalizeHandle("@JDoe"))
	assert.Equal(t, "example.com/jdoe", NormalizeURL("https://www.Example.com/jdoe/"))
	assert.Equal(t, "john smith", NormalizeName("John Smith Jr."))
	assert.Equal(t, "123 main st apt 4", NormalizeAddress("123 Main Street, Apt 4"))
	assert.Equal(t, "12 eastwood dr", NormalizeAddress("12 Eastwood Drive"))
}

func TestForKind(t *testing.T) {
	assert.Equal(t, "x@y.com", ForKind(models.IdentifierKindEmail, "X@Y.COM"))
	assert.Equal(t, "hello world", ForKind(models.IdentifierKindText, "  Hello   World "))
	assert.Equal(t, "hello world", ForKind(models.IdentifierKind("unknown"), "Hello World"))
}

func TestRegistry(t *testing.T) {
	fn, ok := Get("nemail")
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", fn("A@B.C"))

	assert.Equal(t, "value", Apply("value", "does_not_exist"))
	assert.Equal(t, "abc", ApplyChain("  A-B-C ", "trim", "lowercase", "alphanumeric"))
}
