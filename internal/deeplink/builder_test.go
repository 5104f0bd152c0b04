package deeplink

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioOrder = []string{"name", "email", "cep", "address", "paymentType"}

func fixedBuilder(opts Options) *Builder {
	b := NewBuilder(opts)
	b.nowFunc = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBuild_DefaultEndpointAndPrefillOrder(t *testing.T) {
	b := fixedBuilder(Options{})
	art, err := b.Build(Request{
		BaseURL:    "https://loja.example.com/produtos/p1",
		ProductKey: "p1",
		Collected: map[string]string{
			"paymentType": "pix",
			"email":       "joao@ex.com",
			"name":        "João Silva",
		},
		FieldOrder: scenarioOrder,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(art.URL, "https://loja.example.com/checkout?productId=p1&prefill="))
	assert.Contains(t, art.URL, "prefill=%7B%22name%22%3A%22Jo%C3%A3o%20Silva%22")
	assert.True(t, strings.HasSuffix(art.URL, "%7D&autoFill=true"))
	assert.Equal(t, "p1", art.ProductKey)
	assert.Empty(t, art.RedactedFields)
	assert.Equal(t, 2025, art.ProducedAt.Year())

	u, err := url.Parse(art.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"João Silva","email":"joao@ex.com","paymentType":"pix"}`, u.Query().Get("prefill"))
}

func TestBuild_AppendsToExistingCheckoutPath(t *testing.T) {
	b := fixedBuilder(Options{})
	art, err := b.Build(Request{
		BaseURL:    "https://loja.example.com/br/cart?utm=chat",
		ProductKey: "sku 9",
		Collected:  map[string]string{"name": "Ana"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(art.URL, "https://loja.example.com/br/cart?utm=chat&productId=sku%209&prefill="), art.URL)
}

func TestBuild_RootURLOverride(t *testing.T) {
	b := fixedBuilder(Options{RootURL: "https://shop.example.org/", CheckoutPath: "finalizar"})
	art, err := b.Build(Request{BaseURL: "https://loja.example.com", ProductKey: "p1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(art.URL, "https://shop.example.org/finalizar?productId=p1&prefill=%7B%7D&autoFill=true"), art.URL)
}

func TestBuild_RedactsSensitiveFields(t *testing.T) {
	b := fixedBuilder(Options{})
	art, err := b.Build(Request{
		BaseURL:    "https://loja.example.com",
		ProductKey: "p1",
		Collected: map[string]string{
			"name":       "João",
			"cardNumber": "4111111111111111",
			"CVV":        "123",
			"Senha":      "segredo",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVV", "Senha", "cardNumber"}, art.RedactedFields)
	assert.NotContains(t, art.URL, "4111")
	assert.NotContains(t, strings.ToLower(art.URL), "cardnumber")

	prefill, err := ParsePrefill(art.URL)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "João"}, prefill)
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder(Options{})

	_, err := b.Build(Request{BaseURL: "https://loja.example.com", ProductKey: "  "})
	assert.ErrorIs(t, err, ErrEmptyProductKey)

	_, err = b.Build(Request{BaseURL: "not a url", ProductKey: "p1"})
	assert.ErrorIs(t, err, ErrInvalidBaseURL)

	_, err = b.Build(Request{BaseURL: "", ProductKey: "p1"})
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}

func TestBuild_NoHTMLEscaping(t *testing.T) {
	b := NewBuilder(Options{})
	art, err := b.Build(Request{
		BaseURL:    "https://loja.example.com",
		ProductKey: "p1",
		Collected:  map[string]string{"address": "Rua A & B <casa>"},
	})
	require.NoError(t, err)
	prefill, err := ParsePrefill(art.URL)
	require.NoError(t, err)
	assert.Equal(t, "Rua A & B <casa>", prefill["address"])
	assert.NotContains(t, art.URL, "u0026")
}

func TestSignature_VerifyAndTamper(t *testing.T) {
	b := fixedBuilder(Options{SigningKey: []byte("k3y")})
	art, err := b.Build(Request{
		BaseURL:    "https://loja.example.com",
		ProductKey: "p1",
		Collected:  map[string]string{"name": "João", "email": "joao@ex.com"},
		FieldOrder: scenarioOrder,
	})
	require.NoError(t, err)
	assert.Contains(t, art.URL, "&sig=")
	require.NoError(t, b.Verify(art.URL))

	tampered := strings.Replace(art.URL, "joao%40ex.com", "eve%40ex.com", 1)
	require.NotEqual(t, art.URL, tampered)
	assert.ErrorIs(t, b.Verify(tampered), ErrBadSignature)

	other := NewBuilder(Options{SigningKey: []byte("other")})
	assert.ErrorIs(t, other.Verify(art.URL), ErrBadSignature)

	unsigned := NewBuilder(Options{})
	art2, err := unsigned.Build(Request{BaseURL: "https://loja.example.com", ProductKey: "p1"})
	require.NoError(t, err)
	assert.NotContains(t, art2.URL, "sig=")
	assert.ErrorIs(t, b.Verify(art2.URL), ErrBadSignature)
}

func TestIsSensitive(t *testing.T) {
	for _, n := range []string{"cardNumber", "CREDITCARDNUMBER", "cvv", "securityCode", "cardVerificationCode", "password", "senha"} {
		assert.True(t, IsSensitive(n), n)
	}
	for _, n := range []string{"cardNumberHint", "email", "cardholder", ""} {
		assert.False(t, IsSensitive(n), n)
	}
}

func TestProperties_RedactionRoundTrip(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	keys := gen.OneConstOf("name", "email", "cep", "address", "paymentType",
		"cardNumber", "CardNumber", "cvv", "SecurityCode", "password", "SENHA", "nota")
	values := gen.OneGenOf(gen.AlphaString(), gen.NumString(), gen.Const("João Silva"), gen.Const("Rua A & B, 10"))
	collected := gen.MapOf(keys, values)

	b := NewBuilder(Options{})
	properties.Property("prefill equals collected minus sensitive keys", prop.ForAll(
		func(c map[string]string) bool {
			art, err := b.Build(Request{BaseURL: "https://loja.example.com", ProductKey: "p1", Collected: c, FieldOrder: scenarioOrder})
			if err != nil {
				return false
			}
			got, err := ParsePrefill(art.URL)
			if err != nil {
				return false
			}
			want, _ := Redact(c)
			if len(got) != len(want) {
				return false
			}
			for k, v := range want {
				if got[k] != v {
					return false
				}
			}
			for k := range got {
				if IsSensitive(k) {
					return false
				}
			}
			return len(art.RedactedFields)+len(want) == len(c)
		},
		collected,
	))

	properties.TestingRun(t)
}
