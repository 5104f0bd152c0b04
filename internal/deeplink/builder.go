package deeplink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidBaseURL  = errors.New("deeplink: invalid base url")
	ErrEmptyProductKey = errors.New("deeplink: empty product key")
)

// Artifact is a produced deep-link.
type Artifact struct {
	URL            string    `json:"url" dynamodbav:"url"`
	RedactedFields []string  `json:"redactedFields" dynamodbav:"redacted_fields"`
	ProducedAt     time.Time `json:"producedAt" dynamodbav:"produced_at"`
	ProductKey     string    `json:"productKey" dynamodbav:"product_key"`
}

// Options configures a Builder. RootURL overrides the storefront root
// derived from the base URL; CheckoutPath defaults to "/checkout". A
// non-empty SigningKey adds a sig parameter.
type Options struct {
	RootURL      string
	CheckoutPath string
	SigningKey   []byte
}

// Request is the input of Build. FieldOrder lists field names in process
// model order; prefill keys follow it, with unlisted keys sorted after.
type Request struct {
	BaseURL    string            `json:"baseUrl"`
	ProductKey string            `json:"productKey"`
	Collected  map[string]string `json:"collected"`
	FieldOrder []string          `json:"fieldOrder,omitempty"`
}

// Builder produces prefill deep-links into the storefront checkout.
type Builder struct {
	opts    Options
	nowFunc func() time.Time
}

func NewBuilder(opts Options) *Builder {
	if strings.TrimSpace(opts.CheckoutPath) == "" {
		opts.CheckoutPath = "/checkout"
	}
	if !strings.HasPrefix(opts.CheckoutPath, "/") {
		opts.CheckoutPath = "/" + opts.CheckoutPath
	}
	return &Builder{opts: opts, nowFunc: time.Now}
}

// Build redacts sensitive fields from the collected values and encodes the
// rest into the prefill parameter of the storefront checkout URL.
func (b *Builder) Build(req Request) (*Artifact, error) {
	productKey := strings.TrimSpace(req.ProductKey)
	if productKey == "" {
		return nil, ErrEmptyProductKey
	}

	redacted, removed := Redact(req.Collected)
	prefill, err := encodePrefill(redacted, req.FieldOrder)
	if err != nil {
		return nil, fmt.Errorf("deeplink: encode prefill: %w", err)
	}

	endpoint, err := b.endpoint(req.BaseURL)
	if err != nil {
		return nil, err
	}

	var q strings.Builder
	q.WriteString(endpoint.RawQuery)
	add := func(k, v string) {
		if q.Len() > 0 {
			q.WriteByte('&')
		}
		q.WriteString(k)
		q.WriteByte('=')
		q.WriteString(escape(v))
	}
	if !endpoint.Query().Has("productId") {
		add("productId", productKey)
	}
	add("prefill", string(prefill))
	add("autoFill", "true")

	now := b.nowFunc().UTC()
	if len(b.opts.SigningKey) > 0 {
		sig, err := sign(b.opts.SigningKey, productKey, prefill, now)
		if err != nil {
			return nil, fmt.Errorf("deeplink: sign: %w", err)
		}
		add("sig", sig)
	}
	endpoint.RawQuery = q.String()

	if removed == nil {
		removed = []string{}
	}
	return &Artifact{
		URL:            endpoint.String(),
		RedactedFields: removed,
		ProducedAt:     now,
		ProductKey:     productKey,
	}, nil
}

// endpoint keeps baseURL when it already points at a cart or checkout
// page; otherwise it is the storefront root joined with CheckoutPath.
func (b *Builder) endpoint(baseURL string) (*url.URL, error) {
	baseURL = strings.TrimSpace(baseURL)
	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
		}
		base = u
	}

	if base != nil && b.isCheckoutPath(base.Path) {
		out := *base
		out.Fragment = ""
		return &out, nil
	}

	rootSrc := b.opts.RootURL
	if strings.TrimSpace(rootSrc) == "" {
		if base == nil {
			return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
		}
		rootSrc = base.Scheme + "://" + base.Host
	}
	root, err := url.Parse(strings.TrimSpace(rootSrc))
	if err != nil || root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("%w: root %q", ErrInvalidBaseURL, rootSrc)
	}
	return &url.URL{
		Scheme: root.Scheme,
		Host:   root.Host,
		Path:   strings.TrimRight(root.Path, "/") + b.opts.CheckoutPath,
	}, nil
}

func (b *Builder) isCheckoutPath(p string) bool {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return false
	}
	if strings.HasSuffix(p, strings.TrimRight(b.opts.CheckoutPath, "/")) {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		switch strings.ToLower(seg) {
		case "checkout", "cart", "carrinho":
			return true
		}
	}
	return false
}

// encodePrefill writes a JSON object with keys in order, then any other
// keys sorted. HTML characters are not escaped.
func encodePrefill(values map[string]string, order []string) ([]byte, error) {
	keys := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, k := range order {
		if _, ok := values[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, values[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// escape percent-encodes a query value, spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ParsePrefill decodes the prefill parameter of a deep-link URL.
func ParsePrefill(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	raw := u.Query().Get("prefill")
	if raw == "" {
		return nil, fmt.Errorf("deeplink: no prefill parameter")
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("deeplink: decode prefill: %w", err)
	}
	return out, nil
}
