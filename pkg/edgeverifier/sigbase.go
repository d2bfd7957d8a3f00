package edgeverifier

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// SignatureParams is one parsed Signature-Input dictionary member, RFC
// 9421-style: an ordered component list plus the parameters carried after
// the `;`.
type SignatureParams struct {
	Label      string
	Components []string
	KeyID      string
	Created    int64
	Expires    int64
	Alg        string
	Tag        string
	Nonce      string
}

// RequiredComponents MUST be present in every signature's component list,
// §4.9.
var RequiredComponents = []string{"signature-agent", "@authority"}

// ParseSignatureInput parses a Signature-Input header value into its
// labeled members. Example:
//
//	sig1=("signature-agent" "@authority");created=1700000000;expires=1700000120;keyid="2024-01-01/01";alg="ed25519";tag="peac"
func ParseSignatureInput(header string) (map[string]SignatureParams, error) {
	out := make(map[string]SignatureParams)
	for _, member := range splitTopLevel(header, ',') {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		eq := strings.IndexByte(member, '=')
		if eq < 0 {
			return nil, fmt.Errorf("edgeverifier: malformed signature-input member %q", member)
		}
		label := strings.TrimSpace(member[:eq])
		rest := strings.TrimSpace(member[eq+1:])
		if !strings.HasPrefix(rest, "(") {
			return nil, fmt.Errorf("edgeverifier: signature-input member %q missing component list", label)
		}
		close := strings.IndexByte(rest, ')')
		if close < 0 {
			return nil, fmt.Errorf("edgeverifier: signature-input member %q has an unterminated component list", label)
		}
		componentList := rest[1:close]
		params := rest[close+1:]

		sp := SignatureParams{Label: label}
		for _, c := range strings.Fields(componentList) {
			sp.Components = append(sp.Components, strings.Trim(c, `"`))
		}

		for _, kv := range splitTopLevel(strings.TrimPrefix(params, ";"), ';') {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				continue
			}
			key := strings.TrimSpace(kv[:eq])
			val := strings.Trim(strings.TrimSpace(kv[eq+1:]), `"`)
			switch key {
			case "created":
				sp.Created, _ = strconv.ParseInt(val, 10, 64)
			case "expires":
				sp.Expires, _ = strconv.ParseInt(val, 10, 64)
			case "keyid":
				sp.KeyID = val
			case "alg":
				sp.Alg = val
			case "tag":
				sp.Tag = val
			case "nonce":
				sp.Nonce = val
			}
		}
		out[label] = sp
	}
	return out, nil
}

// ParseSignature parses a Signature header value into its labeled raw
// signature bytes, each carried as an sf-binary literal `:base64:`.
func ParseSignature(header string) (map[string]string, error) {
	out := make(map[string]string)
	for _, member := range splitTopLevel(header, ',') {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		eq := strings.IndexByte(member, '=')
		if eq < 0 {
			return nil, fmt.Errorf("edgeverifier: malformed signature member %q", member)
		}
		label := strings.TrimSpace(member[:eq])
		val := strings.TrimSpace(member[eq+1:])
		val = strings.TrimPrefix(val, ":")
		val = strings.TrimSuffix(val, ":")
		out[label] = val
	}
	return out, nil
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// MissingRequiredComponents reports which of RequiredComponents are absent
// from params.Components.
func MissingRequiredComponents(params SignatureParams) []string {
	have := make(map[string]bool, len(params.Components))
	for _, c := range params.Components {
		have[c] = true
	}
	var missing []string
	for _, req := range RequiredComponents {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	return missing
}

// componentValue resolves one signed component's value from the request,
// supporting the derived components @authority, @method, @target-uri and
// @path plus arbitrary request headers by name.
func componentValue(req *http.Request, name string) (string, error) {
	switch name {
	case "@authority":
		if req.Host != "" {
			return strings.ToLower(req.Host), nil
		}
		return strings.ToLower(req.URL.Host), nil
	case "@method":
		return strings.ToUpper(req.Method), nil
	case "@target-uri":
		return req.URL.String(), nil
	case "@path":
		return req.URL.Path, nil
	default:
		v := req.Header.Get(name)
		if v == "" {
			return "", fmt.Errorf("edgeverifier: missing signed component %q", name)
		}
		return v, nil
	}
}

// BuildSignatureBase constructs the RFC 9421-style signature base: one
// line per declared component in order, followed by the
// "@signature-params" pseudo-header line carrying the component list and
// parameters verbatim.
func BuildSignatureBase(req *http.Request, params SignatureParams) (string, error) {
	var b strings.Builder
	for _, c := range params.Components {
		v, err := componentValue(req, c)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%q: %s\n", c, v)
	}
	fmt.Fprintf(&b, "%q: %s", "@signature-params", signatureParamsLine(params))
	return b.String(), nil
}

func signatureParamsLine(params SignatureParams) string {
	var quoted []string
	for _, c := range params.Components {
		quoted = append(quoted, strconv.Quote(c))
	}
	line := "(" + strings.Join(quoted, " ") + ")"
	line += fmt.Sprintf(";created=%d;expires=%d;keyid=%q", params.Created, params.Expires, params.KeyID)
	if params.Alg != "" {
		line += fmt.Sprintf(";alg=%q", params.Alg)
	}
	if params.Tag != "" {
		line += fmt.Sprintf(";tag=%q", params.Tag)
	}
	if params.Nonce != "" {
		line += fmt.Sprintf(";nonce=%q", params.Nonce)
	}
	return line
}
