package rosetta

import (
	"fmt"
	"strings"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

const oauthLoginModule = "org.apache.kafka.common.security.oauthbearer.OAuthBearerLoginModule"

// JaasDefaults supplies process-level OAuth settings used when the vault
// response does not carry them.
type JaasDefaults struct {
	TokenEndpoint string
	Scope         string
}

// AssembleJaas builds the SASL/OAUTHBEARER JAAS configuration string from
// resolved credential fields. clientId and clientSecret are required;
// tokenEndpoint and scope fall back to the defaults.
func AssembleJaas(fields map[string]string, defaults JaasDefaults) (string, error) {
	clientID, ok := fields[FieldClientID]
	if !ok || clientID == "" {
		return "", probeerr.New(probeerr.KindVaultMapping, "vault mapping produced no clientId")
	}
	clientSecret, ok := fields[FieldClientSecret]
	if !ok || clientSecret == "" {
		return "", probeerr.New(probeerr.KindVaultMapping, "vault mapping produced no clientSecret")
	}

	endpoint := fields[FieldTokenEndpoint]
	if endpoint == "" {
		endpoint = defaults.TokenEndpoint
	}
	if endpoint == "" {
		return "", probeerr.New(probeerr.KindVaultMapping, "no oauth token endpoint configured")
	}
	scope := fields[FieldScope]
	if scope == "" {
		scope = defaults.Scope
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s required oauth.client.id=\"%s\" oauth.client.secret=\"%s\" oauth.token.endpoint.uri=\"%s\"",
		oauthLoginModule, EscapeJaasValue(clientID), EscapeJaasValue(clientSecret), EscapeJaasValue(endpoint))
	if scope != "" {
		fmt.Fprintf(&b, " oauth.scope=\"%s\"", EscapeJaasValue(scope))
	}
	b.WriteString(";")
	return b.String(), nil
}

// EscapeJaasValue escapes a value for embedding inside a quoted JAAS option.
// Backslash, double quote, newline, and carriage return become \\ \" \n \r.
func EscapeJaasValue(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return r.Replace(v)
}

// OAuthSettings are the credentials recovered from a JAAS string. The Kafka
// client consumes these directly; the JAAS form exists for wire parity with
// the vault contract.
type OAuthSettings struct {
	ClientID      string
	ClientSecret  string
	TokenEndpoint string
	Scope         string
}

// ParseJaas recovers the OAuth settings from an assembled JAAS string.
func ParseJaas(jaas string) (OAuthSettings, error) {
	if !strings.HasPrefix(jaas, oauthLoginModule) {
		return OAuthSettings{}, fmt.Errorf("jaas string does not use %s", oauthLoginModule)
	}
	options := map[string]string{}
	rest := jaas
	for {
		eq := strings.Index(rest, "=\"")
		if eq < 0 {
			break
		}
		nameStart := strings.LastIndexAny(rest[:eq], " \t") + 1
		name := rest[nameStart:eq]
		value, consumed, err := readQuoted(rest[eq+2:])
		if err != nil {
			return OAuthSettings{}, err
		}
		options[name] = value
		rest = rest[eq+2+consumed:]
	}

	settings := OAuthSettings{
		ClientID:      options["oauth.client.id"],
		ClientSecret:  options["oauth.client.secret"],
		TokenEndpoint: options["oauth.token.endpoint.uri"],
		Scope:         options["oauth.scope"],
	}
	if settings.ClientID == "" || settings.ClientSecret == "" {
		return OAuthSettings{}, fmt.Errorf("jaas string missing oauth client credentials")
	}
	return settings, nil
}

// readQuoted consumes an escaped value up to its closing quote and returns
// the unescaped value plus the number of bytes consumed including the quote.
func readQuoted(s string) (string, int, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("jaas value has trailing backslash")
			}
			i++
			switch s[i] {
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			default:
				return "", 0, fmt.Errorf("jaas value has invalid escape \\%c", s[i])
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("jaas value is missing its closing quote")
}
