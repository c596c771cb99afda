package streaming

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/rosetta"
)

// newSaramaConfig translates a security directive into a sarama client
// configuration. SASL_SSL enables TLS plus SASL/OAUTHBEARER with a token
// provider recovered from the JAAS string.
func newSaramaConfig(clientID string, sec directive.KafkaSecurityDirective) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	switch sec.SecurityProtocol {
	case directive.ProtocolPlaintext, "":
		// No transport security.
	case directive.ProtocolSaslSsl:
		settings, err := rosetta.ParseJaas(sec.JaasConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid jaas configuration for topic %s: %w", sec.Topic, err)
		}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		cfg.Net.SASL.TokenProvider = newOAuthTokenProvider(settings)
	default:
		return nil, fmt.Errorf("security protocol %q is not supported", sec.SecurityProtocol)
	}

	return cfg, nil
}

// oauthTokenProvider fetches bearer tokens via the client credentials flow
// against the endpoint embedded in the JAAS string.
type oauthTokenProvider struct {
	config  clientcredentials.Config
	timeout time.Duration
}

func newOAuthTokenProvider(settings rosetta.OAuthSettings) sarama.AccessTokenProvider {
	cc := clientcredentials.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		TokenURL:     settings.TokenEndpoint,
	}
	if settings.Scope != "" {
		cc.Scopes = []string{settings.Scope}
	}
	return &oauthTokenProvider{config: cc, timeout: 30 * time.Second}
}

func (p *oauthTokenProvider) Token() (*sarama.AccessToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	token, err := p.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch oauth token: %w", err)
	}
	return &sarama.AccessToken{Token: token.AccessToken}, nil
}
