package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// SASLConfig authenticates against the brokers. Mechanism is PLAIN,
// SCRAM-SHA-256 or SCRAM-SHA-512.
type SASLConfig struct {
	Enable    bool
	Mechanism string
	Username  string
	Password  string
}

var (
	sha256Gen scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	sha512Gen scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	gen scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.gen.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.ClientConversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}

func applySASL(cfg *sarama.Config, s *SASLConfig) error {
	if s == nil || !s.Enable {
		return nil
	}
	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.User = s.Username
	cfg.Net.SASL.Password = s.Password

	switch strings.ToUpper(s.Mechanism) {
	case "", sarama.SASLTypePlaintext:
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case sarama.SASLTypeSCRAMSHA256:
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{gen: sha256Gen} }
	case sarama.SASLTypeSCRAMSHA512:
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{gen: sha512Gen} }
	default:
		return fmt.Errorf("unsupported sasl mechanism %q", s.Mechanism)
	}
	return nil
}
