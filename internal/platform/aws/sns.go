package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
)

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient wraps AWS SNS client with resilience patterns
type SNSClient struct {
	client         SNSAPI
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    resilience.RetryConfig
	logger         *slog.Logger
	metrics        *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig      aws.Config
	Client         SNSAPI // overrides AWSConfig when set
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewSNSClient creates a new SNS client with resilience patterns
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	client := cfg.Client
	if client == nil {
		client = sns.NewFromConfig(cfg.AWSConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	retryConfig := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	circuitBreaker := cfg.CircuitBreaker
	if circuitBreaker == nil {
		logger, metrics := cfg.Logger, cfg.Metrics
		circuitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 5,
			OpenFor:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				logger.Info("SNS circuit breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
				metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
			},
		})
	}

	return &SNSClient{
		client:         client,
		circuitBreaker: circuitBreaker,
		retryConfig:    retryConfig,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// Publish publishes a JSON-encoded message to an SNS topic with retry and
// circuit breaker
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error {
	start := time.Now()

	messageJSON, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := s.circuitBreaker.Allow(); err != nil {
		s.metrics.RecordError(ctx, "sns_circuit_open")
		return err
	}

	err = resilience.RetryIf(ctx, s.retryConfig, resilience.IsRetryable, func(ctx context.Context) error {
		return s.publishOnce(ctx, topicARN, string(messageJSON), attributes)
	})
	if err != nil {
		if ctx.Err() == nil {
			s.circuitBreaker.RecordFailure()
		}
		s.metrics.RecordError(ctx, "sns_publish")
		s.logger.ErrorContext(ctx, "SNS publish failed",
			"error", err,
			"topic_arn", topicARN,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	s.circuitBreaker.Reset()
	return nil
}

// publishOnce publishes a message without retry (single attempt)
func (s *SNSClient) publishOnce(ctx context.Context, topicARN, message string, attributes map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(message),
		MessageAttributes: messageAttributes,
	})
	if err != nil {
		return fmt.Errorf("SNS publish failed: %w", err)
	}
	return nil
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.circuitBreaker.State()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (s *SNSClient) ResetCircuitBreaker() {
	s.circuitBreaker.Reset()
}
