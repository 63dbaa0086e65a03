// Package sqs reads records from an AWS SQS queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/source"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// Type is the registry key for this source.
const Type = "sqs"

// maxBatch is the SQS limit for messages per ReceiveMessage call.
const maxBatch = 10

// Client is the subset of the SQS API used by the source.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config holds queue settings.
type Config struct {
	Name        string
	QueueURL    string
	Region      string
	Endpoint    string
	Kind        domain.RecordKind
	MaxMessages int
	WaitTime    time.Duration
	SchemaPath  string
}

// Source long-polls a queue and deletes messages once acknowledged.
type Source struct {
	source.Base

	cfg     Config
	client  Client
	decoder *source.Decoder
	log     *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClient injects the SQS client.
func WithClient(c Client) Option {
	return func(s *Source) { s.client = c }
}

// New creates an SQS source. The client is created on Connect unless injected.
func New(cfg Config, opts ...Option) (*Source, error) {
	decoder, err := source.NewDecoder(cfg.Name, cfg.Kind, cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = maxBatch
	}

	s := &Source{
		cfg:     cfg,
		decoder: decoder,
		log:     slog.Default().With("source", cfg.Name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Factory builds a Source from configuration.
func Factory(ctx context.Context, cfg config.SourceConfig) (source.Source, error) {
	return New(Config{
		Name:        cfg.Name,
		QueueURL:    cfg.QueueURL,
		Region:      cfg.Region,
		Endpoint:    cfg.Endpoint,
		Kind:        domain.RecordKind(cfg.Kind),
		MaxMessages: cfg.MaxMessages,
		WaitTime:    cfg.WaitTime,
		SchemaPath:  cfg.Schema,
	})
}

func (s *Source) Name() string {
	return s.cfg.Name
}

func (s *Source) IsConfigured() bool {
	return s.cfg.QueueURL != ""
}

// Connect loads AWS credentials and builds the client on first use.
func (s *Source) Connect(ctx context.Context) bool {
	if !s.IsConfigured() {
		s.SetLastError(recovery.NewFatal("connect", errors.New("no queue url configured")))
		return false
	}
	if s.client != nil {
		s.SetLastError(nil)
		return true
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(s.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		s.SetLastError(recovery.NewRecoverable("load aws config", err))
		return false
	}

	s.client = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
	})
	s.SetLastError(nil)
	return true
}

// Fetch receives up to limit messages. Messages whose body is not a valid
// record are deleted so they are not redelivered forever.
func (s *Source) Fetch(ctx context.Context, limit int) ([]*domain.Record, error) {
	if s.client == nil {
		return nil, recovery.NewFatal("fetch "+s.cfg.Name, errors.New("source not connected, call Connect first"))
	}
	if limit <= 0 {
		limit = s.cfg.MaxMessages
	}

	var records []*domain.Record
	for len(records) < limit {
		batch := min(limit-len(records), maxBatch)
		output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.cfg.QueueURL),
			MaxNumberOfMessages: int32(batch),
			WaitTimeSeconds:     int32(s.cfg.WaitTime / time.Second),
		})
		if err != nil {
			return nil, classifyAWSError("receive message", err)
		}
		if len(output.Messages) == 0 {
			break
		}

		for _, msg := range output.Messages {
			rec, err := s.decoder.Decode([]byte(aws.ToString(msg.Body)), aws.ToString(msg.MessageId))
			if err != nil {
				s.log.Warn("Dropping malformed message", "message_id", aws.ToString(msg.MessageId), "error", err)
				s.delete(ctx, aws.ToString(msg.ReceiptHandle))
				continue
			}
			rec.AckToken = aws.ToString(msg.ReceiptHandle)
			records = append(records, rec)
		}
	}

	return records, nil
}

// Ack deletes the message that carried record.
func (s *Source) Ack(ctx context.Context, record *domain.Record) error {
	if record.AckToken == "" {
		return nil
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: aws.String(record.AckToken),
	})
	if err != nil {
		return classifyAWSError("delete message", err)
	}
	return nil
}

func (s *Source) delete(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		s.log.Warn("Failed to delete message", "error", err)
	}
}

// classifyAWSError tags well-known AWS error codes with a severity.
func classifyAWSError(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch apiErr.ErrorCode() {
	case "ThrottlingException", "RequestThrottled", "OverLimit", "ServiceUnavailable",
		"InternalError", "InternalFailure", "KmsThrottled":
		return recovery.NewTransient(op, err)
	case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "ExpiredToken",
		"UnrecognizedClientException", "SignatureDoesNotMatch", "InvalidSecurity":
		return recovery.NewRecoverable(op, err)
	case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist", "InvalidAddress":
		return recovery.NewFatal(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
