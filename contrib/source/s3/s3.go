package s3

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sweetpotato0/normrag/pkg/logging"
	"github.com/sweetpotato0/normrag/rag/document"
	"github.com/sweetpotato0/normrag/rag/ingest"
)

// API is the subset of the S3 client the source needs.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates the documents: objects live under <Prefix><domain>/.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO; it enables path-style addressing
	Endpoint string
}

// Source reads documents from an S3 bucket.
type Source struct {
	client API
	bucket string
	prefix string
	logger *slog.Logger
}

var _ ingest.Source = (*Source)(nil)

// New loads AWS configuration and creates the source. Without explicit keys
// the default credential chain is used.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket, prefix string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = logging.WithComponent("source.s3")
	}
	return &Source{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *Source) Name() string { return "s3" }

func (s *Source) domainPrefix(domain document.Domain) string {
	p := s.prefix
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + string(domain) + "/"
}

// Documents yields every supported object directly under the domain prefix.
func (s *Source) Documents(ctx context.Context, domain document.Domain) iter.Seq2[document.Source, error] {
	return func(yield func(document.Source, error) bool) {
		prefix := s.domainPrefix(domain)
		pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})

		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(document.Source{}, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				name := strings.TrimPrefix(key, prefix)
				if name == "" || strings.Contains(name, "/") {
					continue
				}
				kind, ok := document.KindFromName(name)
				if !ok {
					s.logger.Debug("unsupported object skipped", "key", key)
					continue
				}

				body, err := s.download(ctx, key)
				if err != nil {
					if !yield(document.Source{Name: name}, err) {
						return
					}
					continue
				}
				src := document.Source{
					Name:       path.Base(key),
					Kind:       kind,
					Body:       body,
					DomainHint: domain,
					URL:        fmt.Sprintf("s3://%s/%s", s.bucket, key),
				}
				if !yield(src, nil) {
					return
				}
			}
		}
	}
}

func (s *Source) download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3 object %s: %w", key, err)
	}
	return body, nil
}

// Done is a no-op; the ingestion ledger keeps objects from being indexed twice.
func (s *Source) Done(context.Context, document.Domain, document.Source) error { return nil }
