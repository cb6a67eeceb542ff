package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

// ObjectPutter is the part of *s3.Client the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads the PGN of every finished game.
type S3Exporter struct {
	client ObjectPutter
	bucket string
	names  Names
}

// NewS3Client builds a client with static credentials. A custom endpoint
// (R2, MinIO) switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Exporter(client ObjectPutter, bucket string, names Names) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, names: names}
}

// ObjectKey is pgn/<yyyy>/<mm>/<white>-vs-<black>-<id>.pgn.
func ObjectKey(g *domain.Game, p Players) string {
	at := g.LastMoveAt.UTC()
	return fmt.Sprintf("pgn/%04d/%02d/%s-vs-%s-%s.pgn",
		at.Year(), int(at.Month()), keyPart(p.White), keyPart(p.Black), g.ID)
}

func keyPart(name string) string {
	if s := slug.Make(name); s != "" {
		return s
	}
	return "anonymous"
}

func (e *S3Exporter) GameFinished(ctx context.Context, g *domain.Game) error {
	if e == nil || g == nil {
		return nil
	}
	players := ResolvePlayers(ctx, e.names, g)
	key := ObjectKey(g, players)
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(BuildPGN(g, players)),
		ContentType: aws.String("application/x-chess-pgn"),
	})
	if err != nil {
		return fmt.Errorf("upload pgn %s: %w", key, err)
	}
	obslog.L().Info("archive_pgn_exported", zap.String("game_id", g.ID), zap.String("key", key))
	return nil
}
