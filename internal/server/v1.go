package server

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
	v1 "k8s.io/externaljwt/apis/v1"
)

type V1Server struct {
	v1.UnimplementedExternalJWTSignerServer

	logger *slog.Logger
	b      *Backend
}

func NewV1Server(logger *slog.Logger, b *Backend) *V1Server {
	return &V1Server{
		logger: logger,
		b:      b,
	}
}

func (svr *V1Server) Sign(ctx context.Context, req *v1.SignJWTRequest) (*v1.SignJWTResponse, error) {
	logger := svr.logger.With(slog.String("method", "Sign"))

	signed, err := svr.b.Issuer.SignClaims(ctx, req.Claims)
	if err != nil {
		logger.Error("failed to sign JWT", slog.Any("error", err))
		svr.b.Metrics.IssueFailures.Inc()
		return nil, status.Errorf(codes.Internal, "not able to sign JWT")
	}
	svr.b.Metrics.TokensIssued.WithLabelValues("grpc", "false").Inc()

	logger.Info("signed JWT", slog.String("key-id", signed.KeyID))

	return &v1.SignJWTResponse{
		Header:    signed.Header,
		Signature: signed.Signature,
	}, nil
}

func (svr *V1Server) FetchKeys(ctx context.Context, req *v1.FetchKeysRequest) (*v1.FetchKeysResponse, error) {
	logger := svr.logger.With(slog.String("method", "FetchKeys"))

	publicKeys, err := svr.b.Publisher.PublicKeys(svr.b.now())
	if err != nil {
		logger.Error("failed to fetch keys", slog.Any("error", err))
		return nil, status.Errorf(codes.Internal, "not able to fetch keys")
	}

	keys := make([]*v1.Key, 0, len(publicKeys))
	keyIDs := make([]string, 0, len(publicKeys))
	for _, publicKey := range publicKeys {
		keys = append(keys, &v1.Key{
			KeyId:                    publicKey.KeyID,
			Key:                      publicKey.Key,
			ExcludeFromOidcDiscovery: false,
		})
		keyIDs = append(keyIDs, publicKey.KeyID)
	}

	rv := &v1.FetchKeysResponse{
		Keys:               keys,
		DataTimestamp:      timestamppb.New(svr.b.dataTimestamp()),
		RefreshHintSeconds: svr.b.refreshHintSeconds(),
	}

	logger.Info("fetched keys",
		slog.Int("num-keys", len(keys)),
		slog.Any("key-ids", keyIDs),
		slog.Time("data-timestamp", rv.DataTimestamp.AsTime()),
		slog.Int64("refresh-hint-seconds", rv.RefreshHintSeconds),
	)

	return rv, nil
}

func (svr *V1Server) Metadata(ctx context.Context, req *v1.MetadataRequest) (*v1.MetadataResponse, error) {
	logger := svr.logger.With(slog.String("method", "Metadata"))

	rv := &v1.MetadataResponse{
		MaxTokenExpirationSeconds: int64(svr.b.Issuer.TokenValidity().Seconds()),
	}
	logger.Info("fetched metadata", slog.Int64("max-token-expiration-seconds", rv.MaxTokenExpirationSeconds))

	return rv, nil
}
