package main

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ballarena/server/internal/config"
	"ballarena/server/internal/logging"
)

const sharedSecretMetadataKey = "x-arena-shared-secret"

// spectatorServerOptions returns the grpc.Server options for the configured auth mode.
func spectatorServerOptions(cfg *config.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	switch cfg.GRPCAuthMode {
	case config.GRPCAuthModeNone:
		logger.Warn("gRPC spectator stream is unauthenticated")
		return nil, nil
	case config.GRPCAuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.GRPCServerCertPath, cfg.GRPCServerKeyPath, cfg.GRPCClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("gRPC mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case config.GRPCAuthModeSharedSecret:
		logger.Info("gRPC shared-secret authentication enabled")
		return []grpc.ServerOption{grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(cfg.GRPCSharedSecret))}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.GRPCAuthMode)
	}
}

func newSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if normalized == "" {
			return status.Error(codes.Unauthenticated, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

// extractSharedSecret prefers the dedicated header and falls back to a bearer token.
func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(sharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
