package models

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	chronotls "github.com/HatiCode/chronocast/pkg/tls"
)

// grpcService is the fully qualified inference service name.
const grpcService = "/chronocast.inference.v1.Inference/"

var grpcMethods = map[string]string{
	methodLoad:      grpcService + "Load",
	methodPredict:   grpcService + "Predict",
	methodPredictDF: grpcService + "PredictDF",
}

// GRPCBackend talks to an inference server over gRPC. Every method is a unary
// call taking and returning a google.protobuf.Struct whose fields match the
// HTTPBackend JSON contract.
type GRPCBackend struct {
	remote
	conn *grpc.ClientConn
}

// NewGRPCBackend creates a backend for the server at addr (host:port). The
// connection is established lazily by the gRPC runtime.
func NewGRPCBackend(addr string, opts Options) (*GRPCBackend, error) {
	opts = opts.withDefaults()

	creds := insecure.NewCredentials()
	if opts.TLS.Enabled {
		tlsCfg, err := chronotls.NewClientTLSConfig(opts.TLS.CertFile, opts.TLS.KeyFile, opts.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("grpc backend: %w", err)
		}
		creds = credentials.NewTLS(tlsCfg)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("grpc backend: %w", err)
	}

	logger := opts.Logger.With("backend", "grpc")
	opts.Logger = logger
	tr := &grpcTransport{conn: conn, timeout: opts.Timeout}
	return &GRPCBackend{
		remote: remote{
			transport: newBreakerTransport("grpc:"+addr, tr, opts),
			logger:    logger,
		},
		conn: conn,
	}, nil
}

// Close releases the connection.
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

type grpcTransport struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func (t *grpcTransport) call(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	req, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, grpcMethods[method], req, resp); err != nil {
		return nil, err
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}
