package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls EscrowService over gRPC with the JSON codec. The HTTP gateway
// uses it to proxy requests.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials target lazily. Extra options are appended to the defaults.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Codec{}.Name())),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Call invokes method with req and decodes into resp. Domain errors come
// back as *errs.Error.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	return FromStatus(c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp))
}

func (c *Client) Close() error { return c.conn.Close() }
