// internal/rpc/client.go
package rpc

import (
	"context"

	"priceest/internal/model"

	"google.golang.org/grpc"
)

// Client 는 PriceEstimation 서비스의 얇은 클라이언트. 호출마다 JSON codec 을 강제한다.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) EstimatePrice(ctx context.Context, req *model.EstimatePriceRequest, opts ...grpc.CallOption) (*model.EstimatePriceResponse, error) {
	out := new(model.EstimatePriceResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := c.conn.Invoke(ctx, FullMethodEstimatePrice, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
