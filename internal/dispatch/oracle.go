package dispatch

import (
	"context"
	"fmt"
	"math/big"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/contracts"
)

// contractOracle 通过命名集成合约的 rentPrice 查询价格。
type contractOracle struct {
	conn Connection
}

// OracleFor 返回基于连接快照的价格预言机。
func OracleFor(conn Connection) action.PriceOracle {
	return contractOracle{conn: conn}
}

func (o contractOracle) RentPrice(ctx context.Context, name string, durationSeconds *big.Int) (*big.Int, error) {
	if o.conn == nil {
		return nil, fmt.Errorf("no connection for price lookup")
	}
	integration, err := o.conn.Contract(contracts.FlowENSIntegration)
	if err != nil {
		return nil, err
	}
	out, err := integration.Call(ctx, "rentPrice", name, durationSeconds)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rentPrice returned no value")
	}
	price, ok := out[0].(*big.Int)
	if !ok || price == nil {
		return nil, fmt.Errorf("rentPrice returned %T", out[0])
	}
	return price, nil
}
