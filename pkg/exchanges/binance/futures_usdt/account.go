package futures_usdt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"leverage-core/pkg/errors"
)

// GetBalance returns futures wallet balances per asset.
func (c *Client) GetBalance(ctx context.Context) ([]FuturesBalance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var bal []FuturesBalance
	if err := json.Unmarshal(body, &bal); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "decode balance", err)
	}
	return bal, nil
}

// GetPositions returns the position risk view; symbol is optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var pos []PositionRisk
	if err := json.Unmarshal(body, &pos); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "decode positions", err)
	}
	return pos, nil
}

// SetLeverage sets the initial leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// GetCommissionRate returns the maker and taker rates for a symbol.
func (c *Client) GetCommissionRate(ctx context.Context, symbol string) (CommissionRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/commissionRate", params)
	if err != nil {
		return CommissionRate{}, err
	}
	var rate CommissionRate
	if err := json.Unmarshal(body, &rate); err != nil {
		return CommissionRate{}, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "decode commission rate", err)
	}
	return rate, nil
}
