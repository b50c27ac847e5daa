package futures_usdt

import (
	"context"
	"encoding/json"
	"net/url"

	"leverage-core/pkg/errors"
)

// Ticker24h returns the rolling 24h statistics for a symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/24hr", params)
	if err != nil {
		return Ticker24h{}, err
	}
	var t Ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return Ticker24h{}, errors.Wrap(errors.ErrCodeExchangeRequestFailed, "decode ticker", err)
	}
	return t, nil
}
