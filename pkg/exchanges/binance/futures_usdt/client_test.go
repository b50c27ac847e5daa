package futures_usdt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/pkg/errors"
	"leverage-core/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL, RequestsPerSecond: 1000}, nil)
}

func TestSubmitOrderSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NoError(t, r.ParseForm())

		sig := r.PostForm.Get("signature")
		unsigned := url.Values{}
		for k, v := range r.PostForm {
			if k != "signature" {
				unsigned[k] = v
			}
		}
		assert.Equal(t, sign(unsigned.Encode(), "secret"), sig)
		assert.Equal(t, "BTCUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "0.015", r.PostForm.Get("quantity"))
		assert.Empty(t, r.PostForm.Get("price"))

		w.Header().Set("X-MBX-USED-WEIGHT-1M", "10")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"ORD_1","side":"BUY","status":"FILLED","origQty":"0.015","executedQty":"0.015","avgPrice":"50010.5","updateTime":1700000000000}`))
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 0.015, ClientID: "ORD_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", res.ExchangeOrderID)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.Equal(t, 50010.5, res.AvgPrice)
	assert.Equal(t, 0.015, res.ExecutedQty)

	used, limit, _ := c.Usage()
	assert.Equal(t, 10, used)
	assert.Equal(t, 2400, limit)
}

func TestLimitOrderCarriesPriceAndTIF(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "49000", r.PostForm.Get("price"))
		assert.Equal(t, "GTC", r.PostForm.Get("timeInForce"))
		_, _ = w.Write([]byte(`{"orderId":1,"status":"NEW"}`))
	})
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1, Price: 49000,
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusNew, res.Status)
}

func TestAPIErrorIsDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExchangeRequestFailed))
	assert.Contains(t, err.Error(), "Margin is insufficient.")
}

func TestSignedCallsRequireKeys(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.GetBalance(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestTickerAndBalanceDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/ticker/24hr":
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			assert.Empty(t, r.URL.Query().Get("signature"))
			_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","lastPrice":"3000.10","bidPrice":"3000.00","askPrice":"3000.20","highPrice":"3100","lowPrice":"2900","volume":"12345.6","priceChangePercent":"1.25","closeTime":1700000000000}`))
		case "/fapi/v2/balance":
			assert.NotEmpty(t, r.URL.Query().Get("signature"))
			_, _ = w.Write([]byte(`[{"asset":"USDT","balance":"1000.5","availableBalance":"800.25","crossUnPnl":"-3"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tk, err := c.Ticker24h(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3000.10, ParseFloat(tk.LastPrice))
	assert.Equal(t, 12345.6, ParseFloat(tk.Volume))

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, bal, 1)
	assert.Equal(t, 800.25, ParseFloat(bal[0].AvailableBalance))
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "0.0001", formatFloat(0.0001))
	assert.Equal(t, "50000", formatFloat(50000))
	assert.Zero(t, ParseFloat(""))
	assert.Zero(t, ParseFloat("abc"))
	assert.Equal(t, common.StatusPartial, mapStatus("PARTIALLY_FILLED"))
	assert.Equal(t, common.StatusUnknown, mapStatus("weird"))
}
