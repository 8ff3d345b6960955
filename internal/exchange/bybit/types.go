package bybit

import (
	"encoding/json"
	"strconv"
)

// apiResponse is the v5 envelope every endpoint returns
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// numeric handles Bybit's string-encoded numbers ("" decodes to 0)
type numeric string

func (n numeric) Float64() float64 {
	if n == "" {
		return 0
	}
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return v
}

type walletBalanceResult struct {
	List []struct {
		Coin []struct {
			Coin          string  `json:"coin"`
			WalletBalance numeric `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

type positionListResult struct {
	List []struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Size          numeric `json:"size"`
		AvgPrice      numeric `json:"avgPrice"`
		UnrealisedPnl numeric `json:"unrealisedPnl"`
		Leverage      numeric `json:"leverage"`
	} `json:"list"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderListResult struct {
	List []struct {
		OrderID   string  `json:"orderId"`
		Symbol    string  `json:"symbol"`
		Side      string  `json:"side"`
		OrderType string  `json:"orderType"`
		Qty       numeric `json:"qty"`
		Price     numeric `json:"price"`
	} `json:"list"`
}

type tickerListResult struct {
	List []struct {
		Symbol    string  `json:"symbol"`
		LastPrice numeric `json:"lastPrice"`
		Bid1Price numeric `json:"bid1Price"`
		Ask1Price numeric `json:"ask1Price"`
	} `json:"list"`
}
