package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CorreiosCarrier talks to the carrier's REST price and deadline APIs.
type CorreiosCarrier struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewCorreiosCarrier(baseURL, token string, client *http.Client) *CorreiosCarrier {
	if client == nil {
		client = &http.Client{}
	}
	return &CorreiosCarrier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
	}
}

type priceResponse struct {
	CoProduto string   `json:"coProduto"`
	PcFinal   string   `json:"pcFinal"`
	TxErro    string   `json:"txErro"`
	Msgs      []string `json:"msgs"`
}

type deadlineResponse struct {
	CoProduto    string   `json:"coProduto"`
	PrazoEntrega int      `json:"prazoEntrega"`
	TxErro       string   `json:"txErro"`
	Msgs         []string `json:"msgs"`
}

func (c *CorreiosCarrier) Rate(ctx context.Context, req RateRequest) (CarrierRate, error) {
	pq := url.Values{}
	pq.Set("cepOrigem", req.OriginCEP)
	pq.Set("cepDestino", req.DestCEP)
	pq.Set("psObjeto", strconv.Itoa(req.WeightG))
	pq.Set("tpObjeto", "2") // box
	pq.Set("comprimento", strconv.Itoa(req.Dims.LengthCM))
	pq.Set("largura", strconv.Itoa(req.Dims.WidthCM))
	pq.Set("altura", strconv.Itoa(req.Dims.HeightCM))

	var price priceResponse
	if err := c.get(ctx, req.Service, "/preco/v1/nacional/"+url.PathEscape(req.Service), pq, &price); err != nil {
		return CarrierRate{}, err
	}
	if msg := businessError(price.TxErro, price.Msgs); msg != "" {
		return CarrierRate{}, &CarrierError{Service: req.Service, Message: msg}
	}
	amount, err := parsePrice(price.PcFinal)
	if err != nil {
		return CarrierRate{}, &CarrierError{Service: req.Service, Message: fmt.Sprintf("bad price %q", price.PcFinal)}
	}

	dq := url.Values{}
	dq.Set("cepOrigem", req.OriginCEP)
	dq.Set("cepDestino", req.DestCEP)

	var deadline deadlineResponse
	if err := c.get(ctx, req.Service, "/prazo/v1/nacional/"+url.PathEscape(req.Service), dq, &deadline); err != nil {
		return CarrierRate{}, err
	}
	if msg := businessError(deadline.TxErro, deadline.Msgs); msg != "" {
		return CarrierRate{}, &CarrierError{Service: req.Service, Message: msg}
	}

	return CarrierRate{Price: amount, ETADays: deadline.PrazoEntrega}, nil
}

func (c *CorreiosCarrier) get(ctx context.Context, service, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Msgs []string `json:"msgs"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && len(e.Msgs) > 0 {
			msg = strings.Join(e.Msgs, "; ")
		}
		return &CarrierError{Service: service, StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &CarrierError{Service: service, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func businessError(tx string, msgs []string) string {
	if tx = strings.TrimSpace(tx); tx != "" {
		return tx
	}
	return strings.TrimSpace(strings.Join(msgs, "; "))
}

// parsePrice accepts both "1.234,56" and "1234.56".
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}
