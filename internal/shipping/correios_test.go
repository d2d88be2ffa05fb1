package shipping

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorreiosCarrier_Rate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		assert.Equal(t, "01310100", r.URL.Query().Get("cepOrigem"))
		assert.Equal(t, "20040020", r.URL.Query().Get("cepDestino"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/preco/v1/nacional/04510":
			assert.Equal(t, "1000", r.URL.Query().Get("psObjeto"))
			assert.Equal(t, "30", r.URL.Query().Get("comprimento"))
			_, _ = w.Write([]byte(`{"coProduto":"04510","pcFinal":"15,50"}`))
		case "/prazo/v1/nacional/04510":
			_, _ = w.Write([]byte(`{"coProduto":"04510","prazoEntrega":8}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewCorreiosCarrier(srv.URL+"/", "tkn", srv.Client())
	rate, err := c.Rate(context.Background(), RateRequest{
		Service: ServicePAC, OriginCEP: "01310100", DestCEP: "20040020", WeightG: 1000,
		Dims: Dimensions{LengthCM: 30, WidthCM: 15, HeightCM: 20},
	})
	require.NoError(t, err)
	assert.True(t, rate.Price.Equal(decimal.RequireFromString("15.50")))
	assert.Equal(t, 8, rate.ETADays)
}

func TestCorreiosCarrier_BusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coProduto":"04014","pcFinal":"0,00","txErro":"Servico indisponivel para o trecho"}`))
	}))
	defer srv.Close()

	_, err := NewCorreiosCarrier(srv.URL, "", nil).Rate(context.Background(), RateRequest{Service: ServiceSEDEX})
	var ce *CarrierError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ServiceSEDEX, ce.Service)
	assert.Contains(t, ce.Message, "indisponivel")
}

func TestCorreiosCarrier_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"msgs":["gateway down"]}`))
	}))
	defer srv.Close()

	_, err := NewCorreiosCarrier(srv.URL, "", nil).Rate(context.Background(), RateRequest{Service: ServicePAC})
	var ce *CarrierError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadGateway, ce.StatusCode)
	assert.Equal(t, "gateway down", ce.Message)
}

func TestParsePrice(t *testing.T) {
	for in, want := range map[string]string{"15,50": "15.5", "1.234,56": "1234.56", "99.90": "99.9"} {
		got, err := parsePrice(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), in)
	}
	_, err := parsePrice("abc")
	assert.Error(t, err)
}
