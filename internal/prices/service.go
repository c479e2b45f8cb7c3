package prices

import (
	"net/http"

	"pricefeed/internal/exchange"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PricesService serves the query contract over HTTP:
//
//	GET /api/prices?pair=BTC/USDT&exchange=binance
type PricesService struct {
	table *Table
}

func NewPricesService(table *Table) *PricesService {
	return &PricesService{table: table}
}

func (s *PricesService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
		return
	}

	q := r.URL.Query()
	result, err := Query(s.table.Snapshot(), Filter{
		Pair:     q.Get("pair"),
		Exchange: q.Get("exchange"),
	})

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, ErrNoPriceData), errors.Is(err, exchange.ErrInvalidPairFormat):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		log.Errorf("query prices: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		log.Errorf("encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
