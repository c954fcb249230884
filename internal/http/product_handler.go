package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/craft_market/internal/catalog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]*catalog.Product, error)
}

type ProductHandler struct {
	products ProductLister
	timeout  time.Duration
	log      *zap.Logger
}

func NewProductHandler(products ProductLister, timeout time.Duration, log *zap.Logger) *ProductHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductHandler{
		products: products,
		timeout:  timeout,
		log:      log.Named("product_handler"),
	}
}

type ProductResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	AvailableStock int             `json:"available_stock"`
	SellerID       string          `json:"seller_id"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

// GET /api/v1/products
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.products.ListProducts(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	products := make([]ProductResponse, len(res))
	for i, p := range res {
		products[i] = ProductResponse{
			ID:             p.ID,
			Name:           p.Name,
			Price:          p.Price,
			AvailableStock: p.AvailableStock,
			SellerID:       p.SellerID,
		}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}
