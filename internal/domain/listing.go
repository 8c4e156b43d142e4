package domain

import "fmt"

// SourceItem — товар в каталоге поставщика.
type SourceItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       int64    `json:"price"`
	Category    string   `json:"category,omitempty"`
	Images      []string `json:"images,omitempty"`
	Stock       int      `json:"stock"`
}

// Listing — данные листинга для регистрации в маркетплейсе.
type Listing struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	SalePrice         int64    `json:"sale_price"`
	Stock             int      `json:"stock"`
	CategoryID        string   `json:"category_id"`
	SellerProductCode string   `json:"seller_product_code"`
	Images            []string `json:"images,omitempty"`
	RepresentativeURL string   `json:"representative_image_url,omitempty"`
}

// SellerCode возвращает код продавца для товара каталога.
func SellerCode(sourceID string) string {
	return fmt.Sprintf("DG-%s", sourceID)
}
