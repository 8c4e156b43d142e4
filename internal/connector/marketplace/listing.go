package marketplace

import (
	"time"
	"unicode/utf8"

	"github.com/shaiso/storebridge/internal/domain"
)

// Ограничения листинга маркетплейса.
const (
	MaxNameRunes = 100
	MaxImages    = 10
)

// DefaultCategoryID — категория, если у товара нет сопоставления.
const DefaultCategoryID = "50000000"

// BuildListing готовит листинг из товара каталога: обрезает название,
// ограничивает число изображений, проставляет код продавца.
func BuildListing(src domain.SourceItem, categoryID string) domain.Listing {
	if categoryID == "" {
		categoryID = DefaultCategoryID
	}
	images := src.Images
	if len(images) > MaxImages {
		images = images[:MaxImages]
	}
	return domain.Listing{
		Name:              truncateRunes(src.Name, MaxNameRunes),
		Description:       src.Description,
		SalePrice:         src.Price,
		Stock:             src.Stock,
		CategoryID:        categoryID,
		SellerProductCode: domain.SellerCode(src.ID),
		Images:            append([]string(nil), images...),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

type productRequest struct {
	OriginProduct originProduct `json:"originProduct"`
}

type originProduct struct {
	Name              string       `json:"name"`
	SalePrice         int64        `json:"salePrice"`
	StockQuantity     int          `json:"stockQuantity"`
	CategoryID        string       `json:"categoryId"`
	DetailContent     string       `json:"detailContent"`
	SaleType          string       `json:"saleType"`
	SaleStartDate     string       `json:"saleStartDate"`
	SellerProductCode string       `json:"sellerProductCode"`
	Images            productImage `json:"images"`
}

type productImage struct {
	Representative imageURL   `json:"representativeImage"`
	Optional       []imageURL `json:"optionalImages,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func toProductRequest(l domain.Listing, now time.Time) productRequest {
	img := productImage{}
	rest := l.Images
	if l.RepresentativeURL != "" {
		img.Representative = imageURL{URL: l.RepresentativeURL}
		if len(rest) > 0 {
			rest = rest[1:]
		}
	} else if len(rest) > 0 {
		img.Representative = imageURL{URL: rest[0]}
		rest = rest[1:]
	}
	for _, u := range rest {
		img.Optional = append(img.Optional, imageURL{URL: u})
	}

	return productRequest{OriginProduct: originProduct{
		Name:              l.Name,
		SalePrice:         l.SalePrice,
		StockQuantity:     l.Stock,
		CategoryID:        l.CategoryID,
		DetailContent:     l.Description,
		SaleType:          "NEW",
		SaleStartDate:     now.Format(time.RFC3339),
		SellerProductCode: l.SellerProductCode,
		Images:            img,
	}}
}
