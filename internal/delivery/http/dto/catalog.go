package dto

import "catalog-scraper/internal/domain/catalog"

type CatalogRecordResponse struct {
	Record   catalog.Record         `json:"record"`
	Detail   *catalog.ProductDetail `json:"detail,omitempty"`
	Reviews  []catalog.Review       `json:"reviews,omitempty"`
	Children []catalog.Record       `json:"children,omitempty"`
}
