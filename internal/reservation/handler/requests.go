package handler

import (
	"strings"

	id "boxoffice/pkg/domain"
	dErrors "boxoffice/pkg/domain-errors"
)

// ReserveRequest is the HTTP request body for POST /reservations.
type ReserveRequest struct {
	BuyerID    string `json:"buyer_id"`
	CategoryID string `json:"category_id"`
	Quantity   int    `json:"quantity"`

	// Parsed values (populated by Validate)
	parsedBuyerID    id.BuyerID
	parsedCategoryID id.CategoryID
}

// Validate parses identifiers and checks the quantity shape. Implements the
// Validatable interface for httputil.DecodeAndPrepare. Limits are enforced by
// the service.
func (r *ReserveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	buyerID, err := id.ParseBuyerID(strings.TrimSpace(r.BuyerID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "buyer_id must be a valid UUID")
	}
	r.parsedBuyerID = buyerID

	categoryID, err := id.ParseCategoryID(strings.TrimSpace(r.CategoryID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "category_id must be a valid UUID")
	}
	r.parsedCategoryID = categoryID

	if r.Quantity < 1 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be at least 1")
	}
	return nil
}

func (r *ReserveRequest) ParsedBuyerID() id.BuyerID {
	return r.parsedBuyerID
}

func (r *ReserveRequest) ParsedCategoryID() id.CategoryID {
	return r.parsedCategoryID
}
