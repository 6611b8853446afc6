package pricing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the selling-mode tag of a product.
type Mode string

const (
	ModePiece   Mode = "piece"
	ModeWhole   Mode = "whole"
	ModePackage Mode = "package"
	ModeBundle  Mode = "bundle"
)

// Valid reports whether m is one of the known selling modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePiece, ModeWhole, ModePackage, ModeBundle:
		return true
	}
	return false
}

// ParseMode normalises s into a Mode. Empty input yields ("", true) so callers
// can treat it as "no override".
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return "", true
	}
	return m, m.Valid()
}

// Policy selects how a composite derives its unit price.
type Policy string

const (
	PolicyManual Policy = "manual"
	PolicyAuto   Policy = "auto"
)

// Tier is a per-unit quantity discount used by piece pricing.
type Tier struct {
	MinQty      int     `json:"minQty" validate:"gte=1"`
	DiscountPct float64 `json:"discountPct" validate:"gte=0,lte=100"`
}

// Rule is an aggregate quantity discount used by bundle pricing.
type Rule struct {
	MinTotalQty int     `json:"minTotalQty" validate:"gte=1"`
	DiscountPct float64 `json:"discountPct" validate:"gte=0,lte=100"`
}

// Size is one named variant of a whole product.
type Size struct {
	Label string `json:"label" validate:"required"`
	Price Money  `json:"price" validate:"gte=0"`
	Cost  Money  `json:"cost" validate:"gte=0"`
}

// Component references another catalog product inside a package or bundle.
type Component struct {
	ProductID string `json:"productId" validate:"required"`
	Qty       int    `json:"qty" validate:"gte=1"`
}

// PriceMatrix is the closed set of pricing shapes. The concrete types are
// PieceMatrix, WholeMatrix, PackageMatrix and BundleMatrix.
type PriceMatrix interface {
	Mode() Mode
	isPriceMatrix()
}

// PieceMatrix prices a product per unit with optional quantity tiers.
type PieceMatrix struct {
	PricePerUnit Money  `json:"pricePerUnit" validate:"gte=0"`
	CostPerUnit  Money  `json:"costPerUnit" validate:"gte=0"`
	MinQty       int    `json:"minQty,omitempty" validate:"gte=0"`
	Tiers        []Tier `json:"tiers,omitempty" validate:"dive"`
}

// WholeMatrix prices a discrete item by size variant.
type WholeMatrix struct {
	Sizes []Size `json:"sizes" validate:"dive"`
}

// PackageMatrix prices a fixed bill of components with a flat discount.
type PackageMatrix struct {
	Name        string      `json:"name,omitempty"`
	Policy      Policy      `json:"priceType" validate:"oneof=manual auto"`
	Price       Money       `json:"price,omitempty" validate:"gte=0"`
	DiscountPct float64     `json:"discountPct,omitempty" validate:"gte=0,lte=100"`
	Components  []Component `json:"components" validate:"dive"`
}

// BundleMatrix prices a flexible bill of components with quantity rules.
type BundleMatrix struct {
	Policy     Policy      `json:"priceType" validate:"oneof=manual auto"`
	Price      Money       `json:"price,omitempty" validate:"gte=0"`
	Components []Component `json:"components" validate:"dive"`
	Rules      []Rule      `json:"rules,omitempty" validate:"dive"`
}

func (PieceMatrix) Mode() Mode   { return ModePiece }
func (WholeMatrix) Mode() Mode   { return ModeWhole }
func (PackageMatrix) Mode() Mode { return ModePackage }
func (BundleMatrix) Mode() Mode  { return ModeBundle }

func (PieceMatrix) isPriceMatrix()   {}
func (WholeMatrix) isPriceMatrix()   {}
func (PackageMatrix) isPriceMatrix() {}
func (BundleMatrix) isPriceMatrix()  {}

// Product is an immutable catalog record.
type Product struct {
	ID     string      `json:"id" validate:"required"`
	Name   string      `json:"name" validate:"required"`
	Mode   Mode        `json:"sellingMode" validate:"oneof=piece whole package bundle"`
	Matrix PriceMatrix `json:"-" validate:"-"`
	// FlatPrice is the legacy declared price, only consulted by the
	// mode-mismatch estimate.
	FlatPrice *Money `json:"price,omitempty"`
}

// Components returns the component list of a composite product, or nil.
func (p Product) Components() []Component {
	switch m := p.Matrix.(type) {
	case PackageMatrix:
		return m.Components
	case BundleMatrix:
		return m.Components
	}
	return nil
}

type productWire struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Mode      Mode            `json:"sellingMode"`
	FlatPrice *Money          `json:"price,omitempty"`
	Matrix    json.RawMessage `json:"priceMatrix,omitempty"`
}

// MarshalJSON writes the matrix with its "type" discriminator.
func (p Product) MarshalJSON() ([]byte, error) {
	matrix, err := encodeMatrix(p.Matrix)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return json.Marshal(productWire{
		ID:        p.ID,
		Name:      p.Name,
		Mode:      p.Mode,
		FlatPrice: p.FlatPrice,
		Matrix:    matrix,
	})
}

// UnmarshalJSON decodes the matrix according to its "type" field. An unknown
// or missing type leaves Matrix nil.
func (p *Product) UnmarshalJSON(data []byte) error {
	var wire productWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	matrix, err := decodeMatrix(wire.Matrix)
	if err != nil {
		return fmt.Errorf("product %s: %w", wire.ID, err)
	}
	*p = Product{
		ID:        wire.ID,
		Name:      wire.Name,
		Mode:      Mode(strings.ToLower(strings.TrimSpace(string(wire.Mode)))),
		FlatPrice: wire.FlatPrice,
		Matrix:    matrix,
	}
	return nil
}

func encodeMatrix(m PriceMatrix) (json.RawMessage, error) {
	switch v := m.(type) {
	case nil:
		return nil, nil
	case PieceMatrix:
		return json.Marshal(struct {
			Type Mode `json:"type"`
			PieceMatrix
		}{ModePiece, v})
	case WholeMatrix:
		return json.Marshal(struct {
			Type Mode `json:"type"`
			WholeMatrix
		}{ModeWhole, v})
	case PackageMatrix:
		return json.Marshal(struct {
			Type Mode `json:"type"`
			PackageMatrix
		}{ModePackage, v})
	case BundleMatrix:
		return json.Marshal(struct {
			Type Mode `json:"type"`
			BundleMatrix
		}{ModeBundle, v})
	default:
		return nil, fmt.Errorf("unsupported price matrix %T", m)
	}
}

func decodeMatrix(raw json.RawMessage) (PriceMatrix, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode price matrix: %w", err)
	}
	switch Mode(strings.ToLower(strings.TrimSpace(head.Type))) {
	case ModePiece:
		var m PieceMatrix
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode piece matrix: %w", err)
		}
		return m, nil
	case ModeWhole:
		var m WholeMatrix
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode whole matrix: %w", err)
		}
		return m, nil
	case ModePackage:
		var m PackageMatrix
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode package matrix: %w", err)
		}
		return m, nil
	case ModeBundle:
		var m BundleMatrix
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode bundle matrix: %w", err)
		}
		return m, nil
	}
	return nil, nil
}
