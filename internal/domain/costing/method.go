package costing

import (
	"context"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
)

// Method identifies a costing policy. Exactly two methods are supported;
// the set is closed by design.
type Method string

const (
	MethodFIFO            Method = "fifo"
	MethodWeightedAverage Method = "weighted_average"
)

// Valid reports whether the method is a recognized value.
func (m Method) Valid() bool {
	return m == MethodFIFO || m == MethodWeightedAverage
}

// ParseMethod converts a string to a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", apperror.NewValidation("unknown costing method").WithDetail("method", s)
	}
	return m, nil
}

// Resolver supplies the costing configuration for products. The mapping is
// owned by an external collaborator; the engine resolves it once per
// operation and never caches the result, so configuration changes take
// effect on the next call.
type Resolver interface {
	// ResolveMethod returns the active costing method for a product.
	ResolveMethod(ctx context.Context, productID id.ID) (Method, error)

	// AllowNegativeStock reports whether issues may drive the pair's
	// on-hand quantity below zero.
	AllowNegativeStock(ctx context.Context, productID, warehouseID id.ID) (bool, error)
}

// StaticResolver resolves methods with product -> category -> organization
// default fallback from in-memory maps. Suitable for tests and for embedding
// a pre-resolved configuration snapshot.
type StaticResolver struct {
	ProductMethods  map[id.ID]Method
	ProductCategory map[id.ID]id.ID
	CategoryMethods map[id.ID]Method
	DefaultMethod   Method

	NegativeStock bool
}

// NewStaticResolver creates a resolver with the given organization default.
func NewStaticResolver(defaultMethod Method) *StaticResolver {
	return &StaticResolver{
		ProductMethods:  make(map[id.ID]Method),
		ProductCategory: make(map[id.ID]id.ID),
		CategoryMethods: make(map[id.ID]Method),
		DefaultMethod:   defaultMethod,
	}
}

// ResolveMethod implements Resolver.
func (r *StaticResolver) ResolveMethod(ctx context.Context, productID id.ID) (Method, error) {
	if m, ok := r.ProductMethods[productID]; ok {
		if !m.Valid() {
			return "", apperror.NewConfigurationConflict(productID.String(), string(m))
		}
		return m, nil
	}

	if cat, ok := r.ProductCategory[productID]; ok {
		if m, ok := r.CategoryMethods[cat]; ok {
			if !m.Valid() {
				return "", apperror.NewConfigurationConflict(productID.String(), string(m))
			}
			return m, nil
		}
	}

	if !r.DefaultMethod.Valid() {
		return "", apperror.NewConfigurationConflict(productID.String(), string(r.DefaultMethod))
	}
	return r.DefaultMethod, nil
}

// AllowNegativeStock implements Resolver.
func (r *StaticResolver) AllowNegativeStock(ctx context.Context, productID, warehouseID id.ID) (bool, error) {
	return r.NegativeStock, nil
}
