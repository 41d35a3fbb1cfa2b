package domain

import "context"

// Region is a tropical cyclone basin as stored in the regions table.
type Region struct {
	ID        int64  `json:"id"`
	ShortName string `json:"short_name"` // basin code, e.g. "AL"
	LongName  string `json:"long_name"`
}

// RegionResolver looks up a region by its basin code. Implementations
// return ErrUnknownRegion when no region matches.
type RegionResolver interface {
	RegionByCode(ctx context.Context, code string) (Region, error)
}
