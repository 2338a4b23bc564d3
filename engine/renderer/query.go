package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// QueryPool holds Count queries of one type. Results are resolved into a
// buffer as one uint64 per query.
type QueryPool struct {
	desc   metadata.QueryPoolDesc
	native interface{}
}

func (r *Renderer) AddQueryPool(desc metadata.QueryPoolDesc) (*QueryPool, error) {
	if err := r.assert.Check(desc.Count > 0, core.ErrInvalidArgument, "query pool needs at least one query"); err != nil {
		return nil, err
	}
	native, err := r.device.CreateQueryPool(desc)
	if err != nil {
		return nil, errors.Wrap(err, "creating query pool")
	}
	return &QueryPool{desc: desc, native: native}, nil
}

func (p *QueryPool) Type() metadata.QueryType {
	return p.desc.Type
}

func (p *QueryPool) Count() uint32 {
	return p.desc.Count
}

func (r *Renderer) RemoveQueryPool(p *QueryPool) {
	if p == nil || p.native == nil {
		return
	}
	r.device.DestroyQueryPool(p.native)
	p.native = nil
}
