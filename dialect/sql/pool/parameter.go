package pool

// ParameterDirection mirrors an ADO.NET-style parameter direction; polydb
// only ever binds Input parameters today, but the field exists so a
// future stored-procedure OUT-parameter plan has somewhere to live
// without widening the Parameter struct.
type ParameterDirection int

// Recognized parameter directions.
const (
	DirectionInput ParameterDirection = iota
	DirectionOutput
	DirectionInputOutput
)

// Parameter is a reusable bound-parameter object, recycled through a
// ParameterPool to avoid per-statement allocation churn (spec.md §4.4).
type Parameter struct {
	Name      string
	Value     any
	Direction ParameterDirection
	Size      int
	Precision int
	Scale     int
	DbType    string
}

// reset restores p to its neutral, pool-ready state.
func (p *Parameter) reset() {
	p.Name = ""
	p.Value = nil
	p.Direction = DirectionInput
	p.Size = 0
	p.Precision = 0
	p.Scale = 0
	p.DbType = ""
}

// defaultParameterPoolCap is the default bound on retained *Parameter
// instances, per spec.md §4.4.
const defaultParameterPoolCap = 100

// ParameterPool is a bounded, lock-free (channel-backed) free-list of
// *Parameter instances shared by every SqlContainer on one DatabaseContext.
type ParameterPool struct {
	free chan *Parameter
	cap  int
}

// NewParameterPool returns a ParameterPool with the default capacity.
func NewParameterPool() *ParameterPool { return NewParameterPoolWithCap(defaultParameterPoolCap) }

// NewParameterPoolWithCap returns a ParameterPool bounded to capacity cap.
func NewParameterPoolWithCap(capacity int) *ParameterPool {
	if capacity <= 0 {
		capacity = defaultParameterPoolCap
	}
	return &ParameterPool{free: make(chan *Parameter, capacity), cap: capacity}
}

// Rent returns size parameters, each in a neutral state: reused from the
// free-list where available, freshly allocated otherwise.
func (p *ParameterPool) Rent(size int) []*Parameter {
	if size < 1 {
		size = 1
	}
	out := make([]*Parameter, size)
	for i := range out {
		select {
		case param := <-p.free:
			out[i] = param
		default:
			out[i] = &Parameter{}
		}
	}
	return out
}

// Return resets and pushes params back onto the free-list up to capacity;
// any excess beyond the cap is dropped, not leaked.
func (p *ParameterPool) Return(params []*Parameter) {
	for _, param := range params {
		if param == nil {
			continue
		}
		param.reset()
		select {
		case p.free <- param:
		default:
			// pool at capacity: drop.
		}
	}
}

// Len reports the number of parameters currently held in the free-list.
func (p *ParameterPool) Len() int { return len(p.free) }

// Drain empties the free-list, releasing every held *Parameter for GC.
// Called on DatabaseContext disposal.
func (p *ParameterPool) Drain() {
	for {
		select {
		case <-p.free:
		default:
			return
		}
	}
}
