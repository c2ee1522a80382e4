// Package blend combines the real-time safety index and the MCDM ranking
// under a caller-supplied mixing coefficient.
package blend

import (
	"fmt"
)

// Provider lazily evaluates one sub-score. The blender only invokes the
// providers it needs: at α=0 the RT-SI provider is never called, at α=1
// the MCDM provider is never called. This is a performance contract —
// RT-SI is the expensive path — not an optimization hint.
type Provider func() (float64, error)

// Result is the blended score. RTSI and MCDM are nil when the boundary
// fast path skipped their evaluation; nil means "not computed for this
// request" and is distinct from a concrete 0.0, which is a valid
// maximum-danger signal. Never test these fields by truthiness.
type Result struct {
	Final float64  `json:"final"`
	Alpha float64  `json:"alpha"`
	RTSI  *float64 `json:"rtsi,omitempty"`
	MCDM  *float64 `json:"mcdm,omitempty"`
}

// Blend computes α·RTSI + (1−α)·MCDM. α must lie in [0,1].
func Blend(alpha float64, rtsi, mcdm Provider) (Result, error) {
	if alpha < 0 || alpha > 1 {
		return Result{}, fmt.Errorf("alpha %f outside [0,1]", alpha)
	}
	res := Result{Alpha: alpha}

	if alpha == 0 {
		m, err := mcdm()
		if err != nil {
			return Result{}, err
		}
		res.MCDM = &m
		res.Final = m
		return res, nil
	}
	if alpha == 1 {
		r, err := rtsi()
		if err != nil {
			return Result{}, err
		}
		res.RTSI = &r
		res.Final = r
		return res, nil
	}

	r, err := rtsi()
	if err != nil {
		return Result{}, err
	}
	m, err := mcdm()
	if err != nil {
		return Result{}, err
	}
	res.RTSI = &r
	res.MCDM = &m
	res.Final = alpha*r + (1-alpha)*m
	return res, nil
}
